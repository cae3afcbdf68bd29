package certificate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	doc := DocumentIdentity{Path: "/c/2024/001.pdf", ContentVersion: "v1"}
	assert.Equal(t, DeriveKey(doc), DeriveKey(doc))
}

func TestDeriveKey_ContentVersionChangesKey(t *testing.T) {
	v1 := DeriveKey(DocumentIdentity{Path: "/c/2024/001.pdf", ContentVersion: "v1"})
	v2 := DeriveKey(DocumentIdentity{Path: "/c/2024/001.pdf", ContentVersion: "v2"})
	assert.NotEqual(t, v1, v2)
}

func TestDeriveKey_PathVersionBoundary(t *testing.T) {
	// The separator keeps shifted path/version splits from colliding.
	a := DeriveKey(DocumentIdentity{Path: "/a/b", ContentVersion: "c"})
	b := DeriveKey(DocumentIdentity{Path: "/a/", ContentVersion: "bc"})
	assert.NotEqual(t, a, b)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusExtracted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusFailed, StatusPending, true},
		{StatusPending, StatusExtracted, false},
		{StatusPending, StatusFailed, false},
		{StatusExtracted, StatusProcessing, false},
		{StatusExtracted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusProcessing, StatusPending, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
