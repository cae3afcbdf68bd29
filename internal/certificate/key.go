package certificate

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key deduplicates processing attempts for one source document.
type Key string

// DeriveKey computes the idempotency key for a document identity. It is pure
// and deterministic: the same path and content version always produce the same
// key, and a re-uploaded file (new content version) produces a different one.
// The NUL separator keeps distinct (path, version) pairs from colliding.
func DeriveKey(doc DocumentIdentity) Key {
	h := sha256.New()
	h.Write([]byte(doc.Path))
	h.Write([]byte{0})
	h.Write([]byte(doc.ContentVersion))
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// Locator builds the opaque storage locator persisted on the record. Object
// store backends parse it back into path and content version.
func (d DocumentIdentity) Locator() string {
	return d.Path + "#" + d.ContentVersion
}
