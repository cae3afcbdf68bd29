// Package objectstore abstracts the external object storage holding the
// original certificate files. Locators are the opaque strings built by
// certificate.DocumentIdentity.Locator: "<path>#<contentVersion>".
package objectstore

import (
	"context"
	"strings"
	"time"
)

// Store fetches original document bytes by locator. Backends are assumed to
// provide read-after-write consistency for a given content version.
type Store interface {
	Get(ctx context.Context, locator string) ([]byte, error)
}

// URLSigner mints a time-limited URL scoped to exactly one locator. Backends
// that support native signed URLs (GCS) implement it directly; the built-in
// backend delegates to the JWT download-token issuer instead.
type URLSigner interface {
	SignURL(ctx context.Context, locator string, ttl time.Duration) (url string, expiresAt time.Time, err error)
}

// SplitLocator separates a locator into path and content version. A locator
// without a version marker returns an empty version.
func SplitLocator(locator string) (path, version string) {
	if idx := strings.LastIndex(locator, "#"); idx >= 0 {
		return locator[:idx], locator[idx+1:]
	}
	return locator, ""
}
