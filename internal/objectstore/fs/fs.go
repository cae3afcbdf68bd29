// Package fs backs the object store with a local directory for development
// and tests. Content versions are ignored; the directory holds one version
// per path.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"certvault/internal/objectstore"
	"certvault/pkg/platform/sentinel"
)

// Store reads documents from a root directory.
type Store struct {
	root string
}

// New creates a filesystem object store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) Get(_ context.Context, locator string) ([]byte, error) {
	path, _ := objectstore.SplitLocator(locator)
	// Reject traversal outside the root.
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("object %s: %w", locator, sentinel.ErrNotFound)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", locator, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", locator, err)
	}
	return data, nil
}
