// Package storage keeps uploaded leaf images and their thumbnails. Two
// backends exist: a local directory (default) and an S3-compatible bucket
// such as MinIO. Objects are flat: a name is a single path segment.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// ErrNotFound is returned by Open for a name that was never stored.
var ErrNotFound = errors.New("storage: object not found")

// ErrInvalidName rejects names that could escape the store's namespace.
var ErrInvalidName = errors.New("storage: invalid object name")

// Store is the image store used by the analyze pipeline and the /uploads
// route.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) error
	// Open returns the object body and its content type. The caller closes
	// the body.
	Open(ctx context.Context, name string) (io.ReadCloser, string, error)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName reports whether name is a single safe path segment.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// URLPath is the public path under which a stored object is served.
func URLPath(name string) string {
	return "/uploads/" + name
}
