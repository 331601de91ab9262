// Package storage defines the blob storage abstraction used to archive
// run reports. Implementations exist for Google Cloud Storage and the
// local filesystem so the application does not depend on any single
// backend.
package storage

import (
	"context"
	"io"
)

// Provider is the common interface for a blob store. PutObject writes the
// reader's contents under the given object path and returns a URI locating
// the stored object.
type Provider interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpProvider discards every object. It is used when report archival is
// disabled and in tests.
type NoOpProvider struct{}

// PutObject drains the reader and reports success without storing anything.
func (NoOpProvider) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "noop://" + path, nil
}
