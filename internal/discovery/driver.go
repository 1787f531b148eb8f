// Package discovery implements the discovery worker pool of §4.6: one
// task per (centre, source) that walks a remote file source's three
// sub-directories and populates the tracker with ZipFile, ZipAction and
// FileSourceHasZip rows.
package discovery

import (
	"context"
	"io"
)

// Entry is one remote directory listing result.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// Driver is the abstract file-source transport capability the spec
// treats as an external collaborator (§1): list a remote directory,
// open a byte stream. Concrete transport implementations (FTP/SFTP
// client libraries) are not part of the core's contract; only this
// boundary is.
type Driver interface {
	// List lists the entries directly under path.
	List(ctx context.Context, path string) ([]Entry, error)
	// Open opens a byte stream for the remote file at path, returning
	// its declared size when known (0 otherwise).
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
	// Close releases any underlying connection.
	Close() error
}
