// Package source provides the byte-stream sources the pipeline reads images from.
//
// Streams are single use. Every consumer calls Open, reads, and closes; nothing
// assumes a stream can be rewound.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"image-picker-go/internal/imgerr"
)

// ErrNoStream is reported when a resolver hands back no stream.
var ErrNoStream = errors.New("resolver returned no stream")

// ImageSource is anything an image can be read from, possibly more than once.
type ImageSource interface {
	// Open returns a fresh stream positioned at the first byte.
	Open() (io.ReadCloser, error)
	// Name identifies the source in logs.
	Name() string
}

// OpenFunc opens the stream behind an opaque handle. A nil stream with a nil
// error means the source vanished.
type OpenFunc func(handle string) (io.ReadCloser, error)

// PathSource reads from the filesystem.
type PathSource struct {
	path string
}

// NewPathSource returns a source for a filesystem path.
func NewPathSource(path string) *PathSource {
	return &PathSource{path: path}
}

// Open opens the file.
func (s *PathSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, imgerr.New(imgerr.KindUnreadableSource, "open", s.path, err)
	}
	return f, nil
}

// Name returns the path.
func (s *PathSource) Name() string {
	return s.path
}

// Path returns the filesystem path.
func (s *PathSource) Path() string {
	return s.path
}

// ResolverSource reads through a caller supplied opener.
type ResolverSource struct {
	handle string
	open   OpenFunc
}

// NewResolverSource returns a source that opens handle through open.
func NewResolverSource(handle string, open OpenFunc) *ResolverSource {
	return &ResolverSource{handle: handle, open: open}
}

// Open asks the resolver for a new stream.
func (s *ResolverSource) Open() (io.ReadCloser, error) {
	if s.open == nil {
		return nil, imgerr.New(imgerr.KindUnreadableSource, "open", s.handle, errors.New("no resolver"))
	}
	rc, err := s.open(s.handle)
	if err != nil {
		if rc != nil {
			_ = rc.Close()
		}
		return nil, imgerr.New(imgerr.KindUnreadableSource, "open", s.handle, err)
	}
	if rc == nil {
		return nil, imgerr.New(imgerr.KindUnreadableSource, "open", s.handle, ErrNoStream)
	}
	return rc, nil
}

// Name returns the handle.
func (s *ResolverSource) Name() string {
	return s.handle
}

// Handle returns the opaque handle.
func (s *ResolverSource) Handle() string {
	return s.handle
}

// DirResolver returns an OpenFunc that treats handles as paths relative to root.
// Handles escaping root are refused.
func DirResolver(root string) OpenFunc {
	return func(handle string) (io.ReadCloser, error) {
		clean := filepath.Clean("/" + handle)
		full := filepath.Join(root, clean)
		rel, err := filepath.Rel(root, full)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("handle outside resolver root: %s", handle)
		}
		f, err := os.Open(full)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// FileResolver returns an OpenFunc that treats handles as plain filesystem paths.
func FileResolver() OpenFunc {
	return func(handle string) (io.ReadCloser, error) {
		f, err := os.Open(handle)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}
