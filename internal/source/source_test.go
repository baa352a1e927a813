package source

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-picker-go/internal/imgerr"
)

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestPathSource_OpenTwice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	src := NewPathSource(path)
	for i := 0; i < 2; i++ {
		rc, err := src.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "hello", string(data))
	}
	assert.Equal(t, path, src.Name())
}

func TestPathSource_Missing(t *testing.T) {
	src := NewPathSource(filepath.Join(t.TempDir(), "missing.jpg"))

	_, err := src.Open()
	require.Error(t, err)
	assert.True(t, errors.Is(err, imgerr.ErrUnreadableSource))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResolverSource_NilStream(t *testing.T) {
	src := NewResolverSource("content://media/1", func(string) (io.ReadCloser, error) {
		return nil, nil
	})

	_, err := src.Open()
	require.Error(t, err)
	assert.True(t, errors.Is(err, imgerr.ErrUnreadableSource))
	assert.True(t, errors.Is(err, ErrNoStream))
}

func TestResolverSource_ErrorClosesPartialStream(t *testing.T) {
	tc := &trackingCloser{Reader: bytes.NewReader(nil)}
	src := NewResolverSource("h", func(string) (io.ReadCloser, error) {
		return tc, errors.New("permission revoked")
	})

	_, err := src.Open()
	require.Error(t, err)
	assert.True(t, errors.Is(err, imgerr.ErrUnreadableSource))
	assert.True(t, tc.closed)
}

func TestResolverSource_NoOpener(t *testing.T) {
	_, err := NewResolverSource("h", nil).Open()
	assert.True(t, errors.Is(err, imgerr.ErrUnreadableSource))
}

func TestResolverSource_EachOpenCallsResolver(t *testing.T) {
	calls := 0
	src := NewResolverSource("h", func(handle string) (io.ReadCloser, error) {
		calls++
		assert.Equal(t, "h", handle)
		return io.NopCloser(bytes.NewReader([]byte("x"))), nil
	})

	for i := 0; i < 3; i++ {
		rc, err := src.Open()
		require.NoError(t, err)
		require.NoError(t, rc.Close())
	}
	assert.Equal(t, 3, calls)
}

func TestDirResolver(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pic.jpg"), []byte("jpg"), 0644))
	open := DirResolver(root)

	rc, err := open("pic.jpg")
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	// Traversal is clamped to root.
	_, err = open("../../etc/passwd")
	require.Error(t, err)

	_, err = open("missing.jpg")
	require.Error(t, err)
}
