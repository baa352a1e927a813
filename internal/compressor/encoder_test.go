package compressor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-picker-go/internal/imgerr"
	"image-picker-go/internal/testutil"
)

func TestEncoder_WritesJPEG(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.jpg")

	n, err := Encoder{}.Encode(testutil.Pattern(64, 48), out, 80)
	require.NoError(t, err)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), n)

	w, h := testutil.DecodeSize(t, out)
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)

	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestEncoder_QualityBounds(t *testing.T) {
	dir := t.TempDir()
	img := testutil.Pattern(64, 64)

	low, err := Encoder{}.Encode(img, filepath.Join(dir, "q0.jpg"), 0)
	require.NoError(t, err)
	high, err := Encoder{}.Encode(img, filepath.Join(dir, "q100.jpg"), 100)
	require.NoError(t, err)

	assert.Less(t, low, high)
	testutil.DecodeSize(t, filepath.Join(dir, "q0.jpg"))
	testutil.DecodeSize(t, filepath.Join(dir, "q100.jpg"))
}

func TestEncoder_OverwritesExisting(t *testing.T) {
	out := testutil.WriteFile(t, t.TempDir(), "out.jpg", []byte("old"))

	_, err := Encoder{}.Encode(testutil.Pattern(10, 10), out, 50)
	require.NoError(t, err)

	w, _ := testutil.DecodeSize(t, out)
	assert.Equal(t, 10, w)
}

func TestEncoder_MissingDirectory(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing", "out.jpg")

	_, err := Encoder{}.Encode(testutil.Pattern(10, 10), out, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, imgerr.ErrWriteFailed))

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEncoder_RenameFailureRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory at the output path makes the final rename fail.
	out := filepath.Join(dir, "taken")
	require.NoError(t, os.MkdirAll(filepath.Join(out, "child"), 0755))

	_, err := Encoder{}.Encode(testutil.Pattern(10, 10), out, 50)
	require.Error(t, err)
	assert.Equal(t, imgerr.KindWriteFailed, imgerr.KindOf(err))

	_, statErr := os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}
