package extractor

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-picker-go/internal/imgerr"
	"image-picker-go/internal/source"
	"image-picker-go/internal/testutil"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestOrientationFromEXIF(t *testing.T) {
	tests := []struct {
		value int
		want  Orientation
	}{
		{0, OrientationNormal},
		{1, OrientationNormal},
		{2, OrientationNormal}, // mirrored: unsupported
		{3, OrientationRotate180},
		{4, OrientationNormal},
		{5, OrientationNormal},
		{6, OrientationRotate90},
		{7, OrientationNormal},
		{8, OrientationRotate270},
		{9, OrientationNormal},
		{-1, OrientationNormal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, OrientationFromEXIF(tt.value), "value %d", tt.value)
	}
}

func TestBoundsInfo_Oriented(t *testing.T) {
	b := BoundsInfo{Width: 3000, Height: 4000}

	assert.Equal(t, b, b.Oriented(OrientationNormal))
	assert.Equal(t, b, b.Oriented(OrientationRotate180))
	assert.Equal(t, BoundsInfo{Width: 4000, Height: 3000}, b.Oriented(OrientationRotate90))
	assert.Equal(t, BoundsInfo{Width: 4000, Height: 3000}, b.Oriented(OrientationRotate270))
	assert.Equal(t, 4000, b.LongEdge())
	assert.Equal(t, int64(12_000_000), b.Pixels())
}

func TestProbe_JPEGWithOrientation(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "rot.jpg", testutil.JPEG(t, 60, 40, 6))

	meta, err := NewEXIFProber(quietLogger()).Probe(source.NewPathSource(path))
	require.NoError(t, err)

	assert.Equal(t, BoundsInfo{Width: 60, Height: 40}, meta.Bounds)
	assert.Equal(t, OrientationRotate90, meta.Orientation)
	assert.Equal(t, OrientationSourceEXIF, meta.OrientationSource)
	assert.Equal(t, "jpeg", meta.Format)
}

func TestProbe_NoEXIFDefaultsToNormal(t *testing.T) {
	dir := t.TempDir()
	jpg := testutil.WriteFile(t, dir, "plain.jpg", testutil.JPEG(t, 20, 10, 0))
	pngPath := testutil.WriteFile(t, dir, "plain.png", testutil.PNG(t, 20, 10))

	prober := NewEXIFProber(quietLogger())
	for _, path := range []string{jpg, pngPath} {
		meta, err := prober.Probe(source.NewPathSource(path))
		require.NoError(t, err, path)
		assert.Equal(t, OrientationNormal, meta.Orientation, path)
		assert.Equal(t, OrientationSourceDefault, meta.OrientationSource, path)
		assert.Equal(t, BoundsInfo{Width: 20, Height: 10}, meta.Bounds, path)
	}
}

func TestProbe_UnsupportedOrientationValue(t *testing.T) {
	data := testutil.JPEG(t, 16, 16, 5)

	src := source.NewResolverSource("mem", func(string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	meta, err := NewEXIFProber(quietLogger()).Probe(src)
	require.NoError(t, err)
	assert.Equal(t, OrientationNormal, meta.Orientation)
}

func TestProbe_OpensStreamPerRead(t *testing.T) {
	data := testutil.JPEG(t, 16, 8, 8)
	opens := 0
	src := source.NewResolverSource("content://1", func(string) (io.ReadCloser, error) {
		opens++
		return io.NopCloser(bytes.NewReader(data)), nil
	})

	meta, err := NewEXIFProber(quietLogger()).Probe(src)
	require.NoError(t, err)
	assert.Equal(t, OrientationRotate270, meta.Orientation)
	assert.Equal(t, 2, opens)
}

func TestProbe_Unreadable(t *testing.T) {
	prober := NewEXIFProber(quietLogger())

	_, err := prober.Probe(source.NewPathSource(filepath.Join(t.TempDir(), "nope.jpg")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, imgerr.ErrUnreadableSource))

	_, err = prober.Probe(source.NewResolverSource("gone", func(string) (io.ReadCloser, error) {
		return nil, nil
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, imgerr.ErrUnreadableSource))
}

func TestProbe_CorruptHeader(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "junk.jpg", []byte("definitely not an image"))

	_, err := NewEXIFProber(quietLogger()).Probe(source.NewPathSource(path))
	require.Error(t, err)
	assert.True(t, errors.Is(err, imgerr.ErrDecodeFailed))
}

func TestProbe_CorruptEXIFIsNotAnError(t *testing.T) {
	data := testutil.JPEG(t, 16, 16, 6)
	// Break the TIFF byte order mark inside the APP1 payload.
	data[12], data[13] = 'X', 'X'

	src := source.NewResolverSource("mem", func(string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	o, _ := NewEXIFProber(quietLogger()).ReadOrientation(src, "jpeg")
	assert.Equal(t, OrientationNormal, o)
}

func TestParseExiftoolOrientation(t *testing.T) {
	tests := []struct {
		in     interface{}
		want   Orientation
		wantOK bool
	}{
		{float64(6), OrientationRotate90, true},
		{int64(3), OrientationRotate180, true},
		{"Rotate 90 CW", OrientationRotate90, true},
		{"Rotate 270 CW", OrientationRotate270, true},
		{"Rotate 180", OrientationRotate180, true},
		{"Horizontal (normal)", OrientationNormal, true},
		{"Mirror horizontal and rotate 90 CW", OrientationNormal, false},
		{nil, OrientationNormal, false},
	}

	for _, tt := range tests {
		got, ok := parseExiftoolOrientation(tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
		assert.Equal(t, tt.wantOK, ok, "%v", tt.in)
	}
}

func TestReadOrientation_ExiftoolFallbackSkipsResolverSources(t *testing.T) {
	data := testutil.PNG(t, 8, 8)
	src := source.NewResolverSource("mem", func(string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})

	o, from := NewEXIFProber(quietLogger(), WithExiftoolFallback(true)).ReadOrientation(src, "png")
	assert.Equal(t, OrientationNormal, o)
	assert.Equal(t, OrientationSourceDefault, from)
}

type fakeTool struct {
	calls  int
	closed int
}

func (f *fakeTool) ExtractMetadata(files ...string) []exiftool.FileMetadata {
	f.calls++
	out := make([]exiftool.FileMetadata, len(files))
	for i, name := range files {
		out[i] = exiftool.FileMetadata{File: name, Fields: map[string]interface{}{"Orientation": "Rotate 90 CW"}}
	}
	return out
}

func (f *fakeTool) Close() error {
	f.closed++
	return nil
}

func TestReadOrientation_ExiftoolStartedOncePerProber(t *testing.T) {
	dir := t.TempDir()
	tool := &fakeTool{}
	starts := 0

	p := NewEXIFProber(quietLogger(), WithExiftoolFallback(true))
	p.startTool = func() (metadataTool, error) {
		starts++
		return tool, nil
	}

	for _, name := range []string{"a.png", "b.png", "c.png"} {
		src := source.NewPathSource(testutil.WriteFile(t, dir, name, testutil.PNG(t, 8, 8)))
		o, from := p.ReadOrientation(src, "png")
		assert.Equal(t, OrientationRotate90, o)
		assert.Equal(t, OrientationSourceExiftool, from)
	}
	assert.Equal(t, 1, starts)
	assert.Equal(t, 3, tool.calls)

	require.NoError(t, p.Close())
	assert.Equal(t, 1, tool.closed)
	require.NoError(t, p.Close())
	assert.Equal(t, 1, tool.closed)
}

func TestReadOrientation_ExiftoolStartFailureNotRetried(t *testing.T) {
	src := source.NewPathSource(testutil.WriteFile(t, t.TempDir(), "a.png", testutil.PNG(t, 8, 8)))
	starts := 0

	p := NewEXIFProber(quietLogger(), WithExiftoolFallback(true))
	p.startTool = func() (metadataTool, error) {
		starts++
		return nil, errors.New("exiftool not installed")
	}

	for i := 0; i < 3; i++ {
		o, from := p.ReadOrientation(src, "png")
		assert.Equal(t, OrientationNormal, o)
		assert.Equal(t, OrientationSourceDefault, from)
	}
	assert.Equal(t, 1, starts)
	assert.NoError(t, p.Close())
}
