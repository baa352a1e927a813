package compressor

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegn"

	"image-picker-go/internal/extractor"
	"image-picker-go/internal/imgerr"
	"image-picker-go/internal/source"
)

// Raster is a decoded image together with the native dimensions of the source
// it came from. Step is the total power-of-two reduction; DecodeScale is the
// part of it the codec applied while decoding.
type Raster struct {
	Image        image.Image
	SourceWidth  int
	SourceHeight int
	Step         int
	DecodeScale  int
	BytesRead    int64
}

// maxDecodeScale is the largest IDCT scaling denominator a JPEG decode supports.
const maxDecodeScale = 8

// SubsampleFactor returns how much the source can be shrunk at decode time
// without dropping below maxDimension on the orientation-corrected long axis.
func SubsampleFactor(bounds extractor.BoundsInfo, o extractor.Orientation, maxDimension int) int {
	if maxDimension <= 0 {
		return 1
	}
	b := bounds.Oriented(o)
	if b.Width <= maxDimension && b.Height <= maxDimension {
		return 1
	}
	return max(b.Width/maxDimension, b.Height/maxDimension, 1)
}

// powerOfTwoFloor returns the largest power of two not above n, and 1 for n < 1.
func powerOfTwoFloor(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

// decodeScale returns the denominator the codec can apply for format.
func decodeScale(format string, step int) int {
	if format != "jpeg" || step <= 1 {
		return 1
	}
	return min(step, maxDecodeScale)
}

// BoundedDecoder decodes pixel data with a reduction step chosen from metadata.
// JPEG sources are scaled inside the IDCT, so the full-resolution raster is
// never allocated. Other formats decode at full size and are reduced afterwards.
type BoundedDecoder struct {
	// MaxSourcePixels rejects sources whose decode would materialise more pixels.
	// 0 disables the check.
	MaxSourcePixels int64
}

// Decode reopens src and returns a raster reduced by the power-of-two floor of
// the subsample factor. Orientation metadata is not applied here.
func (d BoundedDecoder) Decode(src source.ImageSource, meta *extractor.Metadata, maxDimension int) (*Raster, error) {
	step := powerOfTwoFloor(SubsampleFactor(meta.Bounds, meta.Orientation, maxDimension))
	scale := decodeScale(meta.Format, step)

	if d.MaxSourcePixels > 0 {
		decoded := meta.Bounds.Pixels() / int64(scale*scale)
		if decoded > d.MaxSourcePixels {
			return nil, imgerr.New(imgerr.KindDecodeFailed, "decode", src.Name(),
				fmt.Errorf("%dx%d at 1/%d exceeds the %d pixel limit", meta.Bounds.Width, meta.Bounds.Height, scale, d.MaxSourcePixels))
		}
	}

	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cr := &countingReader{r: rc}
	var img image.Image
	if scale > 1 {
		img, err = jpegn.Decode(cr, &jpegn.Options{ScaleDenom: scale})
	} else {
		img, err = imaging.Decode(cr)
	}
	if err != nil {
		return nil, imgerr.New(imgerr.KindDecodeFailed, "decode", src.Name(), err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, imgerr.New(imgerr.KindDecodeFailed, "decode", src.Name(), fmt.Errorf("empty image"))
	}

	raster := &Raster{
		Image:        img,
		SourceWidth:  meta.Bounds.Width,
		SourceHeight: meta.Bounds.Height,
		Step:         step,
		DecodeScale:  scale,
		BytesRead:    cr.n,
	}
	if rest := step / scale; rest > 1 {
		raster.Image = reduce(img, rest)
	}
	return raster, nil
}

// reduce shrinks img by factor on both axes, averaging each factor x factor block.
func reduce(img image.Image, factor int) image.Image {
	b := img.Bounds()
	return imaging.Resize(img, max(1, b.Dx()/factor), max(1, b.Dy()/factor), imaging.Box)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
