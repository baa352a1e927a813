package compressor

import (
	"image"

	"github.com/disintegration/imaging"

	"image-picker-go/internal/extractor"
)

// TransformInfo reports what the transformer did.
type TransformInfo struct {
	Rotated bool
	Resized bool
	Width   int
	Height  int
}

// Transformer rotates a raster upright and fits it into the max dimension.
type Transformer struct{}

// Rotate turns img clockwise by the orientation's angle.
func Rotate(img image.Image, o extractor.Orientation) image.Image {
	// imaging rotates counter-clockwise.
	switch o {
	case extractor.OrientationRotate90:
		return imaging.Rotate270(img)
	case extractor.OrientationRotate180:
		return imaging.Rotate180(img)
	case extractor.OrientationRotate270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// TargetSize returns the output size for a w x h upright source. Sources that
// already fit are kept as is; otherwise the long edge becomes maxDimension and
// the short edge is rounded to the nearest pixel, never below 1.
func TargetSize(w, h, maxDimension int) (int, int) {
	if w <= maxDimension && h <= maxDimension {
		return w, h
	}
	if w >= h {
		return maxDimension, scaleEdge(h, w, maxDimension)
	}
	return scaleEdge(w, h, maxDimension), maxDimension
}

// scaleEdge computes round(maxDimension * short / long).
func scaleEdge(short, long, maxDimension int) int {
	s, l, m := int64(short), int64(long), int64(maxDimension)
	return max(int((2*m*s+l)/(2*l)), 1)
}

// Transform applies orientation first, then resizes with Lanczos. The target
// size is computed from the native source dimensions so the decode step does
// not skew the aspect ratio.
func (Transformer) Transform(r *Raster, o extractor.Orientation, maxDimension int) (image.Image, TransformInfo) {
	img := Rotate(r.Image, o)
	info := TransformInfo{Rotated: o != extractor.OrientationNormal}

	srcW, srcH := r.SourceWidth, r.SourceHeight
	if o.SwapsAxes() {
		srcW, srcH = srcH, srcW
	}
	tw, th := TargetSize(srcW, srcH, maxDimension)

	b := img.Bounds()
	if b.Dx() != tw || b.Dy() != th {
		img = imaging.Resize(img, tw, th, imaging.Lanczos)
		info.Resized = true
	}

	info.Width, info.Height = tw, th
	return img, info
}
