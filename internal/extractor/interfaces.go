package extractor

import (
	"image-picker-go/internal/source"
)

// MetadataProber reads image metadata without decoding pixel data.
type MetadataProber interface {
	Probe(src source.ImageSource) (*Metadata, error)
}

// BoundsInfo holds the native pixel dimensions reported by the image header,
// before any orientation correction.
type BoundsInfo struct {
	Width  int
	Height int
}

// Oriented returns the bounds as they appear once o is applied.
func (b BoundsInfo) Oriented(o Orientation) BoundsInfo {
	if o.SwapsAxes() {
		return BoundsInfo{Width: b.Height, Height: b.Width}
	}
	return b
}

// LongEdge returns the larger of the two dimensions.
func (b BoundsInfo) LongEdge() int {
	if b.Width > b.Height {
		return b.Width
	}
	return b.Height
}

// Pixels returns Width*Height.
func (b BoundsInfo) Pixels() int64 {
	return int64(b.Width) * int64(b.Height)
}

// Metadata is everything the prober learns about a source.
type Metadata struct {
	Bounds      BoundsInfo
	Orientation Orientation
	Format      string
	// OrientationSource records where the orientation came from.
	OrientationSource OrientationSource
}

// Orientation is the clockwise rotation needed to display the stored pixels upright.
type Orientation int

const (
	OrientationNormal Orientation = iota
	OrientationRotate90
	OrientationRotate180
	OrientationRotate270
)

// EXIF orientation tag values that map to pure rotations.
const (
	exifNormal    = 1
	exifRotate180 = 3
	exifRotate90  = 6
	exifRotate270 = 8
)

// OrientationFromEXIF maps an EXIF orientation value. Flips, out of range values
// and anything unknown map to OrientationNormal.
func OrientationFromEXIF(value int) Orientation {
	switch value {
	case exifRotate90:
		return OrientationRotate90
	case exifRotate180:
		return OrientationRotate180
	case exifRotate270:
		return OrientationRotate270
	default:
		return OrientationNormal
	}
}

// Degrees returns the clockwise rotation in degrees.
func (o Orientation) Degrees() int {
	switch o {
	case OrientationRotate90:
		return 90
	case OrientationRotate180:
		return 180
	case OrientationRotate270:
		return 270
	default:
		return 0
	}
}

// SwapsAxes reports whether applying o exchanges width and height.
func (o Orientation) SwapsAxes() bool {
	return o == OrientationRotate90 || o == OrientationRotate270
}

// String returns a human-readable orientation.
func (o Orientation) String() string {
	switch o {
	case OrientationRotate90:
		return "Rotate 90 CW"
	case OrientationRotate180:
		return "Rotate 180"
	case OrientationRotate270:
		return "Rotate 270 CW"
	default:
		return "Normal"
	}
}

// OrientationSource represents where an orientation was read from.
type OrientationSource int

const (
	OrientationSourceDefault OrientationSource = iota
	OrientationSourceEXIF
	OrientationSourceExiftool
)

// String returns a human-readable description of the orientation source.
func (s OrientationSource) String() string {
	switch s {
	case OrientationSourceEXIF:
		return "EXIF"
	case OrientationSourceExiftool:
		return "exiftool"
	default:
		return "default"
	}
}
