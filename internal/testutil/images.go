// Package testutil builds small image fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// Marker is painted into the top-left corner of Pattern images.
var Marker = color.NRGBA{R: 255, A: 255}

// Pattern returns a w x h image whose top-left w/4 x h/4 block is Marker red,
// with a dark gradient elsewhere.
func Pattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	bw, bh := max(w/4, 1), max(h/4, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			if x < bw && y < bh {
				img.Pix[i+0] = Marker.R
				img.Pix[i+1] = Marker.G
				img.Pix[i+2] = Marker.B
			} else {
				img.Pix[i+0] = 0
				img.Pix[i+1] = uint8((x * 64) / max(w, 1))
				img.Pix[i+2] = uint8((y * 64) / max(h, 1))
			}
			img.Pix[i+3] = 255
		}
	}
	return img
}

// JPEG encodes a w x h Pattern. orientation > 0 adds an EXIF APP1 segment
// carrying that orientation tag value.
func JPEG(tb testing.TB, w, h int, orientation uint16) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Pattern(w, h), &jpeg.Options{Quality: 90}); err != nil {
		tb.Fatalf("encode jpeg: %v", err)
	}
	if orientation == 0 {
		return buf.Bytes()
	}
	return WithEXIFOrientation(buf.Bytes(), orientation)
}

// PNG encodes a w x h Pattern.
func PNG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Pattern(w, h)); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// WithEXIFOrientation inserts an APP1 segment with a single-entry IFD0 holding
// the orientation tag right after the SOI marker.
func WithEXIFOrientation(jpegData []byte, orientation uint16) []byte {
	tiff := make([]byte, 0, 26)
	tiff = append(tiff, 'M', 'M', 0x00, 0x2A)
	tiff = binary.BigEndian.AppendUint32(tiff, 8)
	tiff = binary.BigEndian.AppendUint16(tiff, 1)      // entry count
	tiff = binary.BigEndian.AppendUint16(tiff, 0x0112) // Orientation
	tiff = binary.BigEndian.AppendUint16(tiff, 3)      // SHORT
	tiff = binary.BigEndian.AppendUint32(tiff, 1)
	tiff = binary.BigEndian.AppendUint16(tiff, orientation)
	tiff = binary.BigEndian.AppendUint16(tiff, 0)
	tiff = binary.BigEndian.AppendUint32(tiff, 0) // no next IFD

	payload := append([]byte("Exif\x00\x00"), tiff...)

	out := make([]byte, 0, len(jpegData)+len(payload)+4)
	out = append(out, jpegData[:2]...)
	out = append(out, 0xFF, 0xE1)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)+2))
	out = append(out, payload...)
	out = append(out, jpegData[2:]...)
	return out
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// DecodeSize returns the dimensions of an encoded image file.
func DecodeSize(tb testing.TB, path string) (int, int) {
	tb.Helper()
	f, err := os.Open(path)
	if err != nil {
		tb.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		tb.Fatalf("decode config %s: %v", path, err)
	}
	return cfg.Width, cfg.Height
}
