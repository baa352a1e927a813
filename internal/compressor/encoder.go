package compressor

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"

	"image-picker-go/internal/imgerr"
)

// Encoder writes JPEG files atomically.
type Encoder struct{}

// Encode writes img to outputPath at the given quality and returns the file
// size. The image goes to <outputPath>.tmp first and is renamed into place, so
// a failed run never leaves a partial file at outputPath.
func (Encoder) Encode(img image.Image, outputPath string, quality int) (n int64, err error) {
	tmpPath := outputPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, imgerr.New(imgerr.KindWriteFailed, "encode", outputPath, err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err = imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return 0, imgerr.New(imgerr.KindWriteFailed, "encode", outputPath, fmt.Errorf("encode error: %w", err))
	}
	if err = f.Sync(); err != nil {
		return 0, imgerr.New(imgerr.KindWriteFailed, "encode", outputPath, fmt.Errorf("sync error: %w", err))
	}
	closeErr := f.Close()
	f = nil
	if closeErr != nil {
		err = imgerr.New(imgerr.KindWriteFailed, "encode", outputPath, fmt.Errorf("close error: %w", closeErr))
		return 0, err
	}

	info, statErr := os.Stat(tmpPath)
	if statErr != nil {
		err = imgerr.New(imgerr.KindWriteFailed, "encode", outputPath, fmt.Errorf("stat error: %w", statErr))
		return 0, err
	}

	if renameErr := os.Rename(tmpPath, outputPath); renameErr != nil {
		err = imgerr.New(imgerr.KindWriteFailed, "encode", outputPath, fmt.Errorf("rename error: %w", renameErr))
		return 0, err
	}
	return info.Size(), nil
}
