package compressor

import (
	"context"
	"fmt"

	"image-picker-go/internal/imgerr"
	"image-picker-go/internal/source"
)

// Defaults used by the picker when the caller does not say otherwise.
const (
	DefaultMaxDimension = 1024
	DefaultQuality      = 80
)

// CompressionSpec is the only tuning knob of a run.
type CompressionSpec struct {
	MaxDimension int // longest output edge, in pixels
	Quality      int // JPEG quality, 0..100
}

// DefaultSpec returns the spec the picker uses by default.
func DefaultSpec() CompressionSpec {
	return CompressionSpec{MaxDimension: DefaultMaxDimension, Quality: DefaultQuality}
}

// Validate rejects specs that cannot produce an image.
func (s CompressionSpec) Validate() error {
	if s.MaxDimension <= 0 {
		return imgerr.New(imgerr.KindInvalidSpec, "validate", "",
			fmt.Errorf("max dimension must be positive, got %d", s.MaxDimension))
	}
	if s.Quality < 0 || s.Quality > 100 {
		return imgerr.New(imgerr.KindInvalidSpec, "validate", "",
			fmt.Errorf("quality must be between 0 and 100, got %d", s.Quality))
	}
	return nil
}

// Result describes one pipeline run. On failure no new file exists at
// OutputPath and Cause reports why.
type Result struct {
	Success    bool
	Source     string
	OutputPath string
	Width      int
	Height     int
	Bytes      int64

	cause error
}

// Cause returns the error that failed the run, or nil.
func (r Result) Cause() error {
	return r.cause
}

// FailedResult builds a failed Result for callers that stop before the
// pipeline runs, such as a cancelled picker flow.
func FailedResult(sourceName, outputPath string, err error) Result {
	return Result{Source: sourceName, OutputPath: outputPath, cause: err}
}

// BatchParams defines a directory run. Every file found is an independent
// pipeline invocation writing <TargetDir>/<basename>.jpg.
type BatchParams struct {
	InputPaths []string
	TargetDir  string
	Formats    []string
	Spec       CompressionSpec
	Workers    int
}

// Compressor normalizes images into bounded JPEGs.
type Compressor interface {
	// Process runs the full pipeline for one source.
	Process(src source.ImageSource, outputPath string, spec CompressionSpec) Result
	// ProcessFromPath reads the source from the filesystem.
	ProcessFromPath(inputPath, outputPath string, spec CompressionSpec) Result
	// ProcessFromResolver reads the source through open(handle).
	ProcessFromResolver(handle, outputPath string, open source.OpenFunc, spec CompressionSpec) Result
	// Submit runs Process on a new goroutine and delivers the result on the channel.
	Submit(src source.ImageSource, outputPath string, spec CompressionSpec) <-chan Result
	// Batch processes a list of files or directories.
	// Returns one result per collected file.
	Batch(ctx context.Context, params BatchParams) ([]Result, error)
}
