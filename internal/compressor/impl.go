package compressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"image-picker-go/internal/extractor"
	"image-picker-go/internal/imgerr"
	"image-picker-go/internal/logger"
	"image-picker-go/internal/source"
	"image-picker-go/internal/statistics"
)

// DefaultCompressor is the default implementation of the Compressor interface.
type DefaultCompressor struct {
	logger      *logrus.Logger
	stats       *statistics.Statistics
	prober      extractor.MetadataProber
	decoder     BoundedDecoder
	transformer Transformer
	encoder     Encoder
}

// Option configures a DefaultCompressor.
type Option func(*DefaultCompressor)

// WithStatistics records run counters into stats.
func WithStatistics(stats *statistics.Statistics) Option {
	return func(c *DefaultCompressor) {
		if stats != nil {
			c.stats = stats
		}
	}
}

// WithProber replaces the metadata prober.
func WithProber(p extractor.MetadataProber) Option {
	return func(c *DefaultCompressor) {
		if p != nil {
			c.prober = p
		}
	}
}

// WithMaxSourcePixels rejects sources larger than n pixels before decoding. 0 disables the check.
func WithMaxSourcePixels(n int64) Option {
	return func(c *DefaultCompressor) {
		c.decoder.MaxSourcePixels = n
	}
}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor(log *logrus.Logger, opts ...Option) *DefaultCompressor {
	if log == nil {
		log = logger.Discard()
	}
	c := &DefaultCompressor{
		logger: log,
		stats:  statistics.NewStatistics(),
		prober: extractor.NewEXIFProber(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Statistics returns the counters this compressor records into.
func (c *DefaultCompressor) Statistics() *statistics.Statistics {
	return c.stats
}

// Close releases resources held by the prober, such as an exiftool process.
func (c *DefaultCompressor) Close() error {
	if closer, ok := c.prober.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Probe exposes the prober for callers that only need metadata.
func (c *DefaultCompressor) Probe(src source.ImageSource) (*extractor.Metadata, error) {
	return c.prober.Probe(src)
}

// ProcessFromPath runs the pipeline on a filesystem path.
func (c *DefaultCompressor) ProcessFromPath(inputPath, outputPath string, spec CompressionSpec) Result {
	return c.Process(source.NewPathSource(inputPath), outputPath, spec)
}

// ProcessFromResolver runs the pipeline on a handle resolved through open.
func (c *DefaultCompressor) ProcessFromResolver(handle, outputPath string, open source.OpenFunc, spec CompressionSpec) Result {
	return c.Process(source.NewResolverSource(handle, open), outputPath, spec)
}

// Submit runs Process on its own goroutine.
func (c *DefaultCompressor) Submit(src source.ImageSource, outputPath string, spec CompressionSpec) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- c.Process(src, outputPath, spec)
	}()
	return ch
}

// Process probes, decodes, transforms and encodes src into outputPath. Any
// stage failure yields Success=false with the cause attached.
func (c *DefaultCompressor) Process(src source.ImageSource, outputPath string, spec CompressionSpec) Result {
	start := time.Now()
	c.stats.IncrementRunsStarted()

	if err := spec.Validate(); err != nil {
		return c.fail(src, outputPath, "validate", err, start)
	}
	if outputPath == "" {
		return c.fail(src, outputPath, "validate",
			imgerr.New(imgerr.KindInvalidSpec, "validate", src.Name(), errors.New("output path is empty")), start)
	}

	meta, err := c.prober.Probe(src)
	if err != nil {
		return c.fail(src, outputPath, "probe", err, start)
	}
	c.stats.IncrementFormat(meta.Format)

	raster, err := c.decoder.Decode(src, meta, spec.MaxDimension)
	if err != nil {
		return c.fail(src, outputPath, "decode", err, start)
	}
	c.stats.AddBytesRead(raster.BytesRead)
	if raster.Step > 1 {
		c.stats.IncrementSubsampled()
	}
	logger.WithStage(c.logger, "decode", src.Name()).WithFields(logrus.Fields{
		"source_width":  raster.SourceWidth,
		"source_height": raster.SourceHeight,
		"step":          raster.Step,
		"decode_scale":  raster.DecodeScale,
		"orientation":   meta.Orientation.String(),
	}).Debug("Decoded source")

	img, info := c.transformer.Transform(raster, meta.Orientation, spec.MaxDimension)
	if info.Rotated {
		c.stats.IncrementRotated()
	}
	if info.Resized {
		c.stats.IncrementResized()
	}

	n, err := c.encoder.Encode(img, outputPath, spec.Quality)
	if err != nil {
		return c.fail(src, outputPath, "encode", err, start)
	}

	elapsed := time.Since(start)
	c.stats.RecordSuccess(n, elapsed)
	logger.WithStage(c.logger, "encode", src.Name()).WithFields(logrus.Fields{
		"output":   outputPath,
		"width":    info.Width,
		"height":   info.Height,
		"bytes":    n,
		"duration": elapsed.String(),
	}).Info("Image normalized")

	return Result{
		Success:    true,
		Source:     src.Name(),
		OutputPath: outputPath,
		Width:      info.Width,
		Height:     info.Height,
		Bytes:      n,
	}
}

func (c *DefaultCompressor) fail(src source.ImageSource, outputPath, stage string, err error, start time.Time) Result {
	kind := imgerr.KindOf(err)
	elapsed := time.Since(start)
	logger.WithStage(c.logger, stage, src.Name()).WithFields(logrus.Fields{
		"kind":   string(kind),
		"output": outputPath,
	}).WithError(err).Warn("Image processing failed")
	c.stats.RecordFailure(src.Name(), stage, string(kind), err.Error(), elapsed)

	return Result{Source: src.Name(), OutputPath: outputPath, cause: err}
}

// Batch processes every supported file under params.InputPaths with a worker pool.
func (c *DefaultCompressor) Batch(ctx context.Context, params BatchParams) ([]Result, error) {
	if err := params.Spec.Validate(); err != nil {
		return nil, err
	}
	if params.TargetDir == "" {
		return nil, fmt.Errorf("target directory is required")
	}

	files, err := collectImageFiles(params.InputPaths, params.Formats)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(params.TargetDir, 0755); err != nil {
		return nil, fmt.Errorf("create target dir: %w", err)
	}

	outputs := assignOutputPaths(files, params.TargetDir)

	numWorkers := params.Workers
	if numWorkers <= 0 {
		numWorkers = max(runtime.NumCPU(), 2)
	}
	numWorkers = min(numWorkers, len(files))

	type job struct {
		index int
		path  string
	}
	type result struct {
		index int
		res   Result
	}

	jobs := make(chan job, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				r := c.ProcessFromPath(j.path, outputs[j.index], params.Spec)
				results <- result{index: j.index, res: r}
			}
		}()
	}

	for i, path := range files {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()
	close(results)

	resArr := make([]Result, len(files))
	done := make([]bool, len(files))
	for r := range results {
		resArr[r.index] = r.res
		done[r.index] = true
	}

	if err := ctx.Err(); err != nil {
		for i := range resArr {
			if !done[i] {
				resArr[i] = Result{Source: files[i], OutputPath: outputs[i], cause: err}
			}
		}
		return resArr, err
	}
	return resArr, nil
}

// collectImageFiles recursively collects all files with supported extensions.
func collectImageFiles(inputPaths []string, formats []string) ([]string, error) {
	var files []string
	extSet := make(map[string]struct{})
	for _, f := range formats {
		f = strings.ToLower(f)
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		extSet[f] = struct{}{}
	}
	visit := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || isTempOrHidden(d.Name()) {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := extSet[ext]; ok {
			files = append(files, path)
		}
		return nil
	}
	for _, in := range inputPaths {
		info, err := os.Stat(in)
		if err != nil {
			continue
		}
		if info.IsDir() {
			_ = filepath.WalkDir(in, visit)
		} else {
			ext := strings.ToLower(filepath.Ext(info.Name()))
			if _, ok := extSet[ext]; ok {
				files = append(files, in)
			}
		}
	}
	return files, nil
}

func isTempOrHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}

// assignOutputPaths maps every input to <targetDir>/<basename>.jpg, suffixing
// _1, _2, ... when two inputs share a base name.
func assignOutputPaths(files []string, targetDir string) []string {
	used := make(map[string]struct{}, len(files))
	outputs := make([]string, len(files))
	for i, path := range files {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		name := base + ".jpg"
		for counter := 1; ; counter++ {
			if _, taken := used[strings.ToLower(name)]; !taken {
				break
			}
			name = base + "_" + strconv.Itoa(counter) + ".jpg"
		}
		used[strings.ToLower(name)] = struct{}{}
		outputs[i] = filepath.Join(targetDir, name)
	}
	return outputs
}

// OutputPathFor returns <targetDir>/<basename>.jpg for a single input.
func OutputPathFor(inputPath, targetDir string) string {
	return assignOutputPaths([]string{inputPath}, targetDir)[0]
}

var _ Compressor = (*DefaultCompressor)(nil)
