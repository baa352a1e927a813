package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"image-picker-go/internal/compressor"
	"image-picker-go/internal/config"
	"image-picker-go/internal/extractor"
	"image-picker-go/internal/logger"
	"image-picker-go/internal/picker"
	"image-picker-go/internal/source"
	"image-picker-go/internal/state"
	"image-picker-go/internal/statistics"
	"image-picker-go/internal/watcher"
	"image-picker-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	verbose    bool
	quiet      bool
	outDir     string
	outputPath string
	maxDim     int
	quality    int
	pickMode   string
	port       int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-picker",
	Short: "Pick, orient and downscale images into bounded JPEGs",
	Long: `image-picker turns camera captures and existing images into upright
JPEGs whose longest edge never exceeds a configured limit.

Features:
- Camera and gallery pick flows that survive restarts
- EXIF orientation correction
- Memory-bounded decoding of large sources
- Batch processing of directories and a watched inbox
- HTTP API with live progress over WebSocket`,
	SilenceUsage: true,
}

// compressCmd normalizes a single file or every image in a directory.
var compressCmd = &cobra.Command{
	Use:   "compress <file|directory>...",
	Short: "Normalize images into bounded JPEGs",
	Long: `Decodes each image with bounded memory, applies its EXIF orientation,
downscales it to fit the maximum dimension and writes a JPEG.

A single file may be written to an explicit --output path. Directories are
walked recursively and every image lands in --out as <name>.jpg.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args)
	},
}

// probeCmd prints what the prober learns about a file.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Show bounds and orientation of an image without decoding it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(args[0])
	},
}

// pickCmd runs an interactive picker session on the terminal.
var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Pick an image from the camera inbox or a file path",
	Long: `Runs a picker session. The camera flow reserves a file in the storage
directory and waits for a capture to land in the camera inbox. The gallery
flow asks for a path. Either way the result is a normalized JPEG in the
storage directory.

An interrupted camera flow is resumed on the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPick()
	},
}

// watchCmd normalizes every image dropped into a directory.
var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Normalize images as they appear in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(args)
	},
}

// serveCmd starts the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP server that accepts image uploads and returns normalized
JPEGs.

Endpoints:
- POST /api/compress   multipart field "image"
- POST /api/probe      multipart field "image"
- GET  /api/statistics
- GET  /images/{name}
- /ws                  progress events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().IntVar(&maxDim, "max", 0, "maximum output dimension (default from config)")
	rootCmd.PersistentFlags().IntVar(&quality, "quality", -1, "JPEG quality 0-100 (default from config)")

	compressCmd.Flags().StringVar(&outDir, "out", "", "output directory (default from config)")
	compressCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file, single input only")

	pickCmd.Flags().StringVar(&pickMode, "mode", "", "picker mode: both, camera or gallery (default from config)")

	watchCmd.Flags().StringVar(&outDir, "out", "", "output directory (default from config)")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(pickCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress processes files and directories given on the command line.
func runCompress(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	comp := newCompressor(cfg, log, stats)
	defer comp.Close()
	spec := specFromConfig(cfg)

	target := cfg.Batch.TargetDirectory
	if outDir != "" {
		target = outDir
	}

	if len(args) == 1 && fileExists(args[0]) {
		out := outputPath
		if out == "" {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			out = compressor.OutputPathFor(args[0], target)
		}

		res := comp.ProcessFromPath(args[0], out, spec)
		stats.Finalize()
		if !res.Success {
			return fmt.Errorf("compress %s: %w", args[0], res.Cause())
		}
		if !quiet {
			fmt.Printf("%s -> %s (%dx%d, %s)\n", args[0], res.OutputPath, res.Width, res.Height, formatSize(res.Bytes))
		}
		return nil
	}

	if outputPath != "" {
		return fmt.Errorf("--output requires a single input file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := comp.Batch(ctx, compressor.BatchParams{
		InputPaths: args,
		TargetDir:  target,
		Formats:    cfg.Batch.SupportedExtensions,
		Spec:       spec,
		Workers:    cfg.Batch.WorkerThreads,
	})
	stats.Finalize()
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if failed > 0 {
			fmt.Println("\n" + stats.GetErrorSummary())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(results))
	}
	return nil
}

// runProbe prints bounds, orientation and the decode plan for a file.
func runProbe(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)
	prober := newProber(cfg, log)
	defer prober.Close()

	meta, err := prober.Probe(source.NewPathSource(filePath))
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	limit := specFromConfig(cfg).MaxDimension
	upright := meta.Bounds.Oriented(meta.Orientation)
	w, h := compressor.TargetSize(upright.Width, upright.Height, limit)

	fmt.Printf("File:             %s\n", filePath)
	fmt.Printf("Format:           %s\n", meta.Format)
	fmt.Printf("Stored size:      %dx%d\n", meta.Bounds.Width, meta.Bounds.Height)
	fmt.Printf("Orientation:      %s (from %s)\n", meta.Orientation, meta.OrientationSource)
	fmt.Printf("Upright size:     %dx%d\n", upright.Width, upright.Height)
	fmt.Printf("Subsample factor: %d\n", compressor.SubsampleFactor(meta.Bounds, meta.Orientation, limit))
	fmt.Printf("Output size:      %dx%d (max %d)\n", w, h, limit)
	return nil
}

// runPick runs one picker session, resuming an interrupted capture first.
func runPick() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	modeValue := cfg.Picker.Mode
	if pickMode != "" {
		modeValue = pickMode
	}
	mode, err := picker.ParseMode(modeValue)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	comp := newCompressor(cfg, log, stats)
	defer comp.Close()

	store, err := state.NewFileStore(cfg.Picker.StateFile)
	if err != nil {
		return fmt.Errorf("failed to open picker state: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	term := newTerminal(ctx, os.Stdin, os.Stdout, cfg, log)
	session := picker.NewSession(comp, term, term, store, source.FileResolver(), log, picker.Options{
		Mode:       mode,
		Spec:       specFromConfig(cfg),
		StorageDir: cfg.Picker.StorageDir,
		FilePrefix: cfg.Picker.FilePrefix,
	})

	var res compressor.Result
	if session.Restore() {
		path, _ := session.Pending()
		fmt.Printf("Resuming capture into %s\n", path)
		term.LaunchCamera(path, func(ok bool) {
			res = session.HandleCameraResult(ok)
		})
	} else {
		session.Start(func(r compressor.Result) {
			res = r
		})
	}

	if !res.Success {
		return fmt.Errorf("pick failed: %w", res.Cause())
	}
	if !quiet {
		fmt.Printf("Picked image: %s (%dx%d, %s)\n", res.OutputPath, res.Width, res.Height, formatSize(res.Bytes))
	}
	return nil
}

// runWatch processes images as they settle in the watched directory.
func runWatch(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	dir := cfg.Camera.InboxDir
	if len(args) > 0 {
		dir = args[0]
	}
	target := cfg.Batch.TargetDirectory
	if outDir != "" {
		target = outDir
	}
	if err := watcher.CheckOutputDir(dir, target); err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	comp := newCompressor(cfg, log, stats)
	defer comp.Close()
	spec := specFromConfig(cfg)

	w, err := watcher.New(dir, cfg.Batch.SupportedExtensions, watcher.DefaultDebounce, log)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("Watching %s, writing to %s", dir, target)
	err = w.Run(ctx, func(path string) {
		res := comp.ProcessFromPath(path, compressor.OutputPathFor(path, target), spec)
		if res.Success && !quiet {
			fmt.Printf("%s -> %s (%dx%d)\n", filepath.Base(path), res.OutputPath, res.Width, res.Height)
		}
	})
	stats.Finalize()

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
	}
	return err
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	log := setupLogger(cfg)
	comp := newCompressor(cfg, log, statistics.NewStatistics())
	defer comp.Close()
	server := web.NewServer(cfg, log, comp, cfg.Picker.StorageDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("Image picker API listening on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if maxDim != 0 {
		cfg.Picker.MaxImageDimension = maxDim
	}
	if quality >= 0 {
		cfg.Picker.Quality = quality
	}

	if err := specFromConfig(cfg).Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func specFromConfig(cfg *config.Config) compressor.CompressionSpec {
	return compressor.CompressionSpec{
		MaxDimension: cfg.Picker.MaxImageDimension,
		Quality:      cfg.Picker.Quality,
	}
}

func newProber(cfg *config.Config, log *logrus.Logger) *extractor.EXIFProber {
	return extractor.NewEXIFProber(log, extractor.WithExiftoolFallback(cfg.Decoder.ExiftoolFallback))
}

func newCompressor(cfg *config.Config, log *logrus.Logger, stats *statistics.Statistics) *compressor.DefaultCompressor {
	return compressor.NewDefaultCompressor(log,
		compressor.WithStatistics(stats),
		compressor.WithProber(newProber(cfg, log)),
		compressor.WithMaxSourcePixels(cfg.Decoder.MaxSourcePixels),
	)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func formatSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
