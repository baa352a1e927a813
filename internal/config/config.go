package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Picker modes
const (
	ModeBoth    = "both"
	ModeCamera  = "camera"
	ModeGallery = "gallery"
)

// Config represents the main configuration structure
type Config struct {
	Picker  PickerConfig  `mapstructure:"picker"`
	Decoder DecoderConfig `mapstructure:"decoder"`
	Camera  CameraConfig  `mapstructure:"camera"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PickerConfig contains the picker session settings
type PickerConfig struct {
	Mode              string `mapstructure:"mode"`
	MaxImageDimension int    `mapstructure:"max_image_dimension"`
	Quality           int    `mapstructure:"quality"`
	StorageDir        string `mapstructure:"storage_dir"`
	FilePrefix        string `mapstructure:"file_prefix"`
	StateFile         string `mapstructure:"state_file"`
}

// DecoderConfig contains decode safety settings
type DecoderConfig struct {
	MaxSourcePixels  int64 `mapstructure:"max_source_pixels"` // 0 means no limit
	ExiftoolFallback bool  `mapstructure:"exiftool_fallback"`
}

// CameraConfig describes where captures from an external camera app land
type CameraConfig struct {
	InboxDir       string        `mapstructure:"inbox_dir"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout"`
}

// BatchConfig contains settings for directory processing
type BatchConfig struct {
	TargetDirectory     string   `mapstructure:"target_directory"`
	SupportedExtensions []string `mapstructure:"supported_extensions"`
	WorkerThreads       int      `mapstructure:"worker_threads"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Picker: PickerConfig{
			Mode:              ModeBoth,
			MaxImageDimension: 1024,
			Quality:           80,
			StorageDir:        "./pictures",
			FilePrefix:        "image_",
			StateFile:         ".image-picker-state.yaml",
		},
		Decoder: DecoderConfig{
			MaxSourcePixels:  200_000_000,
			ExiftoolFallback: false,
		},
		Camera: CameraConfig{
			InboxDir:       "./camera-inbox",
			CaptureTimeout: 5 * time.Minute,
		},
		Batch: BatchConfig{
			TargetDirectory: "./compressed",
			SupportedExtensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
			},
			WorkerThreads: 4,
		},
		Server: ServerConfig{
			Port:        8080,
			MaxUploadMB: 32,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			FilePath:   "image-picker.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-picker")
		v.AddConfigPath("/etc/image-picker")
	}

	setDefaults(v, DefaultConfig())

	// Enable environment variable support
	v.SetEnvPrefix("IMAGE_PICKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so environment variables can override
// settings that do not appear in the config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("picker.mode", d.Picker.Mode)
	v.SetDefault("picker.max_image_dimension", d.Picker.MaxImageDimension)
	v.SetDefault("picker.quality", d.Picker.Quality)
	v.SetDefault("picker.storage_dir", d.Picker.StorageDir)
	v.SetDefault("picker.file_prefix", d.Picker.FilePrefix)
	v.SetDefault("picker.state_file", d.Picker.StateFile)

	v.SetDefault("decoder.max_source_pixels", d.Decoder.MaxSourcePixels)
	v.SetDefault("decoder.exiftool_fallback", d.Decoder.ExiftoolFallback)

	v.SetDefault("camera.inbox_dir", d.Camera.InboxDir)
	v.SetDefault("camera.capture_timeout", d.Camera.CaptureTimeout)

	v.SetDefault("batch.target_directory", d.Batch.TargetDirectory)
	v.SetDefault("batch.supported_extensions", d.Batch.SupportedExtensions)
	v.SetDefault("batch.worker_threads", d.Batch.WorkerThreads)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate picker mode
	c.Picker.Mode = strings.ToLower(strings.TrimSpace(c.Picker.Mode))
	if c.Picker.Mode == "" {
		c.Picker.Mode = ModeBoth
	}
	validModes := map[string]bool{
		ModeBoth:    true,
		ModeCamera:  true,
		ModeGallery: true,
	}
	if !validModes[c.Picker.Mode] {
		return fmt.Errorf("invalid picker mode: %s (valid: both, camera, gallery)", c.Picker.Mode)
	}

	if c.Picker.MaxImageDimension <= 0 {
		return fmt.Errorf("max_image_dimension must be positive, got %d", c.Picker.MaxImageDimension)
	}
	if c.Picker.Quality < 0 || c.Picker.Quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100, got %d", c.Picker.Quality)
	}
	if c.Picker.StorageDir == "" {
		return fmt.Errorf("storage_dir is required")
	}
	c.Picker.StorageDir = expandPath(c.Picker.StorageDir)
	if c.Picker.StateFile != "" && !filepath.IsAbs(c.Picker.StateFile) {
		c.Picker.StateFile = filepath.Join(c.Picker.StorageDir, c.Picker.StateFile)
	}

	if c.Decoder.MaxSourcePixels < 0 {
		c.Decoder.MaxSourcePixels = 0
	}

	c.Camera.InboxDir = expandPath(c.Camera.InboxDir)
	if c.Camera.CaptureTimeout <= 0 {
		c.Camera.CaptureTimeout = 5 * time.Minute
	}

	// Validate extensions format
	c.Batch.SupportedExtensions = normalizeExtensions(c.Batch.SupportedExtensions)
	if c.Batch.WorkerThreads <= 0 {
		c.Batch.WorkerThreads = 4
	}
	c.Batch.TargetDirectory = expandPath(c.Batch.TargetDirectory)

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 32
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// IsImageExtension checks if the extension is one the batch processor picks up
func (c *Config) IsImageExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.Batch.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// MaxUploadBytes returns the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Helper functions

func expandPath(path string) string {
	if path == "" {
		return path
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expandedPath
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}
	return expandedPath
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
