package extractor

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"image-picker-go/internal/imgerr"
	"image-picker-go/internal/source"
)

// pathSource is implemented by sources backed by a real file, which exiftool needs.
type pathSource interface {
	Path() string
}

// metadataTool is the part of *exiftool.Exiftool the prober uses.
type metadataTool interface {
	ExtractMetadata(files ...string) []exiftool.FileMetadata
	Close() error
}

func startExiftool() (metadataTool, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, err
	}
	return et, nil
}

// EXIFProber reads bounds from the image header and orientation from EXIF.
// The exiftool process, when used, is started once and shared until Close.
type EXIFProber struct {
	logger           *logrus.Logger
	exiftoolFallback bool

	mu        sync.Mutex
	startTool func() (metadataTool, error)
	tool      metadataTool
	toolErr   error
}

// ProberOption configures an EXIFProber.
type ProberOption func(*EXIFProber)

// WithExiftoolFallback asks exiftool for the orientation of non-JPEG path
// sources when goexif finds nothing.
func WithExiftoolFallback(enabled bool) ProberOption {
	return func(p *EXIFProber) {
		p.exiftoolFallback = enabled
	}
}

// NewEXIFProber returns a new EXIFProber.
func NewEXIFProber(logger *logrus.Logger, opts ...ProberOption) *EXIFProber {
	p := &EXIFProber{logger: logger, startTool: startExiftool}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns bounds and orientation of src. Bounds and orientation are read
// from two independently opened streams.
func (p *EXIFProber) Probe(src source.ImageSource) (*Metadata, error) {
	bounds, format, err := p.ReadBounds(src)
	if err != nil {
		return nil, err
	}

	orientation, from := p.ReadOrientation(src, format)
	p.logger.Debugf("Probed %s: %dx%d %s, orientation %s (%s)",
		src.Name(), bounds.Width, bounds.Height, format, orientation, from)

	return &Metadata{
		Bounds:            bounds,
		Orientation:       orientation,
		Format:            format,
		OrientationSource: from,
	}, nil
}

// ReadBounds decodes only the image header.
func (p *EXIFProber) ReadBounds(src source.ImageSource) (BoundsInfo, string, error) {
	rc, err := src.Open()
	if err != nil {
		return BoundsInfo{}, "", asUnreadable("probe", src.Name(), err)
	}
	defer rc.Close()

	cfg, format, err := image.DecodeConfig(rc)
	if err != nil {
		return BoundsInfo{}, "", imgerr.New(imgerr.KindDecodeFailed, "probe", src.Name(), err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return BoundsInfo{}, format, imgerr.New(imgerr.KindDecodeFailed, "probe", src.Name(),
			fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}

	return BoundsInfo{Width: cfg.Width, Height: cfg.Height}, format, nil
}

// ReadOrientation never fails: anything that goes wrong yields OrientationNormal.
func (p *EXIFProber) ReadOrientation(src source.ImageSource, format string) (Orientation, OrientationSource) {
	value, err := p.readEXIFOrientation(src)
	if err == nil {
		return OrientationFromEXIF(value), OrientationSourceEXIF
	}
	p.logger.Debugf("No EXIF orientation for %s: %v", src.Name(), err)

	if p.exiftoolFallback && format != "jpeg" {
		if ps, ok := src.(pathSource); ok {
			if o, ok := p.orientationFromExiftool(ps.Path()); ok {
				return o, OrientationSourceExiftool
			}
		}
	}

	return OrientationNormal, OrientationSourceDefault
}

// readEXIFOrientation extracts the orientation tag using rwcarlsen/goexif.
func (p *EXIFProber) readEXIFOrientation(src source.ImageSource) (value int, err error) {
	rc, err := src.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	// goexif can panic on truncated IFDs.
	defer func() {
		if r := recover(); r != nil {
			value, err = 0, fmt.Errorf("exif parser panic: %v", r)
		}
	}()

	x, err := exif.Decode(rc)
	if err != nil {
		return 0, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0, err
	}

	return tag.Int(0)
}

// orientationFromExiftool asks the shared exiftool process for the Orientation field.
func (p *EXIFProber) orientationFromExiftool(path string) (Orientation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tool == nil && p.toolErr == nil {
		p.tool, p.toolErr = p.startTool()
		if p.toolErr != nil {
			p.logger.Debugf("exiftool unavailable: %v", p.toolErr)
		}
	}
	if p.toolErr != nil || p.tool == nil {
		return OrientationNormal, false
	}

	files := p.tool.ExtractMetadata(path)
	if len(files) == 0 || files[0].Err != nil {
		return OrientationNormal, false
	}

	return parseExiftoolOrientation(files[0].Fields["Orientation"])
}

// Close stops the exiftool process if one was started. The prober stays usable
// and starts a new process on demand.
func (p *EXIFProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tool := p.tool
	p.tool, p.toolErr = nil, nil
	if tool == nil {
		return nil
	}
	return tool.Close()
}

// parseExiftoolOrientation accepts both the numeric and the printed form of
// the Orientation field.
func parseExiftoolOrientation(v interface{}) (Orientation, bool) {
	switch val := v.(type) {
	case float64:
		return OrientationFromEXIF(int(val)), true
	case int64:
		return OrientationFromEXIF(int(val)), true
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		switch {
		case strings.HasPrefix(s, "horizontal"):
			return OrientationNormal, true
		case strings.HasPrefix(s, "rotate 90"):
			return OrientationRotate90, true
		case strings.HasPrefix(s, "rotate 180"):
			return OrientationRotate180, true
		case strings.HasPrefix(s, "rotate 270"):
			return OrientationRotate270, true
		}
	}
	return OrientationNormal, false
}

func asUnreadable(op, name string, err error) error {
	var ie *imgerr.Error
	if errors.As(err, &ie) && ie.Kind == imgerr.KindUnreadableSource {
		return err
	}
	return imgerr.New(imgerr.KindUnreadableSource, op, name, err)
}

var _ MetadataProber = (*EXIFProber)(nil)
