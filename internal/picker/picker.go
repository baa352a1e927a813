// Package picker drives the camera and gallery flows that end in a normalized
// JPEG on disk.
//
// The host supplies a Launcher, a PermissionProvider and a state.Store. Every
// flow reports exactly once through its completion callback.
package picker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"image-picker-go/internal/compressor"
	"image-picker-go/internal/logger"
	"image-picker-go/internal/source"
	"image-picker-go/internal/state"
)

// Mode selects which sources the picker offers.
type Mode string

const (
	ModeBoth    Mode = "both"
	ModeCamera  Mode = "camera"
	ModeGallery Mode = "gallery"
)

// ParseMode converts a config value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeBoth, ModeCamera, ModeGallery:
		return m, nil
	case "":
		return ModeBoth, nil
	default:
		return "", fmt.Errorf("unknown picker mode %q", s)
	}
}

// Choice is what the user picked in the chooser.
type Choice int

const (
	ChoiceCancel Choice = iota
	ChoiceCamera
	ChoiceGallery
)

var (
	// ErrCancelled is the cause when the user backs out of a flow.
	ErrCancelled = errors.New("picker cancelled")
	// ErrPermissionDenied is the cause when camera permission is refused.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNoPendingCapture is the cause when a camera result arrives without a reserved file.
	ErrNoPendingCapture = errors.New("no pending capture")
)

// Launcher starts the external UI pieces of a flow.
type Launcher interface {
	// ShowChooser asks the user for camera or gallery.
	ShowChooser(choose func(Choice))
	// LaunchCamera captures into outputPath; ok is false when the capture was cancelled.
	LaunchCamera(outputPath string, done func(ok bool))
	// LaunchGallery picks an image; the handle is resolved through the session's OpenFunc.
	LaunchGallery(done func(handle string, ok bool))
}

// PermissionProvider checks and requests the camera permission.
type PermissionProvider interface {
	HasCameraPermission() bool
	RequestCameraPermission(done func(granted bool))
}

// Options configures a Session.
type Options struct {
	Mode       Mode
	Spec       compressor.CompressionSpec
	StorageDir string
	FilePrefix string
	// Now is used for reserved file names. Defaults to time.Now.
	Now func() time.Time
}

// Session is one picker instance. Its pending capture survives process
// restarts through the state store.
type Session struct {
	opts        Options
	compressor  compressor.Compressor
	launcher    Launcher
	permissions PermissionProvider
	store       state.Store
	open        source.OpenFunc
	logger      *logrus.Logger

	mu          sync.Mutex
	pendingPath string
	displayName string
	resultPath  string
}

// NewSession creates a session. permissions may be nil when the host has no
// permission model. open resolves gallery handles.
func NewSession(
	comp compressor.Compressor,
	launcher Launcher,
	permissions PermissionProvider,
	store state.Store,
	open source.OpenFunc,
	log *logrus.Logger,
	opts Options,
) *Session {
	if opts.Mode == "" {
		opts.Mode = ModeBoth
	}
	if opts.Spec == (compressor.CompressionSpec{}) {
		opts.Spec = compressor.DefaultSpec()
	}
	if opts.FilePrefix == "" {
		opts.FilePrefix = "image_"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if store == nil {
		store = state.NewMemoryStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Session{
		opts:        opts,
		compressor:  comp,
		launcher:    launcher,
		permissions: permissions,
		store:       store,
		open:        open,
		logger:      log,
	}
}

// Restore reloads the pending capture from the store. It reports whether a
// flow was in progress.
func (s *Session) Restore() bool {
	path, ok := s.store.Get(state.KeyPendingOutputPath)
	name, _ := s.store.Get(state.KeyPendingDisplayName)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPath = path
	s.displayName = name
	return ok && path != ""
}

// Pending returns the reserved output path and display name, if any.
func (s *Session) Pending() (path, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingPath, s.displayName
}

// ResultPath returns the output of the last successful flow.
func (s *Session) ResultPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultPath
}

// Start runs the flow for the configured mode.
func (s *Session) Start(done func(compressor.Result)) {
	switch s.opts.Mode {
	case ModeCamera:
		s.StartCamera(done)
	case ModeGallery:
		s.StartGallery(done)
	default:
		s.launcher.ShowChooser(func(c Choice) {
			switch c {
			case ChoiceCamera:
				s.StartCamera(done)
			case ChoiceGallery:
				s.StartGallery(done)
			default:
				done(compressor.FailedResult("", "", ErrCancelled))
			}
		})
	}
}

// StartCamera checks the camera permission, reserves an output file and
// launches the camera into it.
func (s *Session) StartCamera(done func(compressor.Result)) {
	if s.permissions == nil || s.permissions.HasCameraPermission() {
		s.launchCamera(done)
		return
	}
	s.permissions.RequestCameraPermission(func(granted bool) {
		if !granted {
			logger.WithOperation(s.logger, "camera").Info("Camera permission denied")
			done(compressor.FailedResult("camera", "", ErrPermissionDenied))
			return
		}
		s.launchCamera(done)
	})
}

func (s *Session) launchCamera(done func(compressor.Result)) {
	path, err := s.reserve()
	if err != nil {
		done(compressor.FailedResult("camera", "", err))
		return
	}
	s.launcher.LaunchCamera(path, func(ok bool) {
		done(s.HandleCameraResult(ok))
	})
}

// StartGallery launches the gallery and processes the picked image.
func (s *Session) StartGallery(done func(compressor.Result)) {
	s.launcher.LaunchGallery(func(handle string, ok bool) {
		done(s.HandleGalleryResult(handle, ok))
	})
}

// HandleCameraResult finishes a camera flow, possibly after Restore. The
// capture is normalized in place.
func (s *Session) HandleCameraResult(ok bool) compressor.Result {
	path, _ := s.Pending()
	if path == "" {
		return compressor.FailedResult("camera", "", ErrNoPendingCapture)
	}
	if !ok {
		s.discard(path)
		return compressor.FailedResult(path, path, ErrCancelled)
	}

	res := s.compressor.ProcessFromPath(path, path, s.opts.Spec)
	s.finish(path, res)
	return res
}

// HandleGalleryResult reserves an output file and normalizes the picked image into it.
func (s *Session) HandleGalleryResult(handle string, ok bool) compressor.Result {
	if !ok || handle == "" {
		return compressor.FailedResult(handle, "", ErrCancelled)
	}

	path, err := s.reserve()
	if err != nil {
		return compressor.FailedResult(handle, "", err)
	}

	res := s.compressor.ProcessFromResolver(handle, path, s.open, s.opts.Spec)
	s.finish(path, res)
	return res
}

func (s *Session) finish(path string, res compressor.Result) {
	if !res.Success {
		s.discard(path)
		return
	}

	s.mu.Lock()
	s.resultPath = path
	s.pendingPath = ""
	s.displayName = ""
	s.mu.Unlock()
	s.clearStore()

	logger.WithFile(s.logger, path).WithFields(logrus.Fields{
		"width":  res.Width,
		"height": res.Height,
		"bytes":  res.Bytes,
	}).Info("Picked image ready")
}

// reserve creates an empty, uniquely named file in the storage directory and
// records it as the pending output.
func (s *Session) reserve() (string, error) {
	if err := os.MkdirAll(s.opts.StorageDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	displayName := s.opts.FilePrefix + s.opts.Now().Format("20060102_150405") + "_"
	var path string
	for attempt := 0; ; attempt++ {
		path = filepath.Join(s.opts.StorageDir, displayName+uuid.NewString()[:8]+".jpg")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_ = f.Close()
			break
		}
		if !os.IsExist(err) || attempt >= 3 {
			return "", fmt.Errorf("failed to reserve image file: %w", err)
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	s.mu.Lock()
	s.pendingPath = path
	s.displayName = displayName
	s.mu.Unlock()

	if err := s.store.Set(state.KeyPendingOutputPath, path); err != nil {
		s.logger.WithError(err).Warn("Failed to persist pending output path")
	}
	if err := s.store.Set(state.KeyPendingDisplayName, displayName); err != nil {
		s.logger.WithError(err).Warn("Failed to persist pending display name")
	}
	return path, nil
}

// discard removes a reserved file after a failed or cancelled flow.
func (s *Session) discard(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithFile(s.logger, path).WithError(err).Warn("Failed to remove reserved file")
	}

	s.mu.Lock()
	if s.pendingPath == path {
		s.pendingPath = ""
		s.displayName = ""
	}
	s.mu.Unlock()
	s.clearStore()
}

func (s *Session) clearStore() {
	if err := s.store.Delete(state.KeyPendingOutputPath, state.KeyPendingDisplayName); err != nil {
		s.logger.WithError(err).Warn("Failed to clear pending state")
	}
}
