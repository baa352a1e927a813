package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"image-picker-go/internal/config"
	"image-picker-go/internal/logger"
	"image-picker-go/internal/picker"
	"image-picker-go/internal/watcher"
)

// terminal runs picker flows on stdin/stdout. The camera is any app that saves
// captures into the camera inbox directory.
type terminal struct {
	ctx    context.Context
	in     *bufio.Reader
	out    io.Writer
	cfg    *config.Config
	logger *logrus.Logger
}

func newTerminal(ctx context.Context, in io.Reader, out io.Writer, cfg *config.Config, log *logrus.Logger) *terminal {
	return &terminal{
		ctx:    ctx,
		in:     bufio.NewReader(in),
		out:    out,
		cfg:    cfg,
		logger: log,
	}
}

func (t *terminal) prompt(question string) string {
	fmt.Fprint(t.out, question)
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

func (t *terminal) ShowChooser(choose func(picker.Choice)) {
	switch strings.ToLower(t.prompt("Take a picture with the [c]amera, pick from the [g]allery, or [q]uit: ")) {
	case "c", "camera":
		choose(picker.ChoiceCamera)
	case "g", "gallery":
		choose(picker.ChoiceGallery)
	default:
		choose(picker.ChoiceCancel)
	}
}

// LaunchCamera waits for the next capture in the inbox and copies it into
// outputPath.
func (t *terminal) LaunchCamera(outputPath string, done func(ok bool)) {
	inbox := t.cfg.Camera.InboxDir
	w, err := watcher.New(inbox, t.cfg.Batch.SupportedExtensions, watcher.DefaultDebounce, t.logger)
	if err != nil {
		t.logger.WithError(err).Error("Failed to watch camera inbox")
		done(false)
		return
	}
	defer w.Close()

	fmt.Fprintf(t.out, "Waiting for a capture in %s (timeout %s)...\n", inbox, t.cfg.Camera.CaptureTimeout)

	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.Camera.CaptureTimeout)
	defer cancel()

	capture, err := w.WaitForNext(ctx)
	if err != nil {
		t.logger.WithError(err).Info("No capture received")
		done(false)
		return
	}

	if err := copyFile(capture, outputPath); err != nil {
		logger.WithFileOperation(t.logger, capture, "capture").WithError(err).Error("Failed to copy capture")
		done(false)
		return
	}
	logger.WithFileOperation(t.logger, capture, "capture").Debugf("Copied capture to %s", outputPath)
	done(true)
}

func (t *terminal) LaunchGallery(done func(handle string, ok bool)) {
	path := t.prompt("Image path (empty to cancel): ")
	if path == "" {
		done("", false)
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	done(path, true)
}

// HasCameraPermission reports whether the camera inbox exists.
func (t *terminal) HasCameraPermission() bool {
	return dirExists(t.cfg.Camera.InboxDir)
}

// RequestCameraPermission asks before creating the camera inbox.
func (t *terminal) RequestCameraPermission(done func(granted bool)) {
	answer := t.prompt(fmt.Sprintf("Create camera inbox %s? [y/N]: ", t.cfg.Camera.InboxDir))
	if a := strings.ToLower(answer); a != "y" && a != "yes" {
		done(false)
		return
	}
	if err := os.MkdirAll(t.cfg.Camera.InboxDir, 0755); err != nil {
		t.logger.WithError(err).Error("Failed to create camera inbox")
		done(false)
		return
	}
	done(true)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
