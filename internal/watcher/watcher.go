// Package watcher reports image files dropped into a directory, such as the
// inbox an external camera app saves captures to.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned once the underlying fsnotify watcher has been closed.
var ErrClosed = errors.New("watcher closed")

// ErrOutputInWatchedDir is returned when processed files would be written back
// into the directory being watched.
var ErrOutputInWatchedDir = errors.New("output directory is inside the watched directory")

// DefaultDebounce is how long a file must stay quiet before it is reported.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors one directory for new image files.
type Watcher struct {
	dir      string
	exts     map[string]struct{}
	debounce time.Duration
	logger   *logrus.Logger
	fs       *fsnotify.Watcher
}

// New starts watching dir, creating it when missing. An empty extension list
// accepts every file.
func New(dir string, extensions []string, debounce time.Duration, logger *logrus.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch folder %s: %w", dir, err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}

	return &Watcher{
		dir:      dir,
		exts:     exts,
		debounce: debounce,
		logger:   logger,
		fs:       fsWatcher,
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run calls handle for every accepted file until ctx is done. handle runs on
// the calling goroutine, one file at a time.
func (w *Watcher) Run(ctx context.Context, handle func(path string)) error {
	err := w.loop(ctx, func(path string) bool {
		handle(path)
		return false
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// WaitForNext blocks until one accepted file has appeared and settled.
func (w *Watcher) WaitForNext(ctx context.Context) (string, error) {
	var found string
	err := w.loop(ctx, func(path string) bool {
		found = path
		return true
	})
	if err != nil {
		return "", err
	}
	return found, nil
}

type settled struct {
	name string
	gen  int
}

// loop debounces events per file and hands settled files to handle until it
// returns true.
func (w *Watcher) loop(ctx context.Context, handle func(path string) bool) error {
	done := make(chan struct{})
	defer close(done)

	ready := make(chan settled)
	timers := make(map[string]*time.Timer)
	gens := make(map[string]int)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return ErrClosed
			}
			if !w.accept(event) {
				continue
			}

			if timer, exists := timers[event.Name]; exists {
				timer.Stop()
			}
			gens[event.Name]++
			s := settled{name: event.Name, gen: gens[event.Name]}
			timers[event.Name] = time.AfterFunc(w.debounce, func() {
				select {
				case ready <- s:
				case <-done:
				}
			})

		case s := <-ready:
			if gens[s.name] != s.gen {
				continue // superseded by a later event
			}
			delete(timers, s.name)
			delete(gens, s.name)

			if info, err := os.Stat(s.name); err != nil || info.IsDir() {
				continue
			}
			if w.logger != nil {
				w.logger.WithField("file", s.name).Debug("New file settled")
			}
			if handle(s.name) {
				return nil
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return ErrClosed
			}
			if w.logger != nil {
				w.logger.WithError(err).Warn("Watcher error")
			}
		}
	}
}

// CheckOutputDir returns ErrOutputInWatchedDir when output is watched or lies
// below it. Writing there would report every output as a new file.
func CheckOutputDir(watched, output string) error {
	w, err := resolveDir(watched)
	if err != nil {
		return err
	}
	o, err := resolveDir(output)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(w, o)
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("%w: %s is under %s", ErrOutputInWatchedDir, output, watched)
	}
	return nil
}

func resolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	// Missing directories resolve through their nearest existing parent.
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}
	real, err := resolveDir(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(real, filepath.Base(abs)), nil
}

// accept filters events down to created or written image files. Dotfiles and
// .tmp files are skipped so half-written files and our own temp outputs are ignored.
func (w *Watcher) accept(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(base))]
	return ok
}
