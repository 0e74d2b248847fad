package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// RunFile reads the script at path and runs it.
func (s *Session) RunFile(ctx context.Context, path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return s.Run(ctx, string(data))
}

// Watch runs the script at path, then runs it again each time it changes
// until ctx is done. report, if non-nil, receives the result of every run.
// The parent directory is watched so saves that replace the file are seen.
func (s *Session) Watch(ctx context.Context, path string, debounce time.Duration, report func(v any, err error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session: watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("session: watch %s: %w", abs, err)
	}
	s.logger.Info("watching %s", abs)

	run := func() {
		v, err := s.RunFile(ctx, abs)
		if report != nil {
			report(v, err)
		}
	}
	run()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error: %v", err)

		case <-timer.C:
			if s.closed.Load() {
				return ErrClosed
			}
			s.logger.Debug("change detected: %s", abs)
			run()
		}
	}
}
