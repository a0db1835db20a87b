package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent carries the two fields the runtime may change without a
// restart: recognition_threshold and log_level. Everything else in
// Config (broker topology, data source, store path) requires a process
// restart to change.
type ReloadEvent struct {
	RecognitionThreshold float32
	LogLevel             string
}

// Watcher watches a single config file and emits ReloadEvent whenever it
// changes and reparses successfully, adapted from the teacher's
// multi-file fsnotify watcher but narrowed to one file and two fields.
type Watcher struct {
	path   string
	logger *slog.Logger
	events chan ReloadEvent
}

// NewWatcher returns a Watcher for path. If path is empty, Start is a
// no-op (there is nothing to watch).
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:   path,
		logger: logger,
		events: make(chan ReloadEvent, 4),
	}
}

// Events returns the channel of applied reload events.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching in the background until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		close(w.events)
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Error("config hot reload failed", "path", ev.Name, "error", err)
					continue
				}
				select {
				case w.events <- ReloadEvent{RecognitionThreshold: cfg.RecognitionThreshold, LogLevel: cfg.LogLevel}:
				default:
				}
				w.logger.Info("config reloaded", "path", ev.Name, "recognition_threshold", cfg.RecognitionThreshold, "log_level", cfg.LogLevel)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
