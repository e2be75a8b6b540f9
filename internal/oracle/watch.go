package oracle

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

// ErrNoRulesPath is returned by WatchRules when no rule file is configured.
var ErrNoRulesPath = errors.New("no rule file configured")

// WatchRules reloads the catalog whenever the configured rule file changes
// and blocks until ctx is cancelled. A document that fails to load is
// logged and the active catalog keeps serving.
func (s *Service) WatchRules(ctx context.Context) error {
	if s.rulesPath == "" {
		return ErrNoRulesPath
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors and config management replace the file
	// rather than writing it in place.
	target := filepath.Clean(s.rulesPath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	s.logger.Info("watching rule file", "path", target)

	timer := time.NewTimer(watchDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("rule watcher error", "error", err)

		case <-timer.C:
			cat, err := s.ReloadRules(ctx)
			if err != nil {
				s.logger.Error("rule reload failed, keeping active catalog",
					"path", target,
					"error", err,
				)
				continue
			}
			s.logger.Info("rule catalog reloaded",
				"path", target,
				"version", cat.Version(),
				"rules_count", cat.Len(),
			)
		}
	}
}
