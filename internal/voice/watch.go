package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the profile file at path whenever it is written or
// replaced, until ctx is done. A reload that fails to parse or validate is
// logged and the previous voices stay in effect.
//
// The parent directory is watched rather than the file, so editors and
// config-map updates that swap the file by rename are picked up.
func (r *Registry) Watch(ctx context.Context, path string, logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch dir %q: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			r.reloadFile(abs, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (r *Registry) reloadFile(path string, logger zerolog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("Failed to read voice profiles, keeping previous voices")
		return
	}
	if err := r.Reload(data); err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("Invalid voice profiles, keeping previous voices")
		return
	}
	logger.Info().Str("file", path).Strs("voices", r.Names()).Msg("Voice profiles reloaded")
}
