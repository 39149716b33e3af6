package debug

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch applies the tweak file at path now and again every time it is
// written, until ctx is done. The directory is watched so that editors
// which replace the file on save are seen too.
func (p *Panel) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch tweaks: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	p.reload(path)

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				p.reload(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("tweak watcher", "path", path, "err", err)
		}
	}
}

func (p *Panel) reload(path string) {
	if err := p.ApplyFile(path); err != nil {
		p.logger.Warn("tweak file rejected", "path", path, "err", err)
		return
	}
	p.logger.Info("tweak file applied", "path", path)
}
