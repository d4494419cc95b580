package indexer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"ragchat/internal/corpus"
)

// DefaultDebounce is the quiet period after the last corpus change before a rebuild starts.
const DefaultDebounce = 2 * time.Second

// Watch rebuilds the artifacts whenever a corpus file changes, until ctx is done.
// Bursts of events collapse into one rebuild. onRebuild, if set, receives each
// successful result; failed rebuilds are logged and the previous artifacts stay published.
func (ix *Indexer) Watch(ctx context.Context, debounce time.Duration, onRebuild func(*Loaded)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	err = filepath.WalkDir(ix.opts.DataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	ix.logger.Info("watching corpus", zap.String("dir", ix.opts.DataDir), zap.Duration("debounce", debounce))

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
			if ev.Op&fsnotify.Create == fsnotify.Create {
				// New subdirectories have to be watched explicitly.
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						ix.logger.Warn("watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			if !corpus.Matches(ev.Name, ix.opts.Extensions) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ix.logger.Debug("corpus changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ix.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			loaded, err := ix.Rebuild(ctx)
			if err != nil {
				ix.logger.Error("rebuild failed", zap.Error(err))
				continue
			}
			if onRebuild != nil {
				onRebuild(loaded)
			}
		}
	}
}
