package server

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config and jobs files and calls reload after
// writes settle.
type Reloader struct {
	watcher *fsnotify.Watcher
	log     *zap.Logger
	reload  func() error

	mu    sync.Mutex
	timer *time.Timer
}

// NewReloader starts watching the given paths. Paths that do not
// exist yet are skipped; they can be picked up by a restart.
func NewReloader(paths []string, log *zap.Logger, reload func() error) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reloader{watcher: watcher, log: log, reload: reload}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	return r, nil
}

// Run processes watch events until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			r.schedule(ev.Name)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (r *Reloader) schedule(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(reloadDebounce, func() {
		if err := r.reload(); err != nil {
			r.log.Warn("reload failed", zap.String("file", name), zap.Error(err))
			return
		}
		r.log.Info("reloaded", zap.String("file", name))
	})
}
