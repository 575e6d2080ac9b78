package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/gitsim/gitsim/logging"
	"github.com/gitsim/gitsim/utils"
)

// A Watcher reports every valid rewrite of a config file.
type Watcher struct {
	path    string
	logger  logging.Logger
	fsw     *fsnotify.Watcher
	configs chan *Config
	workers utils.StoppableWorkers
}

// NewWatcher starts watching the config file at path. The file's directory is watched rather than
// the file so replacing it by rename is seen as well.
func NewWatcher(path string, logger logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return nil, closeOnError(errors.Wrapf(err, "cannot watch %s", filepath.Dir(abs)), fsw)
	}
	w := &Watcher{
		path:    abs,
		logger:  logger,
		fsw:     fsw,
		configs: make(chan *Config, 1),
	}
	w.workers = utils.NewStoppableWorkers(w.watch)
	return w, nil
}

// Config returns the channel new configs arrive on. Only the latest unread config is kept.
func (w *Watcher) Config() <-chan *Config {
	return w.configs
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.workers.Stop()
	return err
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			conf, err := Read(w.path)
			if err != nil {
				// a half written file is common, the next write event retries
				w.logger.Warnw("ignoring config change", "path", w.path, "error", err)
				continue
			}
			w.logger.Infow("config changed", "path", w.path)
			w.publish(conf)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) publish(conf *Config) {
	select {
	case <-w.configs:
	default:
	}
	w.configs <- conf
}

func closeOnError(err error, c interface{ Close() error }) error {
	if closeErr := c.Close(); closeErr != nil {
		return errors.Wrapf(err, "also failed to close: %v", closeErr)
	}
	return err
}
