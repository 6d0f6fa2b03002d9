package esp

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// cacheWatcher flushes the script cache whenever a file below the
// public dir changes, so edited pages show up without a restart.
type cacheWatcher struct {
	fs    *fsnotify.Watcher
	cache *scriptCache
	done  chan struct{}
}

func newCacheWatcher(dir string, cache *scriptCache) (*cacheWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "can't create file watcher")
	}

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fs.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = fs.Close()
		return nil, errors.Wrapf(err, "can't watch '%s'", dir)
	}

	cw := &cacheWatcher{
		fs:    fs,
		cache: cache,
		done:  make(chan struct{}),
	}

	go cw.loop()
	return cw, nil
}

func (cw *cacheWatcher) loop() {
	for {
		select {
		case ev, ok := <-cw.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				cw.cache.flush()
			}
		case _, ok := <-cw.fs.Errors:
			if !ok {
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (cw *cacheWatcher) close() error {
	close(cw.done)
	return cw.fs.Close()
}
