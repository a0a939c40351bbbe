package config

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"svcregistry/internal/logger"
)

// eventLoop owns an fsnotify watcher and forwards the events accepted by
// match to onEvent until stopped.
type eventLoop struct {
	watcher *fsnotify.Watcher
	match   func(fsnotify.Event) bool
	onEvent func(fsnotify.Event)
	name    string

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func newEventLoop(component string, match func(fsnotify.Event) bool, onEvent func(fsnotify.Event)) (*eventLoop, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &eventLoop{
		watcher: w,
		match:   match,
		onEvent: onEvent,
		name:    component,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// start adds dirs and launches the loop. Directories that cannot be
// watched are skipped with a warning unless all of them fail. It reports
// how many were added.
func (l *eventLoop) start(dirs []string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return len(l.watcher.WatchList()), nil
	}

	added := 0
	var firstErr error
	for _, dir := range dirs {
		if err := l.watcher.Add(dir); err != nil {
			l.log().Warn().Err(err).Str("dir", dir).Msg("Cannot watch directory, skipping")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		added++
	}
	if added == 0 && firstErr != nil {
		return 0, firstErr
	}

	l.running = true
	go l.run()
	return added, nil
}

// log is resolved on each use so a logging reload takes effect.
func (l *eventLoop) log() *zerolog.Logger {
	log := logger.WithComponent(l.name)
	return &log
}

func (l *eventLoop) close() error {
	l.mu.Lock()
	running := l.running
	l.running = false
	l.mu.Unlock()

	if !running {
		return l.watcher.Close()
	}
	close(l.stop)
	err := l.watcher.Close()
	<-l.done
	return err
}

func (l *eventLoop) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if l.match(event) {
				l.onEvent(event)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log().Error().Err(err).Msg("Watcher error")
		}
	}
}

// FileWatcher calls onChange when a single file is written or created. The
// parent directory is watched so editors that replace the file are seen.
type FileWatcher struct {
	path string
	loop *eventLoop
}

// NewFileWatcher creates a watcher for path.
func NewFileWatcher(path string, onChange func()) (*FileWatcher, error) {
	name := filepath.Base(path)
	fw := &FileWatcher{path: path}
	loop, err := newEventLoop("file-watcher",
		func(e fsnotify.Event) bool {
			return filepath.Base(e.Name) == name && e.Op&(fsnotify.Write|fsnotify.Create) != 0
		},
		func(e fsnotify.Event) {
			fw.loop.log().Info().Str("path", path).Str("event", e.Op.String()).Msg("File changed, reloading")
			if onChange != nil {
				onChange()
			}
		})
	if err != nil {
		return nil, err
	}
	fw.loop = loop
	return fw, nil
}

// Start begins watching.
func (fw *FileWatcher) Start() error {
	if _, err := fw.loop.start([]string{filepath.Dir(fw.path)}); err != nil {
		return err
	}
	fw.loop.log().Info().Str("path", fw.path).Msg("Started watching file")
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (fw *FileWatcher) Stop() error { return fw.loop.close() }

// IsRunning returns whether the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool { return fw.loop.isRunning() }

// DirWatcher calls onChange with the path of every definition file created,
// written, removed or renamed in a set of directories. Missing directories
// are skipped.
type DirWatcher struct {
	dirs []string
	loop *eventLoop
}

// NewDirWatcher creates a watcher over dirs. An empty ext matches every file.
func NewDirWatcher(dirs []string, ext string, onChange func(path string)) (*DirWatcher, error) {
	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

	d := make([]string, len(dirs))
	copy(d, dirs)
	dw := &DirWatcher{dirs: d}
	loop, err := newEventLoop("dir-watcher",
		func(e fsnotify.Event) bool {
			if e.Op&relevant == 0 {
				return false
			}
			return ext == "" || strings.EqualFold(filepath.Ext(e.Name), ext)
		},
		func(e fsnotify.Event) {
			dw.loop.log().Debug().Str("path", e.Name).Str("event", e.Op.String()).Msg("Definition changed")
			if onChange != nil {
				onChange(e.Name)
			}
		})
	if err != nil {
		return nil, err
	}
	dw.loop = loop
	return dw, nil
}

// Start begins watching and returns the number of directories watched. It
// fails only when none of the directories can be watched.
func (dw *DirWatcher) Start() (int, error) {
	n, err := dw.loop.start(dw.dirs)
	if err != nil {
		return 0, err
	}
	dw.loop.log().Info().Int("dirs", n).Msg("Started watching definition directories")
	return n, nil
}

// Stop stops watching and waits for the loop to exit.
func (dw *DirWatcher) Stop() error { return dw.loop.close() }

// NewConfigWatcher creates a watcher that loads the scanner Config on file change.
func NewConfigWatcher(path string, callback func(*Config)) (*FileWatcher, error) {
	return NewFileWatcher(path, func() {
		log := logger.WithComponent("config-watcher")
		cfg, err := Load(path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload scanner configuration")
			return
		}
		if callback != nil {
			callback(cfg)
		}
	})
}

// NewLoggingWatcher creates a watcher that loads logger.Config on file change.
func NewLoggingWatcher(path string, callback func(*logger.Config)) (*FileWatcher, error) {
	return NewFileWatcher(path, func() {
		log := logger.WithComponent("logging-watcher")
		lc, err := LoadLogging(path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload logging configuration")
			return
		}
		if callback != nil {
			callback(lc)
		}
	})
}
