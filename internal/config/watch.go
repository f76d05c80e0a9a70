package config

import (
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watcher watches a single definitions file for writes and re-invokes a
// reconciler callback, debounced the same way the Persistence Coordinator
// collapses bursts of dirty-bucket events into one flush.
type Watcher struct {
	path       string
	debounce   time.Duration
	reconcile  func()
	log        *log.Logger
	fsw        *fsnotify.Watcher
	mu         sync.Mutex
	timer      *time.Timer
	stopped    bool
	stopSignal chan struct{}
}

// Watch starts watching path for write events, calling reconcile (with no
// arguments; callers close over whatever state they need to reload) after
// debounce has elapsed with no further writes. Call the returned Stop
// function to tear the watch down; it is idempotent. Watching is opt-in:
// nothing in the store installs one unless the caller calls Watch.
func Watch(path string, debounce time.Duration, logger *log.Logger, reconcile func()) (stop func(), err error) {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	if logger == nil {
		logger = log.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:       path,
		debounce:   debounce,
		reconcile:  reconcile,
		log:        logger,
		fsw:        fsw,
		stopSignal: make(chan struct{}),
	}
	go w.loop()
	return w.Stop, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.arm()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Printf("config: watch error on %s: %v", w.path, err)
		case <-w.stopSignal:
			return
		}
	}
}

func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}
	w.reconcile()
}

// Stop tears down the filesystem watch. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.stopSignal)
	w.fsw.Close()
}
