// Package watcher implements C7: a debounced fsnotify subscription that
// coalesces filesystem events per path and emits a stable create/modify/
// delete decision once a path has been quiet for a configurable window.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semcore/internal/ignore"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// EventKind is the coalesced, debounce-settled outcome for a path.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
)

// Event is what the Watcher emits after a path's quiescence window elapses.
type Event struct {
	Path string
	Kind EventKind
}

// Config controls debounce timing.
type Config struct {
	Debounce time.Duration
}

// DefaultConfig returns the watcher's recommended default.
func DefaultConfig() Config {
	return Config{Debounce: 500 * time.Millisecond}
}

type pending struct {
	kind  EventKind
	timer *time.Timer
}

// Watcher subscribes to a workspace root and emits debounced Events.
type Watcher struct {
	cfg    Config
	ignore *ignore.Matcher
	root   string
	fsw    *fsnotify.Watcher
	logger *zap.Logger

	mu   sync.Mutex
	pend map[string]*pending

	out chan Event
}

// New builds a Watcher rooted at root. Call Run to start processing.
func New(root string, cfg Config, ignoreMatcher *ignore.Matcher, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, semerr.New(semerr.Io, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := addRecursive(fsw, root); err != nil {
		fsw.Close()
		return nil, semerr.New(semerr.Io, err)
	}

	return &Watcher{
		cfg:    cfg,
		ignore: ignoreMatcher,
		root:   root,
		fsw:    fsw,
		logger: logger,
		pend:   make(map[string]*pending),
		out:    make(chan Event, 256),
	}, nil
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

// Events returns the channel of debounce-settled events.
func (w *Watcher) Events() <-chan Event { return w.out }

// Run processes raw fsnotify events until ctx is cancelled, then drains
// in-flight debounce timers and closes the output channel.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.out)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, p := range w.pend {
				p.timer.Stop()
			}
			w.pend = map[string]*pending{}
			w.mu.Unlock()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.ignore != nil && w.ignore.Match(rel) {
		return
	}

	var kind EventKind
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = Deleted
	case ev.Has(fsnotify.Create):
		kind = Created
		if info, err := statIsDir(ev.Name); err == nil && info {
			w.fsw.Add(ev.Name)
			return
		}
	case ev.Has(fsnotify.Write):
		kind = Modified
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pend[rel]; ok {
		existing.timer.Stop()
		// Delete is sticky: once a path is marked deleted, a stray write
		// event arriving before debounce settles must not resurrect it.
		if existing.kind != Deleted {
			existing.kind = kind
		}
	} else {
		w.pend[rel] = &pending{kind: kind}
	}

	p := w.pend[rel]
	p.timer = time.AfterFunc(w.cfg.Debounce, func() {
		w.settle(ctx, rel)
	})
}

func (w *Watcher) settle(ctx context.Context, rel string) {
	w.mu.Lock()
	p, ok := w.pend[rel]
	if ok {
		delete(w.pend, rel)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	select {
	case w.out <- Event{Path: rel, Kind: p.kind}:
	case <-ctx.Done():
	}
}

func statIsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
