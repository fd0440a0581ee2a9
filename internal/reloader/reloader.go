// Package reloader watches files matching a set of glob patterns and
// emits a reload edge the supervisor treats identically to SIGHUP.
// Grounded on the original's watchdog.Observer-based reloader.py, which
// this module replaces with fsnotify since no pack repo vendors a
// watchdog-equivalent directly; fsnotify is the ecosystem's de facto
// cross-platform file-watching library and is documented in SPEC_FULL.md
// as an out-of-pack substitution.
package reloader

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader batches filesystem change events behind a debounce window and
// emits one edge per batch on Edge(), mirroring the original's
// behavior of coalescing a burst of saves (e.g. from an editor or a
// `go build`-like toolchain) into a single restart.
type Reloader struct {
	watcher *fsnotify.Watcher
	globs   []string
	debounce time.Duration
	edge    chan struct{}
	errs    chan error
	done    chan struct{}
}

// New builds a Reloader watching the directories implied by globs (one
// glob pattern per element, as split from --watchfiles's semicolon-separated
// value). Only each pattern's own directory is watched; subdirectories are
// not. It does not start watching until Start is called.
func New(globs []string, debounce time.Duration) (*Reloader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}

	dirs := map[string]struct{}{}
	for _, g := range globs {
		dirs[filepath.Dir(g)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}

	return &Reloader{
		watcher:  w,
		globs:    globs,
		debounce: debounce,
		edge:     make(chan struct{}, 1),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the debouncing event loop in a goroutine until Close is
// called.
func (r *Reloader) Start() {
	go r.run()
}

func (r *Reloader) run() {
	var pending bool
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.matches(ev.Name) {
				continue
			}
			pending = true
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			if pending {
				pending = false
				select {
				case r.edge <- struct{}{}:
				default:
				}
			}
			timerCh = nil

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			select {
			case r.errs <- err:
			default:
			}

		case <-r.done:
			return
		}
	}
}

func (r *Reloader) matches(path string) bool {
	if len(r.globs) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, g := range r.globs {
		pattern := filepath.Base(g)
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if strings.HasSuffix(path, strings.TrimPrefix(g, "*")) {
			return true
		}
	}
	return false
}

// Edge returns the channel that receives one value per debounced batch
// of matching file changes.
func (r *Reloader) Edge() <-chan struct{} {
	return r.edge
}

// Close stops watching and releases the underlying OS resources.
func (r *Reloader) Close() error {
	close(r.done)
	return r.watcher.Close()
}
