package routes

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 100 * time.Millisecond

type ChangeKind int

const (
	ChangeRoute ChangeKind = iota
	ChangeScene
	ChangeScript
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeScene:
		return "scene"
	case ChangeScript:
		return "script"
	}
	return "route"
}

// Change is a debounced edit of a route, scene or script file. Name is the
// document name with its extension stripped.
type Change struct {
	Path string
	Name string
	Kind ChangeKind
}

// Watcher reports edits under the watched directories.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan Change
	Errors  chan error
	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewWatcher(dirs ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, err
		}
	}

	watcher := &Watcher{
		watcher: w,
		Events:  make(chan Change, 16),
		Errors:  make(chan error, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go watcher.run()
	return watcher, nil
}

// WatchDisk watches the on-disk routes, scenes and scripts directories that
// exist.
func WatchDisk() (*Watcher, error) {
	var dirs []string
	for _, sub := range []string{"", "scenes", "scripts"} {
		dir := filepath.Join(DiskDir, sub)
		if isDir(dir) {
			dirs = append(dirs, dir)
		}
	}
	return NewWatcher(dirs...)
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.done
		close(w.Events)
		close(w.Errors)
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	pending := newDebouncer(debounce)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			change, ok := classify(event.Name)
			if !ok {
				continue
			}
			now := time.Now()
			pending.add(change, now)
			if wait, ok := pending.next(now); ok {
				timer.Reset(wait)
			}
		case <-timer.C:
			now := time.Now()
			for _, change := range pending.due(now) {
				select {
				case w.Events <- change:
				case <-w.closeCh:
					return
				}
			}
			if wait, ok := pending.next(now); ok {
				timer.Reset(wait)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			default:
			}
		case <-w.closeCh:
			timer.Stop()
			return
		}
	}
}

// debouncer holds each path's latest change until the path has been quiet
// for the window, so a burst of writes is reported once, after the last one.
type debouncer struct {
	window  time.Duration
	pending map[string]pendingChange
}

type pendingChange struct {
	change Change
	due    time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window, pending: make(map[string]pendingChange)}
}

func (d *debouncer) add(change Change, now time.Time) {
	d.pending[change.Path] = pendingChange{change: change, due: now.Add(d.window)}
}

// due removes and returns the changes whose quiet window has passed, in path
// order.
func (d *debouncer) due(now time.Time) []Change {
	var out []Change
	for path, p := range d.pending {
		if !p.due.After(now) {
			out = append(out, p.change)
			delete(d.pending, path)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// next reports how long until the earliest pending change is due.
func (d *debouncer) next(now time.Time) (time.Duration, bool) {
	var earliest time.Time
	for _, p := range d.pending {
		if earliest.IsZero() || p.due.Before(earliest) {
			earliest = p.due
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	return max(earliest.Sub(now), 0), true
}

func classify(path string) (Change, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch ext {
	case ".tengo":
		return Change{Path: path, Name: name, Kind: ChangeScript}, true
	case ".yaml", ".yml":
		kind := ChangeRoute
		if filepath.Base(filepath.Dir(path)) == "scenes" {
			kind = ChangeScene
		}
		return Change{Path: path, Name: name, Kind: kind}, true
	}
	return Change{}, false
}
