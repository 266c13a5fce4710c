// Package conflict detects files touched by more than one agent while the
// agents of a layer work in separate sandboxes. Overlaps are advisory: they
// are likely merge conflicts later, but nothing is blocked.
package conflict

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileOverlap is a path modified in more than one sandbox.
type FileOverlap struct {
	Path         string    // Path relative to the sandbox root
	Agents       []string  // Agents that modified it, sorted
	LastModified time.Time // Most recent modification by any of them
}

const debounce = 50 * time.Millisecond

// Detector watches sandbox directories and tracks, per relative path, which
// agents modified it.
type Detector struct {
	watcher *fsnotify.Watcher

	// agent -> sandbox root
	sandboxes map[string]string

	// relative path -> agent -> last modification
	modifications map[string]map[string]time.Time

	overlaps  []FileOverlap
	onOverlap func([]FileOverlap)

	ignore []string

	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a detector. Call Start to begin processing events.
func New() (*Detector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Detector{
		watcher:       watcher,
		sandboxes:     make(map[string]string),
		modifications: make(map[string]map[string]time.Time),
		ignore:        []string{".git", ".roundtable", "node_modules", ".DS_Store"},
		stopCh:        make(chan struct{}),
	}, nil
}

// OnOverlap sets the callback invoked with the full overlap list whenever a
// modification leaves at least one overlap.
func (d *Detector) OnOverlap(cb func([]FileOverlap)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOverlap = cb
}

// Watch starts tracking agent's sandbox.
func (d *Detector) Watch(agent, root string) error {
	root = filepath.Clean(root)

	d.mu.Lock()
	d.sandboxes[agent] = root
	d.mu.Unlock()

	return d.watchTree(root)
}

// watchTree adds root and its subdirectories; fsnotify is not recursive.
func (d *Detector) watchTree(root string) error {
	if err := d.watcher.Add(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil && d.ignored(rel) {
			return filepath.SkipDir
		}
		_ = d.watcher.Add(path)
		return nil
	})
}

// Unwatch stops tracking agent and forgets its modifications.
func (d *Detector) Unwatch(agent string) {
	d.mu.Lock()
	root, ok := d.sandboxes[agent]
	if !ok {
		d.mu.Unlock()
		return
	}
	_ = d.watcher.Remove(root)
	delete(d.sandboxes, agent)
	for path, agents := range d.modifications {
		delete(agents, agent)
		if len(agents) == 0 {
			delete(d.modifications, path)
		}
	}
	d.recalculate()
	d.mu.Unlock()
}

// Record notes that agent modified relPath. Writes that go through the
// engine are recorded directly; watched sandboxes also catch edits made
// outside it.
func (d *Detector) Record(agent, relPath string) {
	d.mu.Lock()
	d.record(agent, filepath.ToSlash(filepath.Clean(relPath)), time.Now())
	overlaps, cb := d.snapshot()
	d.mu.Unlock()

	if cb != nil && len(overlaps) > 0 {
		cb(overlaps)
	}
}

func (d *Detector) record(agent, relPath string, at time.Time) {
	if d.modifications[relPath] == nil {
		d.modifications[relPath] = make(map[string]time.Time)
	}
	d.modifications[relPath][agent] = at
	d.recalculate()
}

// Start begins processing filesystem events.
func (d *Detector) Start() {
	go d.watchLoop()
}

// Stop stops the detector and releases the watcher. It is safe to call
// more than once.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		_ = d.watcher.Close()
	})
}

func (d *Detector) watchLoop() {
	// Editors emit several events per save; collect them briefly.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]fsnotify.Event)

	for {
		select {
		case <-d.stopCh:
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[event.Name] = event
			timer.Reset(debounce)

		case <-timer.C:
			events := pending
			pending = make(map[string]fsnotify.Event)
			for _, event := range events {
				d.handleEvent(event)
			}

		case _, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (d *Detector) handleEvent(event fsnotify.Event) {
	path := event.Name

	d.mu.Lock()
	agent, rel := d.owner(path)
	if agent == "" || d.ignored(rel) {
		d.mu.Unlock()
		return
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		d.mu.Unlock()
		if event.Op&fsnotify.Create != 0 {
			_ = d.watchTree(path)
		}
		return
	}
	d.record(agent, rel, time.Now())
	overlaps, cb := d.snapshot()
	d.mu.Unlock()

	if cb != nil && len(overlaps) > 0 {
		cb(overlaps)
	}
}

// owner returns the agent whose sandbox contains path. Caller holds d.mu.
func (d *Detector) owner(path string) (agent, rel string) {
	for a, root := range d.sandboxes {
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				continue
			}
			return a, filepath.ToSlash(rel)
		}
	}
	return "", ""
}

// ignored reports whether a path relative to a sandbox root lies in an
// ignored directory.
func (d *Detector) ignored(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if slices.Contains(d.ignore, part) {
			return true
		}
	}
	return false
}

// recalculate rebuilds the overlap list. Caller holds d.mu.
func (d *Detector) recalculate() {
	overlaps := make([]FileOverlap, 0)
	for path, agents := range d.modifications {
		if len(agents) < 2 {
			continue
		}
		o := FileOverlap{Path: path}
		for agent, at := range agents {
			o.Agents = append(o.Agents, agent)
			if at.After(o.LastModified) {
				o.LastModified = at
			}
		}
		slices.Sort(o.Agents)
		overlaps = append(overlaps, o)
	}
	slices.SortFunc(overlaps, func(a, b FileOverlap) int { return strings.Compare(a.Path, b.Path) })
	d.overlaps = overlaps
}

// snapshot returns a copy of the overlaps and the callback. Caller holds d.mu.
func (d *Detector) snapshot() ([]FileOverlap, func([]FileOverlap)) {
	return slices.Clone(d.overlaps), d.onOverlap
}

// Overlaps returns the current overlaps ordered by path.
func (d *Detector) Overlaps() []FileOverlap {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.overlaps)
}

// FilesModifiedBy returns the paths agent modified, sorted.
func (d *Detector) FilesModifiedBy(agent string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var files []string
	for path, agents := range d.modifications {
		if _, ok := agents[agent]; ok {
			files = append(files, path)
		}
	}
	slices.Sort(files)
	return files
}

// ClearOlderThan forgets modifications older than maxAge.
func (d *Detector) ClearOlderThan(maxAge time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for path, agents := range d.modifications {
		for agent, at := range agents {
			if at.Before(cutoff) {
				delete(agents, agent)
			}
		}
		if len(agents) == 0 {
			delete(d.modifications, path)
		}
	}
	d.recalculate()
}

// HasOverlaps reports whether any path is modified by more than one agent.
func (d *Detector) HasOverlaps() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.overlaps) > 0
}
