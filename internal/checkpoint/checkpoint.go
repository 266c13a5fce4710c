// Package checkpoint snapshots and restores an iteration directory.
//
// A checkpoint is a numbered directory under {iteration}/checkpoints holding
// a copy of every file not matched by an exclusion pattern, plus a
// checkpoint.json metadata record. Numbers form one sequence per iteration,
// shared by automatic and manual checkpoints. Checkpoints are never modified
// after creation.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/record"
)

const (
	// Dir is the checkpoints directory inside an iteration directory.
	Dir = "checkpoints"
	// MetaFile is the metadata record inside each checkpoint directory.
	MetaFile = "checkpoint.json"

	stagingSuffix = ".staging"
)

// DefaultExclude lists the patterns never captured or restored. Patterns
// are matched against slash-separated paths relative to the iteration
// directory; "*" stops at "/", "**" does not.
var DefaultExclude = []string{
	Dir + "/**",
	"debug.log*",
	"debug.jsonl",
	"*.lock",
	"*.tmp",
}

// Trigger records why a checkpoint was taken.
type Trigger string

const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
)

// Fields are the iteration fields captured in a checkpoint's metadata.
type Fields struct {
	Phase     string
	Status    string
	MaxTurns  int
	TurnCount int
}

// Meta is a checkpoint's metadata record. Unknown keys are retained.
type Meta struct {
	Number      int       `json:"number"`
	Phase       string    `json:"phase"`
	Status      string    `json:"status"`
	MaxTurns    int       `json:"max_turns"`
	TurnCount   int       `json:"turn_count"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	Trigger     Trigger   `json:"trigger"`
	Files       []string  `json:"files"`

	Extra record.Extra `json:"-"`
}

type metaAlias Meta

// MarshalJSON implements json.Marshaler, including Extra keys.
func (m Meta) MarshalJSON() ([]byte, error) {
	return record.Marshal(metaAlias(m), m.Extra)
}

// UnmarshalJSON implements json.Unmarshaler, retaining unknown keys.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var a metaAlias
	extra, err := record.Unmarshal(data, &a)
	if err != nil {
		return err
	}
	*m = Meta(a)
	m.Extra = extra
	return nil
}

// Manager creates, lists and restores the checkpoints of one iteration
// directory.
type Manager struct {
	fs      afero.Fs
	dir     string
	exclude []glob.Glob
	now     func() time.Time

	mu sync.Mutex
}

// New returns a Manager for dir on the OS filesystem. Patterns extend
// DefaultExclude.
func New(dir string, patterns ...string) (*Manager, error) {
	return NewWithFs(afero.NewOsFs(), dir, patterns...)
}

// NewWithFs returns a Manager backed by fsys.
func NewWithFs(fsys afero.Fs, dir string, patterns ...string) (*Manager, error) {
	m := &Manager{fs: fsys, dir: dir, now: time.Now}
	for _, p := range append(slices.Clone(DefaultExclude), patterns...) {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid exclude pattern").
				WithField("checkpoint.exclude").
				WithValue(p).
				WithCause(err)
		}
		m.exclude = append(m.exclude, g)
	}
	return m, nil
}

// Excluded reports whether the slash-separated path rel is left out of
// checkpoints.
func (m *Manager) Excluded(rel string) bool {
	for _, g := range m.exclude {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (m *Manager) root() string { return filepath.Join(m.dir, Dir) }

func (m *Manager) numberDir(n int) string {
	return filepath.Join(m.root(), fmt.Sprintf("%04d", n))
}

// files returns the non-excluded files under the iteration directory,
// relative and slash-separated, in lexical order.
func (m *Manager) files() ([]string, error) {
	var out []string
	err := afero.Walk(m.fs, m.dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if p == m.dir {
				return err
			}
			return nil
		}
		rel, err := filepath.Rel(m.dir, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			if rel == Dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || m.Excluded(rel) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	slices.Sort(out)
	return out, err
}

// numbers returns the existing checkpoint numbers, ascending.
func (m *Manager) numbers() ([]int, error) {
	entries, err := afero.ReadDir(m.fs, m.root())
	if err != nil {
		if exists, _ := afero.DirExists(m.fs, m.root()); !exists {
			return nil, nil
		}
		return nil, err
	}
	var nums []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n <= 0 {
			continue
		}
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums, nil
}

// Create snapshots the iteration directory under the next number.
func (m *Manager) Create(fields Fields, description string, trigger Trigger) (*Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nums, err := m.numbers()
	if err != nil {
		return nil, errors.Wrap(err, "list checkpoints")
	}
	n := 1
	if len(nums) > 0 {
		n = nums[len(nums)-1] + 1
	}

	files, err := m.files()
	if err != nil {
		return nil, errors.Wrap(err, "scan iteration directory")
	}

	// Build in a staging directory and rename into place, so a crash
	// never leaves a numbered directory without metadata.
	final := m.numberDir(n)
	staging := final + stagingSuffix
	if err := m.fs.RemoveAll(staging); err != nil {
		return nil, err
	}
	if err := m.fs.MkdirAll(staging, 0o755); err != nil {
		return nil, errors.Wrap(err, "create checkpoint directory")
	}

	for _, rel := range files {
		if err := m.copyFile(filepath.Join(m.dir, filepath.FromSlash(rel)), filepath.Join(staging, filepath.FromSlash(rel))); err != nil {
			_ = m.fs.RemoveAll(staging)
			return nil, errors.Wrapf(err, "copy %s", rel)
		}
	}

	meta := &Meta{
		Number:      n,
		Phase:       fields.Phase,
		Status:      fields.Status,
		MaxTurns:    fields.MaxTurns,
		TurnCount:   fields.TurnCount,
		CreatedAt:   m.now().UTC(),
		Description: description,
		Trigger:     trigger,
		Files:       files,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = m.fs.RemoveAll(staging)
		return nil, err
	}
	if err := afero.WriteFile(m.fs, filepath.Join(staging, MetaFile), data, 0o644); err != nil {
		_ = m.fs.RemoveAll(staging)
		return nil, errors.Wrap(err, "write checkpoint metadata")
	}
	if err := m.fs.Rename(staging, final); err != nil {
		_ = m.fs.RemoveAll(staging)
		return nil, errors.Wrap(err, "finalize checkpoint")
	}
	return meta, nil
}

func (m *Manager) copyFile(src, dst string) error {
	data, err := afero.ReadFile(m.fs, src)
	if err != nil {
		return err
	}
	mode := fs.FileMode(0o644)
	if info, err := m.fs.Stat(src); err == nil {
		mode = info.Mode().Perm()
	}
	if err := m.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(m.fs, dst, data, mode)
}

// List returns the metadata of every readable checkpoint, ordered by
// number. A checkpoint with missing or corrupt metadata is skipped.
func (m *Manager) List() ([]Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nums, err := m.numbers()
	if err != nil {
		return nil, err
	}
	out := make([]Meta, 0, len(nums))
	for _, n := range nums {
		meta, err := m.readMeta(n)
		if err != nil {
			continue
		}
		out = append(out, *meta)
	}
	return out, nil
}

// Get returns checkpoint n's metadata.
func (m *Manager) Get(n int) (*Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readMeta(n)
}

func (m *Manager) notFound(n int) error {
	return errors.NewNotFoundError("checkpoint", strconv.Itoa(n)).WithCause(errors.ErrCheckpointNotFound)
}

func (m *Manager) readMeta(n int) (*Meta, error) {
	if exists, _ := afero.DirExists(m.fs, m.numberDir(n)); !exists {
		return nil, m.notFound(n)
	}
	data, err := afero.ReadFile(m.fs, filepath.Join(m.numberDir(n), MetaFile))
	if err != nil {
		return nil, errors.Wrapf(err, "read checkpoint %d metadata", n)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(err, "parse checkpoint %d metadata", n)
	}
	return &meta, nil
}

// Restore replaces the non-excluded files of the iteration directory with
// checkpoint n's copies and returns its metadata, which the caller applies
// to the iteration state. An unknown number fails before anything is
// touched. Restore does not checkpoint the current state first.
func (m *Manager) Restore(n int) (*Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.readMeta(n)
	if err != nil {
		return nil, err
	}

	src := m.numberDir(n)
	var saved []string
	err = afero.Walk(m.fs, src, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == MetaFile || m.Excluded(rel) {
			return nil
		}
		saved = append(saved, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan checkpoint %d", n)
	}

	current, err := m.files()
	if err != nil {
		return nil, errors.Wrap(err, "scan iteration directory")
	}
	for _, rel := range current {
		if err := m.fs.Remove(filepath.Join(m.dir, filepath.FromSlash(rel))); err != nil {
			return nil, errors.Wrapf(err, "remove %s", rel)
		}
	}
	m.pruneEmptyDirs(current)

	for _, rel := range saved {
		if err := m.copyFile(filepath.Join(src, filepath.FromSlash(rel)), filepath.Join(m.dir, filepath.FromSlash(rel))); err != nil {
			return nil, errors.Wrapf(err, "restore %s", rel)
		}
	}
	return meta, nil
}

// pruneEmptyDirs removes directories that held only removed files, deepest
// first. Non-empty directories are left alone.
func (m *Manager) pruneEmptyDirs(removed []string) {
	seen := make(map[string]bool)
	var dirs []string
	for _, rel := range removed {
		for d := path.Dir(rel); d != "." && !seen[d]; d = path.Dir(d) {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	slices.SortFunc(dirs, func(a, b string) int {
		return strings.Count(b, "/") - strings.Count(a, "/")
	})
	for _, d := range dirs {
		full := filepath.Join(m.dir, filepath.FromSlash(d))
		if empty, err := afero.IsEmpty(m.fs, full); err == nil && empty {
			_ = m.fs.Remove(full)
		}
	}
}
