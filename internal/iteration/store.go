package iteration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/Iron-Ham/roundtable/internal/errors"
)

const (
	iterationsDir = "iterations"
	// StateFile is the state record inside an iteration directory.
	StateFile = "state.json"
	stateLock = "state.lock"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// FileStore keeps iteration state as JSON files. Writes go to a temporary
// file and are renamed into place under a cross-process file lock.
type FileStore struct {
	root string
	now  func() time.Time
}

// NewFileStore creates a FileStore rooted at the state directory root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, now: time.Now}
}

// Dir returns the directory of iteration id.
func (s *FileStore) Dir(id string) string {
	return filepath.Join(s.root, iterationsDir, id)
}

// Create initializes a new iteration in the first phase.
func (s *FileStore) Create(id, description string, maxTurns int) (*State, error) {
	if !idRegex.MatchString(id) {
		return nil, errors.NewValidationError("iteration id must be alphanumeric with . _ -").WithField("id").WithValue(id)
	}
	if maxTurns <= 0 {
		return nil, errors.NewValidationError("max turns must be positive").WithField("max_turns").WithValue(maxTurns)
	}
	dir := s.Dir(id)
	if _, err := os.Stat(filepath.Join(dir, StateFile)); err == nil {
		return nil, errors.NewIterationError("cannot create", errors.ErrIterationExists).WithIterationID(id)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create iteration directory: %w", err)
	}
	now := s.now().UTC()
	st := &State{
		ID:          id,
		Description: description,
		Status:      StatusPending,
		Phase:       PhaseRefinement,
		MaxTurns:    maxTurns,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.write(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Load reads the state of iteration id.
func (s *FileStore) Load(id string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(id), StateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("iteration", id).WithCause(errors.ErrIterationNotFound)
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state of %s: %w", id, err)
	}
	if st.ID == "" {
		st.ID = id
	}
	return &st, nil
}

// Save writes st, stamping UpdatedAt.
func (s *FileStore) Save(st *State) error {
	if _, err := os.Stat(s.Dir(st.ID)); err != nil {
		return errors.NewNotFoundError("iteration", st.ID).WithCause(errors.ErrIterationNotFound)
	}
	st.UpdatedAt = s.now().UTC()
	return s.write(st)
}

func (s *FileStore) write(st *State) error {
	dir := s.Dir(st.ID)
	fl := NewFileLock(filepath.Join(dir, stateLock))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return atomicWriteFile(filepath.Join(dir, StateFile), data)
}

// List returns the ids of all iterations, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, iterationsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, iterationsDir, e.Name(), StateFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// atomicWriteFile writes data to a temp file next to path and renames it.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
