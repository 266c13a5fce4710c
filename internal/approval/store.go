package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/iteration"
	"github.com/Iron-Ham/roundtable/internal/record"
)

const (
	// File holds an iteration's approval requests.
	File     = "approvals.json"
	lockFile = "approvals.lock"
)

// Status is the lifecycle of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Request is a held file write. Unknown keys are retained.
type Request struct {
	ID         string     `json:"id"`
	Iteration  string     `json:"iteration"`
	Agent      string     `json:"agent"`
	Path       string     `json:"path"`
	Root       string     `json:"root"`
	Content    string     `json:"content"`
	Status     Status     `json:"status"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	Extra record.Extra `json:"-"`
}

type requestAlias Request

// MarshalJSON implements json.Marshaler, including Extra keys.
func (r Request) MarshalJSON() ([]byte, error) {
	return record.Marshal(requestAlias(r), r.Extra)
}

// UnmarshalJSON implements json.Unmarshaler, retaining unknown keys.
func (r *Request) UnmarshalJSON(data []byte) error {
	var a requestAlias
	extra, err := record.Unmarshal(data, &a)
	if err != nil {
		return err
	}
	*r = Request(a)
	r.Extra = extra
	return nil
}

// Store persists requests in one JSON file per iteration directory.
type Store struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewStore returns a Store for an iteration directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Path returns the requests file.
func (s *Store) Path() string { return filepath.Join(s.dir, File) }

// update runs fn over the stored requests under both locks and writes the
// result back when fn succeeds.
func (s *Store) update(fn func([]Request) ([]Request, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl := iteration.NewFileLock(filepath.Join(s.dir, lockFile))
	if err := fl.Lock(); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	reqs, err := s.read()
	if err != nil {
		return err
	}
	reqs, err = fn(reqs)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write approvals: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write approvals: %w", err)
	}
	return nil
}

func (s *Store) read() ([]Request, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read approvals: %w", err)
	}
	var reqs []Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("parse approvals: %w", err)
	}
	return reqs, nil
}

// Add stores a new pending request and returns it with its id.
func (s *Store) Add(req Request) (Request, error) {
	req.ID = uuid.NewString()
	req.Status = StatusPending
	req.CreatedAt = s.now().UTC()
	req.ResolvedAt = nil
	err := s.update(func(reqs []Request) ([]Request, error) {
		return append(reqs, req), nil
	})
	return req, err
}

// List returns every request in creation order.
func (s *Store) List() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Pending returns the requests still awaiting a decision.
func (s *Store) Pending() ([]Request, error) {
	reqs, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []Request
	for _, r := range reqs {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

// PendingCount returns the number of pending requests.
func (s *Store) PendingCount() (int, error) {
	reqs, err := s.Pending()
	return len(reqs), err
}

// Get returns the request with id. A unique id prefix is accepted.
func (s *Store) Get(id string) (Request, error) {
	reqs, err := s.List()
	if err != nil {
		return Request{}, err
	}
	i, err := find(reqs, id)
	if err != nil {
		return Request{}, err
	}
	return reqs[i], nil
}

// Resolve records a decision on a pending request.
func (s *Store) Resolve(id string, approve bool, note string) (Request, error) {
	var out Request
	err := s.update(func(reqs []Request) ([]Request, error) {
		i, err := find(reqs, id)
		if err != nil {
			return nil, err
		}
		if reqs[i].Status != StatusPending {
			return nil, fmt.Errorf("%w: %s is %s", errors.ErrApprovalResolved, reqs[i].ID, reqs[i].Status)
		}
		now := s.now().UTC()
		reqs[i].Status = StatusDenied
		if approve {
			reqs[i].Status = StatusApproved
		}
		reqs[i].Note = note
		reqs[i].ResolvedAt = &now
		out = reqs[i]
		return reqs, nil
	})
	return out, err
}

func find(reqs []Request, id string) (int, error) {
	match := -1
	for i, r := range reqs {
		if r.ID == id {
			return i, nil
		}
		if len(id) >= 4 && len(r.ID) > len(id) && r.ID[:len(id)] == id {
			if match >= 0 {
				return -1, errors.NewValidationError("ambiguous approval id").WithValue(id)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, errors.NewNotFoundError("approval request", id).WithCause(errors.ErrApprovalNotFound)
	}
	return match, nil
}
