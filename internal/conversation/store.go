package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFile is the conversation log inside an iteration directory.
	LogFile = "conversation.jsonl"
	// DebugFile is the diagnostic record log inside an iteration directory.
	DebugFile = "debug.jsonl"
)

// maxLineSize bounds a single JSONL record; file contents written by agents
// can make turns large.
const maxLineSize = 16 * 1024 * 1024

// Store is the file-backed conversation log of one iteration.
// Appends are serialized by a mutex and use O_APPEND.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a Store in the iteration directory dir. Files are created
// lazily on first append.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Path returns the conversation log path.
func (s *Store) Path() string { return filepath.Join(s.dir, LogFile) }

// DebugPath returns the debug record log path.
func (s *Store) DebugPath() string { return filepath.Join(s.dir, DebugFile) }

// Append writes msg as one line. An empty ID is filled with a UUID and a zero
// Timestamp with the current time. The stored message is returned.
func (s *Store) Append(msg Message) (Message, error) {
	if msg.Sender == "" {
		return Message{}, fmt.Errorf("conversation: message sender is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("conversation: marshal message: %w", err)
	}
	if err := s.appendLine(s.Path(), data); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ReadAll returns every message in log order. A missing log is empty.
// Malformed lines are skipped.
func (s *Store) ReadAll() ([]Message, error) {
	var msgs []Message
	err := readLines(s.Path(), func(line []byte) {
		var m Message
		if json.Unmarshal(line, &m) == nil {
			msgs = append(msgs, m)
		}
	})
	return msgs, err
}

// AppendDebug writes a diagnostic record.
func (s *Store) AppendDebug(rec DebugRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("conversation: marshal debug record: %w", err)
	}
	return s.appendLine(s.DebugPath(), data)
}

// ReadDebug returns every diagnostic record.
func (s *Store) ReadDebug() ([]DebugRecord, error) {
	var recs []DebugRecord
	err := readLines(s.DebugPath(), func(line []byte) {
		var r DebugRecord
		if json.Unmarshal(line, &r) == nil {
			recs = append(recs, r)
		}
	})
	return recs, err
}

func (s *Store) appendLine(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("conversation: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("conversation: open %s: %w", filepath.Base(path), err)
	}
	// One write per record so a record is either fully present or absent.
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("conversation: append to %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func readLines(path string, fn func([]byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("conversation: open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if line := scanner.Bytes(); len(line) > 0 {
			fn(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("conversation: scan %s: %w", filepath.Base(path), err)
	}
	return nil
}
