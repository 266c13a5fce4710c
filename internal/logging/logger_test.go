package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var entries []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", sc.Text(), err)
		}
		entries = append(entries, m)
	}
	return entries
}

func TestNewLogger_CreatesDebugLog(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	entries := decodeLines(t, data)
	if len(entries) != 1 || entries[0]["msg"] != "hello" {
		t.Errorf("entries = %v, want one entry with msg=hello", entries)
	}
}

func TestNewLogger_EmptyDirUsesStderr(t *testing.T) {
	logger, err := NewLogger("", LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.out != nil {
		t.Error("expected no owned writer when dir is empty")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelWarn)

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0]["level"] != "WARN" || entries[1]["level"] != "ERROR" {
		t.Errorf("levels = %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestLogger_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LevelDebug)

	child := base.WithIteration("it-1").WithPhase("planning").WithParticipant("alice").With("turn", 3, 42, "skipped")
	child.Debug("model call", "messages", 5)
	base.Info("parent")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	got := entries[0]
	for k, want := range map[string]any{"iteration": "it-1", "phase": "planning", "participant": "alice", "turn": float64(3), "messages": float64(5)} {
		if got[k] != want {
			t.Errorf("entry[%q] = %v, want %v", k, got[k], want)
		}
	}
	if _, ok := entries[1]["iteration"]; ok {
		t.Error("parent logger picked up child attributes")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Error("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"Warn":  LevelWarn,
		"error": LevelError,
		"bogus": LevelInfo,
		"":      LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
	if len(ValidLevels()) != 4 {
		t.Errorf("ValidLevels() = %v", ValidLevels())
	}
}

func TestLogger_CloseSharedWithChildren(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	child := logger.WithPhase("refinement")
	if err := child.Close(); err != nil {
		t.Fatalf("child Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestLogger_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.WithParticipant("agent").Info("turn", "worker", n, "j", j)
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := len(decodeLines(t, data)); got != 200 {
		t.Errorf("got %d lines, want 200", got)
	}
}
