package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow delivers every message in the log at path to fn, then keeps
// delivering messages as they are appended until ctx is done. Partial lines
// are held back until their newline arrives.
func Follow(ctx context.Context, path string, fn func(Message)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("conversation: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the log may not exist yet.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("conversation: create directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("conversation: watch %s: %w", dir, err)
	}

	t := &tail{path: path, fn: fn}
	if err := t.drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := t.drain(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("conversation: watch: %w", err)
		}
	}
}

type tail struct {
	path    string
	offset  int64
	pending []byte
	fn      func(Message)
}

func (t *tail) drain() error {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("conversation: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return fmt.Errorf("conversation: seek log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("conversation: read log: %w", err)
	}
	t.offset += int64(len(data))
	t.pending = append(t.pending, data...)

	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			break
		}
		line := t.pending[:i]
		t.pending = t.pending[i+1:]
		if len(line) == 0 {
			continue
		}
		var m Message
		if json.Unmarshal(line, &m) == nil {
			t.fn(m)
		}
	}
	return nil
}
