package iteration

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Iron-Ham/roundtable/internal/errors"
)

func TestFileStore_CreateLoadSave(t *testing.T) {
	store := NewFileStore(t.TempDir())

	st, err := store.Create("it-1", "build a thing", 20)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if st.Phase != PhaseRefinement || st.Status != StatusPending || st.MaxTurns != 20 {
		t.Errorf("Create() = %+v", st)
	}

	st.TurnCount = 3
	st.Status = StatusInProgress
	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load("it-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.TurnCount != 3 || loaded.Status != StatusInProgress {
		t.Errorf("Load() = %+v", loaded)
	}
	if _, err := os.Stat(filepath.Join(store.Dir("it-1"), StateFile+".tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestFileStore_Errors(t *testing.T) {
	store := NewFileStore(t.TempDir())

	if _, err := store.Load("missing"); !errors.Is(err, errors.ErrIterationNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrIterationNotFound", err)
	}
	if err := store.Save(&State{ID: "missing"}); !errors.Is(err, errors.ErrIterationNotFound) {
		t.Errorf("Save(missing) error = %v", err)
	}
	if _, err := store.Create("../escape", "", 5); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Create(../escape) error = %v, want ErrInvalidInput", err)
	}
	if _, err := store.Create("ok", "", 0); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Create(max 0) error = %v", err)
	}
	if _, err := store.Create("dup", "", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("dup", "", 5); !errors.Is(err, errors.ErrIterationExists) {
		t.Errorf("Create(dup) error = %v, want ErrIterationExists", err)
	}
}

func TestFileStore_List(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for _, id := range []string{"b", "a", "c"} {
		if _, err := store.Create(id, "", 5); err != nil {
			t.Fatal(err)
		}
	}
	os.MkdirAll(filepath.Join(store.Dir("not-an-iteration")), 0o755)

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("List() = %v", ids)
	}
}
