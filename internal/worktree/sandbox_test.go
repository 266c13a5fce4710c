package worktree

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/iteration"
	"github.com/Iron-Ham/roundtable/internal/testutil"
)

// fakeRepo records calls and lets tests script merge results.
type fakeRepo struct {
	mu        sync.Mutex
	root      string
	current   string
	created   []string
	removed   []string
	committed []string
	merged    map[string]bool
	conflicts map[string][]string
	dirty     map[string]bool
}

func newFakeRepo(root string) *fakeRepo {
	return &fakeRepo{
		root:      root,
		current:   "main",
		merged:    make(map[string]bool),
		conflicts: make(map[string][]string),
		dirty:     make(map[string]bool),
	}
}

func (f *fakeRepo) Root() string { return f.root }

func (f *fakeRepo) BranchExists(_ context.Context, branch string) (bool, error) { return false, nil }

func (f *fakeRepo) CreateWorktree(_ context.Context, path, branch, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, branch+"@"+base)
	return os.MkdirAll(path, 0o755)
}

func (f *fakeRepo) RemoveWorktree(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return os.RemoveAll(path)
}

func (f *fakeRepo) CommitAll(_ context.Context, path, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty[path] {
		return false, nil
	}
	f.committed = append(f.committed, path)
	return true, nil
}

func (f *fakeRepo) Merge(_ context.Context, branch, message string) error {
	if files, ok := f.conflicts[branch]; ok {
		return errors.NewMergeConflictError(branch, "", files)
	}
	f.merged[branch] = true
	return nil
}

func (f *fakeRepo) IsMerged(_ context.Context, branch, into string) (bool, error) {
	return f.merged[branch], nil
}

func (f *fakeRepo) CurrentBranch(context.Context, string) (string, error) { return f.current, nil }

func TestSandboxManager_Naming(t *testing.T) {
	m := NewSandboxManager(newFakeRepo("/repo"), "/wt", "rt", "")

	if got, want := m.BranchName("it-1", 2, "alice"), "rt/it-1/layer-2/alice"; got != want {
		t.Errorf("BranchName() = %q, want %q", got, want)
	}
	if got, want := m.Path("it-1", 2, "alice"), filepath.Join("/wt", "it-1", "layer-2", "alice"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestSandboxManager_CreateLayer(t *testing.T) {
	repo := newFakeRepo(t.TempDir())
	m := NewSandboxManager(repo, t.TempDir(), "rt", "")
	ctx := context.Background()

	tasks := map[string][]string{"alice": {"t1", "t3"}, "bob": {"t2"}}
	got, err := m.CreateLayer(ctx, "it", 0, []string{"alice", "bob"}, tasks, nil)
	if err != nil {
		t.Fatalf("CreateLayer() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("CreateLayer() = %d bindings, want 2", len(got))
	}
	if got[0].Agent != "alice" || !reflect.DeepEqual(got[0].Tasks, []string{"t1", "t3"}) {
		t.Errorf("binding[0] = %+v", got[0])
	}
	if got[1].Status != iteration.SandboxActive || got[1].Branch != "rt/it/layer-0/bob" {
		t.Errorf("binding[1] = %+v", got[1])
	}
	if !reflect.DeepEqual(repo.created, []string{"rt/it/layer-0/alice@main", "rt/it/layer-0/bob@main"}) {
		t.Errorf("created = %v", repo.created)
	}

	// Re-running for the same layer creates nothing new.
	again, err := m.CreateLayer(ctx, "it", 0, []string{"alice", "bob"}, tasks, got)
	if err != nil || len(again) != 0 {
		t.Errorf("CreateLayer() again = %v, %v; want none", again, err)
	}
}

func TestSandboxManager_CreateLayerBlockedByUnresolved(t *testing.T) {
	m := NewSandboxManager(newFakeRepo(t.TempDir()), t.TempDir(), "rt", "main")

	existing := []iteration.SandboxBinding{
		{Agent: "alice", Layer: 0, Branch: "rt/it/layer-0/alice", Status: iteration.SandboxMerged},
		{Agent: "bob", Layer: 0, Branch: "rt/it/layer-0/bob", Status: iteration.SandboxConflicted},
		{Agent: "carol", Layer: 0, Branch: "rt/it/layer-0/carol", Status: iteration.SandboxAbandoned},
	}
	_, err := m.CreateLayer(context.Background(), "it", 1, []string{"alice"}, map[string][]string{"alice": {"t4"}}, existing)

	var unmerged *errors.UnmergedBranchesError
	if !errors.As(err, &unmerged) {
		t.Fatalf("CreateLayer() error = %v, want UnmergedBranchesError", err)
	}
	if unmerged.Layer != 0 || !reflect.DeepEqual(unmerged.Branches, []string{"rt/it/layer-0/bob"}) {
		t.Errorf("error = %+v", unmerged)
	}
}

func TestSandboxManager_CommitAll(t *testing.T) {
	repo := newFakeRepo(t.TempDir())
	m := NewSandboxManager(repo, t.TempDir(), "rt", "")

	bindings := []iteration.SandboxBinding{
		{Agent: "alice", Path: "/wt/alice", Status: iteration.SandboxActive},
		{Agent: "bob", Path: "/wt/bob", Status: iteration.SandboxActive},
		{Agent: "carol", Path: "/wt/carol", Status: iteration.SandboxMerged},
	}
	repo.dirty["/wt/alice"] = true
	repo.dirty["/wt/carol"] = true

	got, err := m.CommitAll(context.Background(), bindings, "auto-commit")
	if err != nil {
		t.Fatalf("CommitAll() error = %v", err)
	}
	want := []iteration.SandboxStatus{iteration.SandboxCommitted, iteration.SandboxActive, iteration.SandboxMerged}
	for i, b := range got {
		if b.Status != want[i] {
			t.Errorf("binding %s status = %s, want %s", b.Agent, b.Status, want[i])
		}
	}
	if len(repo.committed) != 1 || repo.committed[0] != "/wt/alice" {
		t.Errorf("committed = %v, want only alice", repo.committed)
	}
	if bindings[0].Status != iteration.SandboxActive {
		t.Error("CommitAll() mutated its input")
	}
}

func TestSandboxManager_MergeAllStopsAtConflict(t *testing.T) {
	repo := newFakeRepo(t.TempDir())
	wt := t.TempDir()
	m := NewSandboxManager(repo, wt, "rt", "")
	ctx := context.Background()

	bindings, err := m.CreateLayer(ctx, "it", 0, []string{"alice", "bob", "carol"},
		map[string][]string{"alice": {"a"}, "bob": {"b"}, "carol": {"c"}}, nil)
	if err != nil {
		t.Fatalf("CreateLayer() error = %v", err)
	}
	repo.conflicts["rt/it/layer-0/bob"] = []string{"shared.go"}

	got, err := m.MergeAll(ctx, "it", bindings)

	var conflict *errors.MergeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("MergeAll() error = %v, want MergeConflictError", err)
	}
	if conflict.Agent != "bob" || !reflect.DeepEqual(conflict.Participants, []string{"alice", "bob", "carol"}) {
		t.Errorf("conflict = %+v", conflict)
	}
	if got[0].Status != iteration.SandboxMerged {
		t.Errorf("alice status = %s, want merged", got[0].Status)
	}
	if got[1].Status != iteration.SandboxConflicted || !reflect.DeepEqual(got[1].ConflictFiles, []string{"shared.go"}) {
		t.Errorf("bob = %+v", got[1])
	}
	if got[2].Status != iteration.SandboxActive {
		t.Errorf("carol status = %s, want active (not attempted)", got[2].Status)
	}
	if _, err := os.Stat(got[0].Path); !os.IsNotExist(err) {
		t.Error("merged sandbox worktree should be removed")
	}
	if _, err := os.Stat(got[1].Path); err != nil {
		t.Error("conflicted sandbox worktree should be kept")
	}
}

func TestSandboxManager_MergeRequiresIntegrationCheckedOut(t *testing.T) {
	repo := newFakeRepo(t.TempDir())
	repo.current = "feature"
	m := NewSandboxManager(repo, t.TempDir(), "rt", "main")

	b := iteration.SandboxBinding{Agent: "alice", Branch: "rt/it/layer-0/alice", Status: iteration.SandboxCommitted}
	got, err := m.Merge(context.Background(), "it", b)
	if err == nil {
		t.Fatal("Merge() error = nil, want error")
	}
	if got.Status != iteration.SandboxCommitted {
		t.Errorf("status = %s, want unchanged", got.Status)
	}
}

func TestSandboxManager_Abandon(t *testing.T) {
	repo := newFakeRepo(t.TempDir())
	m := NewSandboxManager(repo, t.TempDir(), "rt", "")
	path := filepath.Join(t.TempDir(), "wt")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := m.Abandon(context.Background(), iteration.SandboxBinding{Path: path, Status: iteration.SandboxConflicted})
	if err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}
	if got.Status != iteration.SandboxAbandoned {
		t.Errorf("status = %s, want abandoned", got.Status)
	}
	if !got.Status.Resolved() {
		t.Error("abandoned binding should count as resolved")
	}
	if len(repo.removed) != 1 {
		t.Errorf("removed = %v", repo.removed)
	}
}

func TestResolveRoot(t *testing.T) {
	bindings := []iteration.SandboxBinding{
		{Agent: "alice", Layer: 0, Path: "/wt/0/alice", Status: iteration.SandboxMerged},
		{Agent: "alice", Layer: 1, Path: "/wt/1/alice", Status: iteration.SandboxActive},
		{Agent: "bob", Layer: 1, Path: "/wt/1/bob", Status: iteration.SandboxAbandoned},
	}
	tests := []struct {
		layer  int
		agent  string
		want   string
		wantOK bool
	}{
		{1, "alice", "/wt/1/alice", true},
		{0, "alice", "", false},
		{1, "bob", "", false},
		{1, "carol", "", false},
	}
	for _, tt := range tests {
		got, ok := ResolveRoot(bindings, tt.layer, tt.agent)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ResolveRoot(%d, %s) = %q, %v; want %q, %v", tt.layer, tt.agent, got, ok, tt.want, tt.wantOK)
		}
	}
}

// TestSandboxManager_ConflictBlocksNextLayer runs the full layer lifecycle
// against a real repository: two agents edit the same line, the second
// merge conflicts, the next layer is refused until the conflict is
// resolved, and resolving it in the sandbox lets the merge through.
func TestSandboxManager_ConflictBlocksNextLayer(t *testing.T) {
	testutil.SkipIfNoGit(t)

	repoDir := testutil.SetupTestRepoWithContent(t, map[string]string{"shared.txt": "base\n"})
	g := NewGit(repoDir)
	m := NewSandboxManager(g, filepath.Join(t.TempDir(), "worktrees"), "rt", "")
	ctx := context.Background()

	bindings, err := m.CreateLayer(ctx, "it", 0, []string{"alice", "bob"},
		map[string][]string{"alice": {"t1"}, "bob": {"t2"}}, nil)
	if err != nil {
		t.Fatalf("CreateLayer() error = %v", err)
	}
	if got := len(testutil.ListWorktrees(t, repoDir)); got != 3 {
		t.Fatalf("worktrees = %d, want 3", got)
	}

	testutil.WriteFile(t, bindings[0].Path, "shared.txt", "alice\n")
	testutil.WriteFile(t, bindings[1].Path, "shared.txt", "bob\n")

	bindings, err = m.CommitAll(ctx, bindings, "auto-commit layer 0")
	if err != nil {
		t.Fatalf("CommitAll() error = %v", err)
	}
	for _, b := range bindings {
		if b.Status != iteration.SandboxCommitted {
			t.Fatalf("%s status = %s, want committed", b.Agent, b.Status)
		}
	}

	bindings, err = m.MergeAll(ctx, "it", bindings)
	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Fatalf("MergeAll() error = %v, want merge conflict", err)
	}
	if bindings[1].Status != iteration.SandboxConflicted || !reflect.DeepEqual(bindings[1].ConflictFiles, []string{"shared.txt"}) {
		t.Fatalf("bob = %+v", bindings[1])
	}
	if dirty, _ := g.HasUncommittedChanges(ctx, repoDir); dirty {
		t.Error("root should be clean after the merge was aborted")
	}

	_, err = m.CreateLayer(ctx, "it", 1, []string{"alice"}, map[string][]string{"alice": {"t3"}}, bindings)
	if !errors.Is(err, errors.ErrUnmergedBranches) {
		t.Fatalf("CreateLayer(1) error = %v, want ErrUnmergedBranches", err)
	}

	// Resolve in bob's sandbox by taking the integrated content first.
	testutil.Git(t, bindings[1].Path, "merge", "main", "-X", "theirs", "-m", "take main")
	testutil.WriteFile(t, bindings[1].Path, "shared.txt", "alice\nbob\n")
	if _, err := g.CommitAll(ctx, bindings[1].Path, "resolve"); err != nil {
		t.Fatalf("CommitAll() error = %v", err)
	}

	bindings[1], err = m.Merge(ctx, "it", bindings[1])
	if err != nil {
		t.Fatalf("Merge(bob) error = %v", err)
	}
	if bindings[1].Status != iteration.SandboxMerged {
		t.Errorf("bob status = %s, want merged", bindings[1].Status)
	}
	if !testutil.BranchExists(t, repoDir, "rt/it/layer-0/bob") {
		t.Error("branch should be kept after teardown")
	}

	data, err := os.ReadFile(filepath.Join(repoDir, "shared.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "alice\nbob\n" {
		t.Errorf("shared.txt = %q", data)
	}

	next, err := m.CreateLayer(ctx, "it", 1, []string{"alice"}, map[string][]string{"alice": {"t3"}}, bindings)
	if err != nil {
		t.Fatalf("CreateLayer(1) error = %v", err)
	}
	if len(next) != 1 || next[0].Branch != "rt/it/layer-1/alice" {
		t.Errorf("layer 1 = %+v", next)
	}
}
