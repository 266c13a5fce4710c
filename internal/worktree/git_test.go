package worktree

import (
	"context"
	"os/exec"
	"reflect"
	"strings"
	"testing"

	"github.com/Iron-Ham/roundtable/internal/errors"
)

// -----------------------------------------------------------------------------
// Mock Command Executor for Unit Tests
// -----------------------------------------------------------------------------

// mockCall records a single command invocation
type mockCall struct {
	dir  string
	name string
	args []string
}

type mockResponse struct {
	output []byte
	err    error
}

// mockExecutor is a test double for CommandExecutor. Responses are consumed
// in order; once exhausted every call succeeds with empty output.
type mockExecutor struct {
	calls     []mockCall
	responses []mockResponse
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{}
}

func (m *mockExecutor) addResponse(output string, err error) {
	m.responses = append(m.responses, mockResponse{output: []byte(output), err: err})
}

func (m *mockExecutor) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	if len(m.responses) == 0 {
		return nil, nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r.output, r.err
}

func (m *mockExecutor) argsOf(i int) string {
	if i >= len(m.calls) {
		return ""
	}
	return strings.Join(m.calls[i].args, " ")
}

// exitError produces a real *exec.ExitError with the given code.
func exitError(t *testing.T, code int) error {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH")
	}
	err := exec.Command("sh", "-c", "exit "+string(rune('0'+code))).Run()
	if err == nil {
		t.Fatal("expected exit error")
	}
	return err
}

func TestGit_CommitAll(t *testing.T) {
	tests := []struct {
		name          string
		responses     []mockResponse
		wantCommitted bool
		wantErr       bool
		wantCalls     []string
	}{
		{
			name:      "clean tree",
			responses: []mockResponse{{output: []byte("")}},
			wantCalls: []string{"status --porcelain"},
		},
		{
			name: "dirty tree",
			responses: []mockResponse{
				{output: []byte(" M main.go\n")},
				{output: nil},
				{output: []byte("[branch abc] msg")},
			},
			wantCommitted: true,
			wantCalls:     []string{"status --porcelain", "add -A", "commit -m msg"},
		},
		{
			name: "commit reports nothing to commit",
			responses: []mockResponse{
				{output: []byte("?? x\n")},
				{output: nil},
				{output: []byte("nothing to commit, working tree clean"), err: errors.New("exit status 1")},
			},
			wantCalls: []string{"status --porcelain", "add -A", "commit -m msg"},
		},
		{
			name: "stage fails",
			responses: []mockResponse{
				{output: []byte(" M a\n")},
				{output: []byte("fatal: index.lock exists"), err: errors.New("exit status 128")},
			},
			wantErr:   true,
			wantCalls: []string{"status --porcelain", "add -A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockExecutor()
			mock.responses = tt.responses
			g := NewGitWithExecutor("/repo", mock)

			committed, err := g.CommitAll(context.Background(), "/wt", "msg")
			if (err != nil) != tt.wantErr {
				t.Fatalf("CommitAll() error = %v, wantErr %v", err, tt.wantErr)
			}
			if committed != tt.wantCommitted {
				t.Errorf("CommitAll() committed = %v, want %v", committed, tt.wantCommitted)
			}
			if len(mock.calls) != len(tt.wantCalls) {
				t.Fatalf("got %d calls, want %d", len(mock.calls), len(tt.wantCalls))
			}
			for i, want := range tt.wantCalls {
				if got := mock.argsOf(i); got != want {
					t.Errorf("call %d = %q, want %q", i, got, want)
				}
				if mock.calls[i].dir != "/wt" {
					t.Errorf("call %d ran in %q, want /wt", i, mock.calls[i].dir)
				}
			}
		})
	}
}

func TestGit_MergeConflictAborts(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse("CONFLICT (content): Merge conflict in main.go", errors.New("exit status 1"))
	mock.addResponse("main.go\ngo.mod\n", nil)
	mock.addResponse("", nil)
	g := NewGitWithExecutor("/repo", mock)

	err := g.Merge(context.Background(), "rt/it/layer-0/bob", "merge bob")

	var conflict *errors.MergeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Merge() error = %v, want MergeConflictError", err)
	}
	if !reflect.DeepEqual(conflict.Files, []string{"main.go", "go.mod"}) {
		t.Errorf("Files = %v", conflict.Files)
	}
	want := []string{
		"merge --no-ff -m merge bob rt/it/layer-0/bob",
		"diff --name-only --diff-filter=U",
		"merge --abort",
	}
	for i, w := range want {
		if got := mock.argsOf(i); got != w {
			t.Errorf("call %d = %q, want %q", i, got, w)
		}
	}
}

func TestGit_MergeFailureWithoutConflicts(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse("error: Your local changes would be overwritten", errors.New("exit status 1"))
	mock.addResponse("", nil)
	g := NewGitWithExecutor("/repo", mock)

	err := g.Merge(context.Background(), "b", "m")
	if errors.Is(err, errors.ErrMergeConflict) {
		t.Fatalf("Merge() error = %v, want plain git error", err)
	}
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("Merge() error = %T, want *GitError", err)
	}
	if len(mock.calls) != 2 {
		t.Errorf("got %d calls, want 2 (no abort)", len(mock.calls))
	}
}

func TestGit_IsMerged(t *testing.T) {
	tests := []struct {
		name    string
		err     func(t *testing.T) error
		want    bool
		wantErr bool
	}{
		{name: "ancestor", err: func(*testing.T) error { return nil }, want: true},
		{name: "not ancestor", err: func(t *testing.T) error { return exitError(t, 1) }, want: false},
		{name: "bad revision", err: func(t *testing.T) error { return exitError(t, 2) }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockExecutor()
			mock.addResponse("", tt.err(t))
			g := NewGitWithExecutor("/repo", mock)

			got, err := g.IsMerged(context.Background(), "feature", "main")
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsMerged() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IsMerged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGit_CreateWorktreeReusesExistingBranch(t *testing.T) {
	dir := t.TempDir()

	mock := newMockExecutor()
	mock.addResponse("abc123\n", nil) // branch exists
	g := NewGitWithExecutor("/repo", mock)

	if err := g.CreateWorktree(context.Background(), dir+"/wt", "rt/x", "main"); err != nil {
		t.Fatalf("CreateWorktree() error = %v", err)
	}
	if got, want := mock.argsOf(1), "worktree add "+dir+"/wt rt/x"; got != want {
		t.Errorf("worktree call = %q, want %q", got, want)
	}

	mock = newMockExecutor()
	mock.addResponse("", exitError(t, 1)) // branch missing
	g = NewGitWithExecutor("/repo", mock)
	if err := g.CreateWorktree(context.Background(), dir+"/wt2", "rt/y", "main"); err != nil {
		t.Fatalf("CreateWorktree() error = %v", err)
	}
	if got, want := mock.argsOf(1), "worktree add -b rt/y "+dir+"/wt2 main"; got != want {
		t.Errorf("worktree call = %q, want %q", got, want)
	}
}

func TestGit_ChangedFiles(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse("a.go\nsub/b.go\n", nil)
	g := NewGitWithExecutor("/repo", mock)

	files, err := g.ChangedFiles(context.Background(), "/wt", "main")
	if err != nil {
		t.Fatalf("ChangedFiles() error = %v", err)
	}
	if !reflect.DeepEqual(files, []string{"a.go", "sub/b.go"}) {
		t.Errorf("ChangedFiles() = %v", files)
	}
	if got := mock.argsOf(0); got != "diff --name-only main...HEAD" {
		t.Errorf("call = %q", got)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"\n", nil},
		{"a", []string{"a"}},
		{"a\nb\n", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := splitLines(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitLines(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
