// Package testutil provides git repository fixtures for tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// SetupTestRepo creates a temporary git repository on branch main with one
// commit. Linked worktrees require at least one commit.
func SetupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	Git(t, dir, "init")
	Git(t, dir, "config", "user.email", "test@roundtable.dev")
	Git(t, dir, "config", "user.name", "Roundtable Test")

	WriteFile(t, dir, "README.md", "# Test Repository\n")
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Initial commit")

	// Some systems default to master.
	Git(t, dir, "branch", "-M", "main")
	return dir
}

// SetupTestRepoWithContent creates a test repository with files committed
// on top of the initial commit. Keys are paths relative to the root.
func SetupTestRepoWithContent(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := SetupTestRepo(t)
	for path, content := range files {
		WriteFile(t, dir, path, content)
	}
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Add test files")
	return dir
}

// WriteFile writes content to path under dir, creating parents.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()

	fullPath := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// CommitFile creates or updates a file and commits it.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	WriteFile(t, repoDir, path, content)
	Git(t, repoDir, "add", path)
	Git(t, repoDir, "commit", "-m", message)
}

// GetCurrentBranch returns the current branch name.
func GetCurrentBranch(t *testing.T, repoDir string) string {
	t.Helper()
	return strings.TrimSpace(Git(t, repoDir, "rev-parse", "--abbrev-ref", "HEAD"))
}

// ListWorktrees returns the paths of all worktrees in the repository,
// including the main one.
func ListWorktrees(t *testing.T, repoDir string) []string {
	t.Helper()

	var worktrees []string
	for _, line := range strings.Split(Git(t, repoDir, "worktree", "list", "--porcelain"), "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			worktrees = append(worktrees, path)
		}
	}
	return worktrees
}

// BranchExists reports whether a local branch exists.
func BranchExists(t *testing.T, repoDir, branch string) bool {
	t.Helper()

	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = repoDir
	return cmd.Run() == nil
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

// Git runs a git command in dir and returns its output, failing the test on
// error. Identity variables are set so commits work without global config.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Roundtable Test",
		"GIT_AUTHOR_EMAIL=test@roundtable.dev",
		"GIT_COMMITTER_NAME=Roundtable Test",
		"GIT_COMMITTER_EMAIL=test@roundtable.dev",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return string(output)
}
