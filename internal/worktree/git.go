// Package worktree provides git worktree operations and the per-layer
// sandboxes that isolate parallel agents during implementation.
//
// This file provides the git CLI wrapper. All commands go through a
// CommandExecutor so tests can substitute canned output.
package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/roundtable/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// exitCode returns the process exit code carried by err, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// -----------------------------------------------------------------------------
// Git
// -----------------------------------------------------------------------------

// Git runs git commands against one repository.
type Git struct {
	repoDir  string
	executor CommandExecutor
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// .git may be a directory (normal repo) or a file (linked worktree).
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewGitError("no repository found", errors.ErrNotGitRepository).
				WithRepository(startDir)
		}
		dir = parent
	}
}

// Open returns a Git for the repository containing dir.
func Open(dir string) (*Git, error) {
	root, err := FindGitRoot(dir)
	if err != nil {
		return nil, err
	}
	return NewGit(root), nil
}

// NewGit creates a Git for repoDir using the git CLI.
func NewGit(repoDir string) *Git {
	return NewGitWithExecutor(repoDir, NewCLICommandExecutor())
}

// NewGitWithExecutor creates a Git with a custom executor.
// This is primarily useful for testing.
func NewGitWithExecutor(repoDir string, executor CommandExecutor) *Git {
	return &Git{repoDir: repoDir, executor: executor}
}

// Root returns the repository root directory.
func (g *Git) Root() string { return g.repoDir }

func (g *Git) git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return g.executor.Run(ctx, dir, "git", args...)
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(ctx context.Context, branch string) (bool, error) {
	output, err := g.git(ctx, g.repoDir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, errors.NewGitError("failed to resolve branch", err).
		WithBranch(branch).
		WithGitOutput(string(output))
}

// CreateWorktree checks out branch at path. A new branch is created from
// base unless it already exists, in which case the existing branch is
// checked out so a restored iteration can pick up where it left off.
func (g *Git) CreateWorktree(ctx context.Context, path, branch, base string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewGitError("failed to create worktree parent", err).WithWorktree(path)
	}

	exists, err := g.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	args := []string{"worktree", "add", "-b", branch, path, base}
	if exists {
		args = []string{"worktree", "add", path, branch}
	}
	output, err := g.git(ctx, g.repoDir, args...)
	if err != nil {
		return errors.NewGitError("failed to create worktree", err).
			WithWorktree(path).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// RemoveWorktree removes the worktree at path. The branch stays.
func (g *Git) RemoveWorktree(ctx context.Context, path string) error {
	output, err := g.git(ctx, g.repoDir, "worktree", "remove", "--force", path)
	if err == nil {
		return nil
	}
	// Already gone from disk: prune the stale administrative entry.
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if pruneOut, pruneErr := g.git(ctx, g.repoDir, "worktree", "prune"); pruneErr != nil {
			return errors.NewGitError("failed to prune worktrees", pruneErr).
				WithWorktree(path).
				WithGitOutput(string(pruneOut))
		}
		return nil
	}
	return errors.NewGitError("failed to remove worktree", err).
		WithWorktree(path).
		WithGitOutput(string(output))
}

// HasUncommittedChanges returns true if path has staged, unstaged or
// untracked changes.
func (g *Git) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	output, err := g.git(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check git status", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// CommitAll stages and commits all changes in path. It reports false when
// there was nothing to commit.
func (g *Git) CommitAll(ctx context.Context, path, message string) (bool, error) {
	dirty, err := g.HasUncommittedChanges(ctx, path)
	if err != nil || !dirty {
		return false, err
	}

	output, err := g.git(ctx, path, "add", "-A")
	if err != nil {
		return false, errors.NewGitError("failed to stage changes", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}

	output, err = g.git(ctx, path, "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return false, nil
		}
		return false, errors.NewGitError("failed to commit changes", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return true, nil
}

// Merge merges branch into the branch checked out at the repository root
// with a merge commit. When git stops on conflicts the merge is aborted,
// the root is left as it was, and a MergeConflictError lists the files.
func (g *Git) Merge(ctx context.Context, branch, message string) error {
	output, err := g.git(ctx, g.repoDir, "merge", "--no-ff", "-m", message, branch)
	if err == nil {
		return nil
	}

	files, filesErr := g.ConflictingFiles(ctx, g.repoDir)
	if filesErr != nil || len(files) == 0 {
		return errors.NewGitError("failed to merge", err).
			WithBranch(branch).
			WithRepository(g.repoDir).
			WithGitOutput(string(output))
	}

	if abortOut, abortErr := g.git(ctx, g.repoDir, "merge", "--abort"); abortErr != nil {
		return errors.NewGitError("failed to abort conflicted merge", abortErr).
			WithBranch(branch).
			WithRepository(g.repoDir).
			WithGitOutput(string(abortOut))
	}
	return errors.NewMergeConflictError(branch, "", files)
}

// ConflictingFiles returns unmerged paths in path.
func (g *Git) ConflictingFiles(ctx context.Context, path string) ([]string, error) {
	output, err := g.git(ctx, path, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, errors.NewGitError("failed to get conflicting files", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return splitLines(string(output)), nil
}

// IsMerged reports whether branch is an ancestor of into.
func (g *Git) IsMerged(ctx context.Context, branch, into string) (bool, error) {
	output, err := g.git(ctx, g.repoDir, "merge-base", "--is-ancestor", branch, into)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, errors.NewGitError("failed to compare branches", err).
		WithBranch(branch + ".." + into).
		WithGitOutput(string(output))
}

// ChangedFiles returns files changed on the branch checked out at path
// since it diverged from base.
func (g *Git) ChangedFiles(ctx context.Context, path, base string) ([]string, error) {
	output, err := g.git(ctx, path, "diff", "--name-only", base+"...HEAD")
	if err != nil {
		return nil, errors.NewGitError("failed to list changed files", err).
			WithWorktree(path).
			WithBranch(base).
			WithGitOutput(string(output))
	}
	return splitLines(string(output)), nil
}

// CurrentBranch returns the branch checked out at path.
func (g *Git) CurrentBranch(ctx context.Context, path string) (string, error) {
	output, err := g.git(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to get current branch", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// FindMainBranch returns "main" or "master", whichever exists, falling back
// to the branch checked out at the root.
func (g *Git) FindMainBranch(ctx context.Context) string {
	for _, name := range []string{"main", "master"} {
		if ok, err := g.BranchExists(ctx, name); err == nil && ok {
			return name
		}
	}
	if branch, err := g.CurrentBranch(ctx, g.repoDir); err == nil {
		return branch
	}
	return "main"
}

// ExcludePath adds pattern to the repository's info/exclude file unless it
// is already listed.
func (g *Git) ExcludePath(ctx context.Context, pattern string) error {
	output, err := g.git(ctx, g.repoDir, "rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return errors.NewGitError("failed to locate exclude file", err).
			WithRepository(g.repoDir).
			WithGitOutput(string(output))
	}
	path := strings.TrimSpace(string(output))
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.repoDir, path)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, line := range splitLines(string(existing)) {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	prefix := ""
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		prefix = "\n"
	}
	_, err = f.WriteString(prefix + pattern + "\n")
	return err
}

func splitLines(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines
}
