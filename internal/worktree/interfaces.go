package worktree

import "context"

// Repository is the subset of git operations the sandbox manager needs.
// *Git implements it; tests substitute a fake.
type Repository interface {
	Root() string
	BranchExists(ctx context.Context, branch string) (bool, error)
	CreateWorktree(ctx context.Context, path, branch, base string) error
	RemoveWorktree(ctx context.Context, path string) error
	CommitAll(ctx context.Context, path, message string) (bool, error)
	Merge(ctx context.Context, branch, message string) error
	IsMerged(ctx context.Context, branch, into string) (bool, error)
	CurrentBranch(ctx context.Context, path string) (string, error)
}

var _ Repository = (*Git)(nil)
