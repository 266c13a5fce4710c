package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/roundtable/internal/errors"
	"github.com/Iron-Ham/roundtable/internal/iteration"
)

// SandboxManager creates, commits, merges and tears down the per-agent
// worktrees of an implementation layer. Every agent with tasks in a layer
// gets its own branch cut from the integration branch, so agents in the
// same layer never see each other's uncommitted work.
type SandboxManager struct {
	repo        Repository
	worktreeDir string
	prefix      string
	integration string

	// Merges touch the root index; only one may run at a time.
	mergeMu sync.Mutex
}

// NewSandboxManager creates a manager. An empty integration branch means
// whatever branch is checked out at the repository root.
func NewSandboxManager(repo Repository, worktreeDir, prefix, integration string) *SandboxManager {
	return &SandboxManager{
		repo:        repo,
		worktreeDir: worktreeDir,
		prefix:      prefix,
		integration: integration,
	}
}

// BranchName returns the branch of agent's sandbox in layer.
func (m *SandboxManager) BranchName(iterationID string, layer int, agent string) string {
	return fmt.Sprintf("%s/%s/layer-%d/%s", m.prefix, iterationID, layer, agent)
}

// Path returns the worktree path of agent's sandbox in layer.
func (m *SandboxManager) Path(iterationID string, layer int, agent string) string {
	return filepath.Join(m.worktreeDir, iterationID, fmt.Sprintf("layer-%d", layer), agent)
}

// Integration returns the branch sandboxes are cut from and merged into.
func (m *SandboxManager) Integration(ctx context.Context) (string, error) {
	if m.integration != "" {
		return m.integration, nil
	}
	return m.repo.CurrentBranch(ctx, m.repo.Root())
}

// CheckResolved returns an UnmergedBranchesError naming every binding below
// layer that is neither merged nor abandoned.
func CheckResolved(bindings []iteration.SandboxBinding, layer int) error {
	var pending []string
	blocking := -1
	for _, b := range bindings {
		if b.Layer >= layer || b.Status.Resolved() {
			continue
		}
		if blocking < 0 || b.Layer < blocking {
			blocking = b.Layer
		}
		pending = append(pending, b.Branch)
	}
	if len(pending) == 0 {
		return nil
	}
	return errors.NewUnmergedBranchesError(blocking, pending)
}

// CreateLayer creates one sandbox per agent in order. Agents that already
// have a binding for layer are skipped. Bindings from earlier layers must be
// resolved first. On failure the bindings created so far are returned with
// the error so the caller can record them.
func (m *SandboxManager) CreateLayer(ctx context.Context, iterationID string, layer int, order []string, tasks map[string][]string, existing []iteration.SandboxBinding) ([]iteration.SandboxBinding, error) {
	if err := CheckResolved(existing, layer); err != nil {
		return nil, err
	}
	base, err := m.Integration(ctx)
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool)
	for _, b := range existing {
		if b.Layer == layer {
			have[b.Agent] = true
		}
	}

	// Sequential: concurrent "worktree add" calls contend on the
	// repository's administrative lock.
	var created []iteration.SandboxBinding
	for _, agent := range order {
		if have[agent] {
			continue
		}
		b := iteration.SandboxBinding{
			Agent:  agent,
			Layer:  layer,
			Tasks:  tasks[agent],
			Path:   m.Path(iterationID, layer, agent),
			Branch: m.BranchName(iterationID, layer, agent),
			Status: iteration.SandboxActive,
		}
		if err := m.repo.CreateWorktree(ctx, b.Path, b.Branch, base); err != nil {
			return created, err
		}
		created = append(created, b)
	}
	return created, nil
}

// CommitAll commits outstanding work in every unresolved binding in
// parallel. Bindings that had changes come back as committed.
func (m *SandboxManager) CommitAll(ctx context.Context, bindings []iteration.SandboxBinding, message string) ([]iteration.SandboxBinding, error) {
	out := make([]iteration.SandboxBinding, len(bindings))
	copy(out, bindings)

	p := pool.New().WithErrors().WithContext(ctx)
	for i := range out {
		if out[i].Status.Resolved() {
			continue
		}
		b := &out[i]
		p.Go(func(ctx context.Context) error {
			committed, err := m.repo.CommitAll(ctx, b.Path, fmt.Sprintf("%s (%s)", message, b.Agent))
			if err != nil {
				return errors.Wrapf(err, "commit sandbox of %s", b.Agent)
			}
			if committed {
				b.Status = iteration.SandboxCommitted
			}
			return nil
		})
	}
	return out, p.Wait()
}

// Merge merges b into the integration branch at the repository root and
// tears down its worktree. On conflict the merge is aborted, b comes back
// conflicted with the conflicting files, and the error is a
// MergeConflictError. Resolved bindings are returned unchanged.
func (m *SandboxManager) Merge(ctx context.Context, iterationID string, b iteration.SandboxBinding) (iteration.SandboxBinding, error) {
	if b.Status.Resolved() {
		return b, nil
	}
	integration, err := m.Integration(ctx)
	if err != nil {
		return b, err
	}

	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	current, err := m.repo.CurrentBranch(ctx, m.repo.Root())
	if err != nil {
		return b, err
	}
	if current != integration {
		return b, errors.NewGitError("repository root must have the integration branch checked out", nil).
			WithBranch(integration).
			WithRepository(m.repo.Root()).
			WithGitOutput("checked out: " + current)
	}

	merged, err := m.repo.IsMerged(ctx, b.Branch, integration)
	if err != nil {
		return b, err
	}
	if !merged {
		msg := fmt.Sprintf("roundtable: merge %s layer %d (%s)", b.Agent, b.Layer, iterationID)
		if err := m.repo.Merge(ctx, b.Branch, msg); err != nil {
			var conflict *errors.MergeConflictError
			if errors.As(err, &conflict) {
				conflict.Agent = b.Agent
				b.Status = iteration.SandboxConflicted
				b.ConflictFiles = conflict.Files
				return b, conflict
			}
			return b, err
		}
	}

	b.Status = iteration.SandboxMerged
	b.ConflictFiles = nil
	return b, m.Teardown(ctx, b)
}

// MergeAll merges bindings in order and stops at the first conflict. The
// returned slice carries every binding's latest status. The conflict error
// names all agents of the layer as participants.
func (m *SandboxManager) MergeAll(ctx context.Context, iterationID string, bindings []iteration.SandboxBinding) ([]iteration.SandboxBinding, error) {
	out := make([]iteration.SandboxBinding, len(bindings))
	copy(out, bindings)

	for i := range out {
		updated, err := m.Merge(ctx, iterationID, out[i])
		out[i] = updated
		if err != nil {
			var conflict *errors.MergeConflictError
			if errors.As(err, &conflict) {
				agents := make([]string, 0, len(out))
				for _, b := range out {
					agents = append(agents, b.Agent)
				}
				conflict.WithParticipants(agents)
			}
			return out, err
		}
	}
	return out, nil
}

// Teardown removes b's worktree. The branch is kept for inspection.
func (m *SandboxManager) Teardown(ctx context.Context, b iteration.SandboxBinding) error {
	if _, err := os.Stat(b.Path); os.IsNotExist(err) {
		return nil
	}
	return m.repo.RemoveWorktree(ctx, b.Path)
}

// Abandon tears down b without merging and marks it abandoned, which
// unblocks the next layer.
func (m *SandboxManager) Abandon(ctx context.Context, b iteration.SandboxBinding) (iteration.SandboxBinding, error) {
	if b.Status == iteration.SandboxMerged {
		return b, nil
	}
	if err := m.Teardown(ctx, b); err != nil {
		return b, err
	}
	b.Status = iteration.SandboxAbandoned
	return b, nil
}

// ResolveRoot returns the sandbox path agent writes to in layer. It reports
// false when the agent has no open sandbox there.
func ResolveRoot(bindings []iteration.SandboxBinding, layer int, agent string) (string, bool) {
	for _, b := range bindings {
		if b.Layer == layer && b.Agent == agent && !b.Status.Resolved() {
			return b.Path, true
		}
	}
	return "", false
}
