package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIterationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *IterationError
		want string
	}{
		{
			name: "no context",
			err:  NewIterationError("cannot load", nil),
			want: "iteration error: cannot load",
		},
		{
			name: "with context and cause",
			err:  NewIterationError("cannot advance", ErrPhaseOrder).WithIterationID("it-1").WithPhase("planning"),
			want: "iteration error [iteration=it-1, phase=planning]: cannot advance: phase can only advance to its successor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIterationError_Is(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewIterationError("x", ErrIterationLocked))
	if !Is(err, ErrIterationLocked) {
		t.Error("Is(ErrIterationLocked) = false, want true")
	}
	var target *IterationError
	if !As(err, &target) {
		t.Error("As(*IterationError) = false, want true")
	}
}

func TestGitError_Error(t *testing.T) {
	err := NewGitError("merge failed", New("exit status 1")).
		WithBranch("rt/it/layer-0/alice").
		WithGitOutput("  CONFLICT (content)\n")

	want := "git error [branch=rt/it/layer-0/alice]: merge failed: exit status 1\ngit output: CONFLICT (content)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDependencyCycleError(t *testing.T) {
	err := NewDependencyCycleError([]string{"A", "B"})

	if got, want := err.Error(), "dependency cycle detected: A -> B -> A"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrDependencyCycle) {
		t.Error("Is(ErrDependencyCycle) = false, want true")
	}
	if !IsStructural(err) {
		t.Error("IsStructural() = false, want true")
	}
	if IsRetryable(err) {
		t.Error("IsRetryable() = true, want false")
	}
}

func TestMergeConflictError(t *testing.T) {
	err := NewMergeConflictError("rt/it/layer-0/bob", "bob", []string{"main.go", "go.mod"}).
		WithParticipants([]string{"alice", "bob"})

	want := "merge conflict [branch=rt/it/layer-0/bob, agent=bob, participants=alice,bob]: merge stopped on conflicts: main.go, go.mod"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrMergeConflict) {
		t.Error("Is(ErrMergeConflict) = false, want true")
	}
}

func TestUnmergedBranchesError(t *testing.T) {
	err := Wrap(NewUnmergedBranchesError(0, []string{"a", "b"}), "create layer 1")
	if !Is(err, ErrUnmergedBranches) {
		t.Error("Is(ErrUnmergedBranches) = false, want true")
	}
	if got, want := err.Error(), "create layer 1: layer 0 has unmerged branches: a, b"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("checkpoint", "999").WithCause(ErrCheckpointNotFound)

	if !Is(err, ErrCheckpointNotFound) {
		t.Error("Is(ErrCheckpointNotFound) = false, want true")
	}
	if got, want := err.Error(), "checkpoint '999' not found: checkpoint not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if GetSeverity(err) != SeverityWarning {
		t.Errorf("GetSeverity() = %v, want %v", GetSeverity(err), SeverityWarning)
	}
}

func TestValidationError_IsInvalidInput(t *testing.T) {
	err := NewValidationError("bad").WithField("session.max_turns").WithValue(0)
	if !Is(err, ErrInvalidInput) {
		t.Error("Is(ErrInvalidInput) = false, want true")
	}
	if got, want := err.Error(), "validation error [field=session.max_turns, value=0]: bad"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("model call for alice", 2*time.Minute)

	if got, want := err.Error(), "timeout error: model call for alice (timeout: 2m0s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(ErrTimeout) = false, want true")
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}
}

func TestClassificationHelpers_PlainErrors(t *testing.T) {
	plain := New("plain")

	if IsRetryable(plain) {
		t.Error("IsRetryable(plain) = true, want false")
	}
	if IsUserFacing(plain) {
		t.Error("IsUserFacing(plain) = true, want false")
	}
	if GetSeverity(plain) != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want %v", GetSeverity(plain), SeverityError)
	}
	if GetSeverity(nil) != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want %v", GetSeverity(nil), SeverityDebug)
	}
	if !IsRetryable(Wrap(ErrTimeout, "call")) {
		t.Error("IsRetryable(wrapped ErrTimeout) = false, want true")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) != nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) != nil")
	}
	err := Wrapf(ErrSandboxNotFound, "agent %s", "alice")
	if got, want := err.Error(), "agent alice: sandbox not found"; got != want {
		t.Errorf("Wrapf() = %q, want %q", got, want)
	}
}
