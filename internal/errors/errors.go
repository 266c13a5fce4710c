// Package errors defines the error taxonomy used across roundtable: sentinel
// errors for conditions callers branch on, typed domain errors that carry the
// context a human needs to act (which tasks form a cycle, which files
// conflict, which checkpoint number is missing), and classification helpers.
//
// # Error Types
//
// Domain errors:
//   - IterationError: iteration state problems (phase order, locking)
//   - GitError: version-control failures, with captured git output
//   - DependencyCycleError: a cycle in the task dependency graph
//   - MergeConflictError: a sandbox branch that could not be merged
//   - UnmergedBranchesError: a layer that has not been fully integrated
//
// Semantic errors:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewIterationError("cannot advance", errors.ErrPhaseOrder).
//		WithIterationID("it-1").WithPhase("planning")
//
//	if errors.Is(err, errors.ErrPhaseOrder) { ... }
//
//	var cycle *errors.DependencyCycleError
//	if errors.As(err, &cycle) {
//		fmt.Println(cycle.Tasks)
//	}
//
// # Classification
//
// Model timeouts are retryable. Cycles, merge conflicts and unknown
// checkpoints are structural: user-facing and not retryable.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Iteration-related sentinel errors
var (
	// ErrIterationNotFound indicates that an iteration directory or record is missing.
	ErrIterationNotFound = New("iteration not found")
	// ErrIterationExists indicates that an iteration with the same id already exists.
	ErrIterationExists = New("iteration already exists")
	// ErrIterationLocked indicates that another session holds the iteration lock.
	ErrIterationLocked = New("iteration is locked")
	// ErrPhaseOrder indicates an attempt to move a phase anywhere but forward by one.
	ErrPhaseOrder = New("phase can only advance to its successor")
	// ErrIterationDone indicates that the iteration has already finished.
	ErrIterationDone = New("iteration is done")
)

// Task graph sentinel errors
var (
	// ErrDependencyCycle indicates a circular dependency in tasks.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrUnknownDependency indicates a dependency on a task that does not exist.
	ErrUnknownDependency = New("unknown dependency")
	// ErrNoTasks indicates that a layer operation was requested without tasks.
	ErrNoTasks = New("no tasks defined")
)

// Git and sandbox sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrSandboxNotFound indicates that no sandbox is bound to the agent.
	ErrSandboxNotFound = New("sandbox not found")
	// ErrMergeConflict indicates that a merge conflict occurred.
	ErrMergeConflict = New("merge conflict")
	// ErrUnmergedBranches indicates that a layer still has branches to integrate.
	ErrUnmergedBranches = New("unmerged branches")
)

// Checkpoint and approval sentinel errors
var (
	// ErrCheckpointNotFound indicates that no checkpoint has the requested number.
	ErrCheckpointNotFound = New("checkpoint not found")
	// ErrApprovalNotFound indicates that no approval request has the requested id.
	ErrApprovalNotFound = New("approval request not found")
	// ErrApprovalResolved indicates that an approval request was already decided.
	ErrApprovalResolved = New("approval request already resolved")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// ClassifiedError is implemented by every typed error in this package.
type ClassifiedError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// format renders "kind [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// IterationError represents errors related to iteration state.
//
// Example:
//
//	err := errors.NewIterationError("cannot advance", errors.ErrPhaseOrder)
//	err = err.WithIterationID("it-1").WithPhase("planning")
//	fmt.Println(err) // "iteration error [iteration=it-1, phase=planning]: cannot advance: phase can only advance to its successor"
type IterationError struct {
	baseError
	IterationID string
	Phase       string
}

// NewIterationError creates a new IterationError.
func NewIterationError(message string, cause error) *IterationError {
	return &IterationError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithIterationID adds an iteration id to the error context.
func (e *IterationError) WithIterationID(id string) *IterationError {
	e.IterationID = id
	return e
}

// WithPhase adds a phase name to the error context.
func (e *IterationError) WithPhase(phase string) *IterationError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *IterationError) Error() string {
	var parts []string
	if e.IterationID != "" {
		parts = append(parts, "iteration="+e.IterationID)
	}
	if e.Phase != "" {
		parts = append(parts, "phase="+e.Phase)
	}
	return e.format("iteration error", parts)
}

// Is checks if this error matches the target.
func (e *IterationError) Is(target error) bool {
	if _, ok := target.(*IterationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", cause)
//	err = err.WithBranch("rt/it-1/layer-0/alice").WithWorktree("/tmp/wt")
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, "branch="+e.Branch)
	}
	if e.Worktree != "" {
		parts = append(parts, "worktree="+e.Worktree)
	}
	if e.Repository != "" {
		parts = append(parts, "repo="+e.Repository)
	}
	msg := e.format("git error", parts)
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// DependencyCycleError reports the tasks that form a dependency cycle. Tasks
// is the cycle path in traversal order, starting from the lowest id.
//
// Example:
//
//	err := errors.NewDependencyCycleError([]string{"A", "B"})
//	fmt.Println(err) // "dependency cycle detected: A -> B -> A"
type DependencyCycleError struct {
	baseError
	Tasks []string
}

// NewDependencyCycleError creates a new DependencyCycleError.
func NewDependencyCycleError(tasks []string) *DependencyCycleError {
	return &DependencyCycleError{
		baseError: baseError{
			message:    "dependency cycle detected",
			cause:      ErrDependencyCycle,
			severity:   SeverityError,
			userFacing: true,
		},
		Tasks: append([]string(nil), tasks...),
	}
}

// Error returns the formatted error message.
func (e *DependencyCycleError) Error() string {
	if len(e.Tasks) == 0 {
		return e.message
	}
	path := append(append([]string(nil), e.Tasks...), e.Tasks[0])
	return fmt.Sprintf("%s: %s", e.message, strings.Join(path, " -> "))
}

// Is checks if this error matches the target.
func (e *DependencyCycleError) Is(target error) bool {
	if _, ok := target.(*DependencyCycleError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// MergeConflictError reports a sandbox branch whose merge into the
// integration line stopped on conflicts. The merge has been aborted; the
// integration line is unchanged.
//
// Example:
//
//	err := errors.NewMergeConflictError("rt/it-1/layer-0/bob", "bob", []string{"main.go"})
//	err = err.WithParticipants([]string{"alice", "bob"})
type MergeConflictError struct {
	baseError
	Branch       string
	Agent        string
	Files        []string
	Participants []string
}

// NewMergeConflictError creates a new MergeConflictError.
func NewMergeConflictError(branch, agent string, files []string) *MergeConflictError {
	return &MergeConflictError{
		baseError: baseError{
			message:    "merge stopped on conflicts",
			cause:      ErrMergeConflict,
			severity:   SeverityError,
			userFacing: true,
		},
		Branch: branch,
		Agent:  agent,
		Files:  append([]string(nil), files...),
	}
}

// WithParticipants records every agent whose branch touched the conflicting
// files, including those already merged.
func (e *MergeConflictError) WithParticipants(agents []string) *MergeConflictError {
	e.Participants = append([]string(nil), agents...)
	return e
}

// Error returns the formatted error message.
func (e *MergeConflictError) Error() string {
	parts := []string{"branch=" + e.Branch}
	if e.Agent != "" {
		parts = append(parts, "agent="+e.Agent)
	}
	if len(e.Participants) > 0 {
		parts = append(parts, "participants="+strings.Join(e.Participants, ","))
	}
	msg := fmt.Sprintf("merge conflict [%s]: %s", strings.Join(parts, ", "), e.message)
	if len(e.Files) > 0 {
		msg += ": " + strings.Join(e.Files, ", ")
	}
	return msg
}

// Is checks if this error matches the target.
func (e *MergeConflictError) Is(target error) bool {
	if _, ok := target.(*MergeConflictError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// UnmergedBranchesError reports branches of a layer that still have to be
// merged (or abandoned) before the next layer can start.
type UnmergedBranchesError struct {
	baseError
	Layer    int
	Branches []string
}

// NewUnmergedBranchesError creates a new UnmergedBranchesError.
func NewUnmergedBranchesError(layer int, branches []string) *UnmergedBranchesError {
	return &UnmergedBranchesError{
		baseError: baseError{
			message:    fmt.Sprintf("layer %d has unmerged branches", layer),
			cause:      ErrUnmergedBranches,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Layer:    layer,
		Branches: append([]string(nil), branches...),
	}
}

// Error returns the formatted error message.
func (e *UnmergedBranchesError) Error() string {
	return fmt.Sprintf("%s: %s", e.message, strings.Join(e.Branches, ", "))
}

// Is checks if this error matches the target.
func (e *UnmergedBranchesError) Is(target error) bool {
	if _, ok := target.(*UnmergedBranchesError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("checkpoint", "999").WithCause(errors.ErrCheckpointNotFound)
//	fmt.Println(err) // "checkpoint '999' not found: checkpoint not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("max_turns must be positive")
//	err = err.WithField("session.max_turns").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("model call for alice", 2*time.Minute)
//	fmt.Println(err) // "timeout error: model call for alice (timeout: 2m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable reports whether err is transient and the operation may succeed
// when re-invoked.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether the error message is safe to show to the
// operator as-is.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that are not classified.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.Severity()
	}
	return SeverityError
}

// IsStructural reports whether err is one of the blocking conditions that
// need human action: a dependency cycle, a merge conflict, unmerged branches
// or an unknown checkpoint.
func IsStructural(err error) bool {
	return Is(err, ErrDependencyCycle) || Is(err, ErrMergeConflict) ||
		Is(err, ErrUnmergedBranches) || Is(err, ErrCheckpointNotFound)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
