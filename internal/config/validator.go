package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.max_turns")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// nameRegex validates participant names and the branch prefix, which end up
// in branch names and @mentions.
var nameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// reservedNames cannot be used as participant names
var reservedNames = []string{"human", "system"}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidHistoryScopes returns the list of valid session.history_scope values
func ValidHistoryScopes() []string {
	return []string{"phase", "window", "full"}
}

// ValidLockBackends returns the list of valid lock.backend values
func ValidLockBackends() []string {
	return []string{"file", "redis"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateParticipants()...)
	errors = append(errors, c.validateBranch()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.MaxTurns <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.max_turns",
			Value:   c.Session.MaxTurns,
			Message: "must be positive",
		})
	}
	if c.Session.MentionLookback < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.mention_lookback",
			Value:   c.Session.MentionLookback,
			Message: "must be non-negative",
		})
	}
	if c.Session.ModelTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.model_timeout_seconds",
			Value:   c.Session.ModelTimeoutSeconds,
			Message: "must be non-negative",
		})
	}
	if !slices.Contains(ValidHistoryScopes(), c.Session.HistoryScope) {
		errors = append(errors, ValidationError{
			Field:   "session.history_scope",
			Value:   c.Session.HistoryScope,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidHistoryScopes(), ", ")),
		})
	}
	if c.Session.HistoryScope == "window" && c.Session.HistoryWindow <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.history_window",
			Value:   c.Session.HistoryWindow,
			Message: "must be positive when history_scope is window",
		})
	}
	return errors
}

func (c *Config) validateParticipants() []ValidationError {
	var errors []ValidationError

	if len(c.Participants.Agents) == 0 {
		errors = append(errors, ValidationError{
			Field:   "participants.agents",
			Value:   c.Participants.Agents,
			Message: "at least one agent is required",
		})
	}

	seen := make(map[string]bool)
	names := append([]string(nil), c.Participants.Agents...)
	if c.Participants.Coach != "" {
		names = append(names, c.Participants.Coach)
	}
	for _, name := range names {
		switch {
		case !nameRegex.MatchString(name):
			errors = append(errors, ValidationError{
				Field:   "participants",
				Value:   name,
				Message: "names must start with a letter and contain only letters, digits, hyphens, and underscores",
			})
		case slices.Contains(reservedNames, strings.ToLower(name)):
			errors = append(errors, ValidationError{
				Field:   "participants",
				Value:   name,
				Message: "name is reserved",
			})
		case seen[strings.ToLower(name)]:
			errors = append(errors, ValidationError{
				Field:   "participants",
				Value:   name,
				Message: "duplicate participant name",
			})
		}
		seen[strings.ToLower(name)] = true
	}
	return errors
}

func (c *Config) validateBranch() []ValidationError {
	if c.Branch.Prefix != "" && !nameRegex.MatchString(c.Branch.Prefix) {
		return []ValidationError{{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: "must start with a letter and contain only letters, digits, hyphens, and underscores",
		}}
	}
	return nil
}

func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidLockBackends(), c.Lock.Backend) {
		errors = append(errors, ValidationError{
			Field:   "lock.backend",
			Value:   c.Lock.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLockBackends(), ", ")),
		})
	}
	if c.Lock.Backend == "redis" && c.Lock.RedisAddr == "" {
		errors = append(errors, ValidationError{
			Field:   "lock.redis_addr",
			Value:   c.Lock.RedisAddr,
			Message: "required when lock.backend is redis",
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between 0 and %d", maxLogSizeMB),
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	return errors
}
