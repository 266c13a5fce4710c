// Package fileguard classifies agent file operations by path. Denied paths
// are never written, allowed paths are written directly, and everything else
// needs a human approval first.
package fileguard

import (
	"path"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/roundtable/internal/errors"
)

// Decision is the outcome of a check.
type Decision int

const (
	Deny Decision = iota
	Allow
	RequiresApproval
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case RequiresApproval:
		return "requires-approval"
	}
	return "unknown"
}

// Operation is the kind of file operation being checked.
type Operation string

const (
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// Checker is what the session engine consults before a write.
type Checker interface {
	Check(rel string, op Operation) Decision
}

type rule struct {
	pattern string
	globs   []glob.Glob
}

func (r rule) match(p string) bool {
	for _, g := range r.globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// Guard is a glob based Checker. Deny rules win over allow rules.
type Guard struct {
	allow []rule
	deny  []rule
}

// New compiles allow and deny patterns. Patterns use "/" as separator; a
// leading "**/" also matches at the root.
func New(allow, deny []string) (*Guard, error) {
	g := &Guard{}
	var err error
	if g.allow, err = compile("fileguard.allow", allow); err != nil {
		return nil, err
	}
	if g.deny, err = compile("fileguard.deny", deny); err != nil {
		return nil, err
	}
	return g, nil
}

func compile(field string, patterns []string) ([]rule, error) {
	rules := make([]rule, 0, len(patterns))
	for _, p := range patterns {
		srcs := []string{p}
		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			srcs = append(srcs, rest)
		}
		r := rule{pattern: p}
		for _, src := range srcs {
			g, err := glob.Compile(src, '/')
			if err != nil {
				return nil, errors.NewValidationError("invalid pattern").
					WithField(field).
					WithValue(p).
					WithCause(err)
			}
			r.globs = append(r.globs, g)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Clean normalizes rel to a slash separated path inside the workspace. It
// reports false for empty, absolute or escaping paths.
func Clean(rel string) (string, bool) {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/")
	if rel == "" || strings.HasPrefix(rel, "/") {
		return "", false
	}
	rel = path.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// Check classifies an operation on rel.
func (g *Guard) Check(rel string, op Operation) Decision {
	p, ok := Clean(rel)
	if !ok {
		return Deny
	}
	for _, r := range g.deny {
		if r.match(p) {
			return Deny
		}
	}
	for _, r := range g.allow {
		if r.match(p) {
			// Deleting is never silent.
			if op == OpDelete {
				return RequiresApproval
			}
			return Allow
		}
	}
	return RequiresApproval
}

// Rule returns the first pattern deciding rel, or "" when none matches.
func (g *Guard) Rule(rel string) string {
	p, ok := Clean(rel)
	if !ok {
		return ""
	}
	for _, r := range g.deny {
		if r.match(p) {
			return r.pattern
		}
	}
	for _, r := range g.allow {
		if r.match(p) {
			return r.pattern
		}
	}
	return ""
}

var _ Checker = (*Guard)(nil)
