package crisislog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind classifies a log entry.
type Kind string

const (
	// KindActivation records a committed full lockdown.
	KindActivation Kind = "activation"
	// KindOverride records a manual change to the partial override set.
	KindOverride Kind = "override"
	// KindResolution closes the entry named in Supersedes.
	KindResolution Kind = "resolution"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindActivation, KindOverride, KindResolution:
		return true
	}
	return false
}

const fullLockdown = "full_lockdown"

// Scope is what an entry applied to: the full lockdown, or a named set of
// individual overrides.
type Scope struct {
	FullLockdown bool     `json:"full_lockdown"`
	Overrides    []string `json:"overrides,omitempty"`
}

// FullLockdownScope is the scope of an activation.
func FullLockdownScope() Scope { return Scope{FullLockdown: true} }

// PartialScope names the overrides in force. Names are kept sorted.
func PartialScope(names ...string) Scope {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return Scope{Overrides: slices.Compact(out)}
}

// String renders the scope as "full_lockdown" or "partial:a,b".
func (s Scope) String() string {
	if s.FullLockdown {
		return fullLockdown
	}
	return "partial:" + strings.Join(s.Overrides, ",")
}

// ParseScope is the inverse of Scope.String.
func ParseScope(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == fullLockdown {
		return FullLockdownScope(), nil
	}
	rest, ok := strings.CutPrefix(raw, "partial:")
	if !ok {
		return Scope{}, fmt.Errorf("%w: scope %q", ErrInvalidEntry, raw)
	}
	if rest == "" {
		return PartialScope(), nil
	}
	return PartialScope(strings.Split(rest, ",")...), nil
}

func (s Scope) clone() Scope {
	return Scope{FullLockdown: s.FullLockdown, Overrides: slices.Clone(s.Overrides)}
}

// Entry is one immutable record of the crisis log. Open records whether the
// entry was written as being in force; Active is derived when the log is read
// and turns false once a later entry supersedes it.
type Entry struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	ActivatedBy    []string  `json:"activated_by"`
	ReasonCategory string    `json:"reason_category,omitempty"`
	ReasonText     string    `json:"reason_text,omitempty"`
	Scope          Scope     `json:"scope"`
	Timestamp      time.Time `json:"timestamp"`
	Open           bool      `json:"open"`
	Supersedes     string    `json:"supersedes,omitempty"`
	Active         bool      `json:"active"`
}

func (e Entry) clone() Entry {
	e.ActivatedBy = slices.Clone(e.ActivatedBy)
	e.Scope = e.Scope.clone()
	return e
}

var (
	ErrInvalidEntry = errors.New("crisislog: invalid entry")
	ErrDuplicateID  = errors.New("crisislog: duplicate entry id")
)

func validate(e Entry) error {
	switch {
	case !e.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEntry)
	case len(e.ActivatedBy) == 0:
		return fmt.Errorf("%w: missing actor", ErrInvalidEntry)
	case e.Kind == KindActivation && !e.Scope.FullLockdown:
		return fmt.Errorf("%w: activation must cover the full lockdown", ErrInvalidEntry)
	case e.Kind == KindResolution && e.Open:
		return fmt.Errorf("%w: a resolution cannot be open", ErrInvalidEntry)
	case e.Kind == KindResolution && e.Supersedes == "":
		return fmt.Errorf("%w: a resolution must supersede an entry", ErrInvalidEntry)
	}
	for _, who := range e.ActivatedBy {
		if strings.TrimSpace(who) == "" {
			return fmt.Errorf("%w: blank actor", ErrInvalidEntry)
		}
	}
	return nil
}
