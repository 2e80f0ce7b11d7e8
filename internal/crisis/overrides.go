package crisis

import (
	"fmt"
	"strings"
)

// Override names one of the six platform-wide safety switches.
type Override string

const (
	FreezeVoting      Override = "freezeVoting"
	PauseReports      Override = "pauseReports"
	LockEvidenceVault Override = "lockEvidenceVault"
	DisableComments   Override = "disableComments"
	LegalOnlyMode     Override = "legalOnlyMode"
	ForceReAuth       Override = "forceReAuth"
)

// Overrides lists every override in display order.
func Overrides() []Override {
	return []Override{FreezeVoting, PauseReports, LockEvidenceVault, DisableComments, LegalOnlyMode, ForceReAuth}
}

// ParseOverride matches raw against the override names ignoring case and
// separators.
func ParseOverride(raw string) (Override, error) {
	key := normalizeKey(raw)
	for _, o := range Overrides() {
		if strings.ToLower(string(o)) == key {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w: unknown override %q", ErrInvalidInput, raw)
}

// OverrideSet is the state of every override. It is a value; copies never
// alias machine state.
type OverrideSet struct {
	FreezeVoting      bool `json:"freezeVoting"`
	PauseReports      bool `json:"pauseReports"`
	LockEvidenceVault bool `json:"lockEvidenceVault"`
	DisableComments   bool `json:"disableComments"`
	LegalOnlyMode     bool `json:"legalOnlyMode"`
	ForceReAuth       bool `json:"forceReAuth"`
}

// AllOn is the override set of a full lockdown.
func AllOn() OverrideSet {
	return OverrideSet{true, true, true, true, true, true}
}

func (s *OverrideSet) field(o Override) *bool {
	switch o {
	case FreezeVoting:
		return &s.FreezeVoting
	case PauseReports:
		return &s.PauseReports
	case LockEvidenceVault:
		return &s.LockEvidenceVault
	case DisableComments:
		return &s.DisableComments
	case LegalOnlyMode:
		return &s.LegalOnlyMode
	case ForceReAuth:
		return &s.ForceReAuth
	}
	panic(fmt.Sprintf("crisis: unknown override %q", o))
}

// Get reports whether o is on.
func (s OverrideSet) Get(o Override) bool { return *s.field(o) }

// With returns a copy of s with o set to on.
func (s OverrideSet) With(o Override, on bool) OverrideSet {
	*s.field(o) = on
	return s
}

// Active lists the overrides that are on, in display order.
func (s OverrideSet) Active() []Override {
	var out []Override
	for _, o := range Overrides() {
		if s.Get(o) {
			out = append(out, o)
		}
	}
	return out
}

// Any reports whether at least one override is on.
func (s OverrideSet) Any() bool { return len(s.Active()) > 0 }

// All reports whether every override is on.
func (s OverrideSet) All() bool { return s == AllOn() }

func overrideNames(list []Override) []string {
	out := make([]string, len(list))
	for i, o := range list {
		out[i] = string(o)
	}
	return out
}

// Valid reports whether o names one of the six overrides.
func (o Override) Valid() bool {
	switch o {
	case FreezeVoting, PauseReports, LockEvidenceVault, DisableComments, LegalOnlyMode, ForceReAuth:
		return true
	}
	return false
}
