package crisis

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Mode is the platform-wide operating state.
type Mode int

const (
	Normal Mode = iota
	Elevated
	Lockdown
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Elevated:
		return "elevated"
	case Lockdown:
		return "lockdown"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode accepts the names produced by Mode.String, in any case.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "normal":
		return Normal, nil
	case "elevated":
		return Elevated, nil
	case "lockdown":
		return Lockdown, nil
	}
	return Normal, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, raw)
}

// Category is the declared reason class of an activation.
type Category string

const (
	CyberAttack        Category = "CyberAttack"
	MassMisinformation Category = "MassMisinformation"
	CourtOrder         Category = "CourtOrder"
	NationalEmergency  Category = "NationalEmergency"
	SystemBreach       Category = "SystemBreach"
)

// Categories lists every activation category.
func Categories() []Category {
	return []Category{CyberAttack, MassMisinformation, CourtOrder, NationalEmergency, SystemBreach}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CyberAttack, MassMisinformation, CourtOrder, NationalEmergency, SystemBreach:
		return true
	}
	return false
}

// ParseCategory matches raw against the categories ignoring case, spaces,
// dashes and underscores, so "cyber_attack" and "Cyber Attack" both resolve.
func ParseCategory(raw string) (Category, error) {
	key := normalizeKey(raw)
	for _, c := range Categories() {
		if normalizeKey(string(c)) == key {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalidInput, raw)
}

func normalizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

// Slot names one of the two token positions of an activation session.
type Slot string

const (
	SlotA Slot = "A"
	SlotB Slot = "B"
)

// ParseSlot accepts "a"/"b" in either case.
func ParseSlot(raw string) (Slot, error) {
	switch Slot(strings.ToUpper(strings.TrimSpace(raw))) {
	case SlotA:
		return SlotA, nil
	case SlotB:
		return SlotB, nil
	}
	return "", fmt.Errorf("%w: unknown slot %q", ErrInvalidInput, raw)
}

func (s Slot) other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// SessionHandle identifies a pending activation session.
type SessionHandle uuid.UUID

func newHandle() SessionHandle { return SessionHandle(uuid.New()) }

func (h SessionHandle) String() string { return uuid.UUID(h).String() }

func (h SessionHandle) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *SessionHandle) UnmarshalText(b []byte) error {
	parsed, err := ParseSessionHandle(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseSessionHandle parses the textual form of a handle.
func ParseSessionHandle(raw string) (SessionHandle, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return SessionHandle{}, fmt.Errorf("%w: session handle: %v", ErrInvalidInput, err)
	}
	return SessionHandle(id), nil
}
