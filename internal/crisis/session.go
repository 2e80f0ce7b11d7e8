package crisis

import (
	"time"

	"civicguard.org/internal/auth"
)

type slotState struct {
	token    string
	identity string
	filled   bool
}

// session is the single in-flight dual-authorization attempt. It owns the
// countdown timer; only the machine touches it, under the machine lock.
type session struct {
	handle    SessionHandle
	category  Category
	reason    string
	initiator auth.Actor
	createdAt time.Time

	slots    [2]slotState
	armed    bool
	deadline time.Time
	timer    Timer
}

func (s *session) slot(sl Slot) *slotState {
	if sl == SlotA {
		return &s.slots[0]
	}
	return &s.slots[1]
}

func (s *session) complete() bool {
	return s.slots[0].filled && s.slots[1].filled
}

// PendingInfo describes the pending activation without exposing its tokens.
type PendingInfo struct {
	Handle      SessionHandle `json:"handle"`
	Category    Category      `json:"category"`
	Reason      string        `json:"reason"`
	InitiatedBy string        `json:"initiated_by"`
	CreatedAt   time.Time     `json:"created_at"`
	SlotA       bool          `json:"slot_a"`
	SlotB       bool          `json:"slot_b"`
	Armed       bool          `json:"armed"`
	Deadline    *time.Time    `json:"deadline,omitempty"`
}

func (s *session) info() PendingInfo {
	p := PendingInfo{
		Handle:      s.handle,
		Category:    s.category,
		Reason:      s.reason,
		InitiatedBy: s.initiator.ID,
		CreatedAt:   s.createdAt,
		SlotA:       s.slots[0].filled,
		SlotB:       s.slots[1].filled,
		Armed:       s.armed,
	}
	if s.armed {
		d := s.deadline
		p.Deadline = &d
	}
	return p
}
