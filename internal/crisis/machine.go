// Package crisis owns the platform operating mode, the six safety overrides
// and the dual-authorization protocol that escalates to a full lockdown.
package crisis

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"civicguard.org/internal/auth"
	"civicguard.org/internal/crisislog"
	"civicguard.org/internal/gate"
)

// DefaultCountdown is the delay between arming and committing a lockdown.
const DefaultCountdown = 3 * time.Second

const defaultCommitTimeout = 5 * time.Second

// Event names the change that produced a Snapshot.
type Event string

const (
	EventRestored            Event = "restored"
	EventActivationStarted   Event = "activation_started"
	EventTokenSupplied       Event = "token_supplied"
	EventCountdownStarted    Event = "countdown_started"
	EventActivationCancelled Event = "activation_cancelled"
	EventLockdownCommitted   Event = "lockdown_committed"
	EventCommitFailed        Event = "commit_failed"
	EventDeactivated         Event = "deactivated"
	EventOverrideChanged     Event = "override_changed"
	EventOverridesCleared    Event = "overrides_cleared"
)

// Snapshot is an immutable copy of the machine state.
type Snapshot struct {
	Mode      Mode         `json:"mode"`
	Overrides OverrideSet  `json:"overrides"`
	Pending   *PendingInfo `json:"pending,omitempty"`
	Event     Event        `json:"event,omitempty"`
	At        time.Time    `json:"at"`
}

// Observer is told about every state change. It is called with the machine
// lock held, so it must return quickly and must not call back into the Machine.
type Observer interface {
	CrisisChanged(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) CrisisChanged(s Snapshot) { f(s) }

// Logger receives diagnostics that have no caller to return to, such as a
// countdown commit whose log append failed.
type Logger func(msg string, fields map[string]any)

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Machine) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithCountdown overrides DefaultCountdown.
func WithCountdown(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.countdown = d
		}
	}
}

// WithValidator checks token authenticity. Without one, any non-empty token
// counts and the recorded identity is "<actor>/<slot>".
func WithValidator(v auth.CodeValidator) Option {
	return func(m *Machine) { m.validator = v }
}

// WithDistinctIdentities refuses a second token that resolves to the identity
// already holding the other slot.
func WithDistinctIdentities() Option {
	return func(m *Machine) { m.distinct = true }
}

// WithObserver registers observers.
func WithObserver(obs ...Observer) Option {
	return func(m *Machine) {
		for _, o := range obs {
			if o != nil {
				m.observers = append(m.observers, o)
			}
		}
	}
}

// WithLogger sets the diagnostics sink.
func WithLogger(l Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCommitTimeout bounds the log append performed when a countdown expires.
func WithCommitTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.commitTimeout = d
		}
	}
}

// Machine is the single owner of mode, overrides and the pending activation.
// A log append and the state change it records happen under one write lock.
type Machine struct {
	authz         gate.Authorizer
	log           *crisislog.Log
	clock         Clock
	validator     auth.CodeValidator
	countdown     time.Duration
	commitTimeout time.Duration
	distinct      bool
	logger        Logger

	mu        sync.RWMutex
	mode      Mode
	overrides OverrideSet
	pending   *session
	inForce   *crisislog.Entry
	observers []Observer
}

// New builds a machine and restores mode and overrides from the entry of log
// still in force. A nil authz uses the default matrix; a nil log starts empty.
func New(ctx context.Context, authz gate.Authorizer, log *crisislog.Log, opts ...Option) (*Machine, error) {
	if authz == nil {
		authz = auth.NewEngine(nil)
	}
	if log == nil {
		var err error
		if log, err = crisislog.Open(ctx, nil); err != nil {
			return nil, err
		}
	}
	m := &Machine{
		authz:         authz,
		log:           log,
		clock:         SystemClock{},
		countdown:     DefaultCountdown,
		commitTimeout: defaultCommitTimeout,
		logger:        func(string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.restoreLocked(); err != nil {
		return nil, err
	}
	m.notifyLocked(EventRestored)
	return m, nil
}

func (m *Machine) restoreLocked() error {
	cur, ok := m.log.Current()
	if !ok {
		return nil
	}
	if cur.Scope.FullLockdown {
		m.mode = Lockdown
		m.overrides = AllOn()
		m.inForce = &cur
		return nil
	}
	var set OverrideSet
	for _, name := range cur.Scope.Overrides {
		o, err := ParseOverride(name)
		if err != nil {
			return fmt.Errorf("restore crisis state from %s: %w", cur.ID, err)
		}
		set = set.With(o, true)
	}
	if !set.Any() {
		return nil
	}
	m.mode = Elevated
	m.overrides = set
	m.inForce = &cur
	return nil
}

// Observe registers o and immediately delivers the current state to it.
func (m *Machine) Observe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
	o.CrisisChanged(m.snapshotLocked(""))
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Overrides returns a copy of the current overrides.
func (m *Machine) Overrides() OverrideSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overrides
}

// Snapshot returns mode, overrides and pending session as one consistent copy.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked("")
}

// Pending describes the open activation session, if any.
func (m *Machine) Pending() (PendingInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pending == nil {
		return PendingInfo{}, false
	}
	return m.pending.info(), true
}

// Countdown is the configured arming delay.
func (m *Machine) Countdown() time.Duration { return m.countdown }

// LogEntries yields the crisis log newest first. Each range reads the log as
// of a moment when no transition is half applied.
func (m *Machine) LogEntries(ctx context.Context) iter.Seq[crisislog.Entry] {
	return func(yield func(crisislog.Entry) bool) {
		m.mu.RLock()
		entries := m.log.Entries(ctx)
		m.mu.RUnlock()
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

// BeginActivation opens the dual-authorization session that can lead to a
// lockdown. Only one session may be pending system-wide.
func (m *Machine) BeginActivation(ctx context.Context, actor auth.Actor, category Category, reason string) (SessionHandle, error) {
	if err := m.require(actor); err != nil {
		return SessionHandle{}, err
	}
	reason = strings.TrimSpace(reason)
	switch {
	case !category.Valid():
		return SessionHandle{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, category)
	case reason == "":
		return SessionHandle{}, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	case strings.TrimSpace(actor.ID) == "":
		return SessionHandle{}, fmt.Errorf("%w: initiating actor is required", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return SessionHandle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == Lockdown {
		return SessionHandle{}, fmt.Errorf("%w: platform is already locked down", ErrInvalidTransition)
	}
	if m.pending != nil {
		return SessionHandle{}, fmt.Errorf("%w: session %s", ErrSessionConflict, m.pending.handle)
	}
	m.pending = &session{
		handle:    newHandle(),
		category:  category,
		reason:    reason,
		initiator: actor,
		createdAt: m.clock.Now(),
	}
	m.notifyLocked(EventActivationStarted)
	return m.pending.handle, nil
}

// SupplyToken fills one slot of the pending session. Tokens are checked by
// the configured validator outside the machine lock.
func (m *Machine) SupplyToken(ctx context.Context, actor auth.Actor, handle SessionHandle, slot Slot, token string) error {
	if err := m.require(actor); err != nil {
		return err
	}
	if slot != SlotA && slot != SlotB {
		return fmt.Errorf("%w: unknown slot %q", ErrInvalidInput, slot)
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token for slot %s is empty", ErrInvalidInput, slot)
	}

	m.mu.RLock()
	err := m.checkSlotLocked(handle, slot, token)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	identity := actor.ID + "/" + string(slot)
	if m.validator != nil {
		id, err := m.validator.ValidateToken(ctx, string(slot), token)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: slot %s: %w", ErrTokenRejected, slot, err)
		}
		identity = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSlotLocked(handle, slot, token); err != nil {
		return err
	}
	sess := m.pending
	if other := sess.slot(slot.other()); m.distinct && other.filled && other.identity == identity {
		return fmt.Errorf("%w: both tokens belong to %s", ErrTokenRejected, identity)
	}
	*sess.slot(slot) = slotState{token: token, identity: identity, filled: true}
	m.notifyLocked(EventTokenSupplied)
	return nil
}

func (m *Machine) checkSlotLocked(handle SessionHandle, slot Slot, token string) error {
	sess, err := m.lookupLocked(handle)
	if err != nil {
		return err
	}
	if sess.armed {
		return fmt.Errorf("%w: countdown already running", ErrInvalidTransition)
	}
	if other := sess.slot(slot.other()); other.filled && other.token == token {
		return fmt.Errorf("%w: the two tokens must differ", ErrInvalidInput)
	}
	return nil
}

// StartCountdown arms the commit timer once both slots hold a token.
func (m *Machine) StartCountdown(ctx context.Context, actor auth.Actor, handle SessionHandle) error {
	if err := m.require(actor); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, err := m.lookupLocked(handle)
	if err != nil {
		return err
	}
	if sess.armed {
		return fmt.Errorf("%w: countdown already running", ErrInvalidTransition)
	}
	if !sess.complete() {
		return fmt.Errorf("%w: slot A filled=%t, slot B filled=%t",
			ErrIncompleteAuthorization, sess.slot(SlotA).filled, sess.slot(SlotB).filled)
	}
	sess.armed = true
	sess.deadline = m.clock.Now().Add(m.countdown)
	sess.timer = m.clock.AfterFunc(m.countdown, func() { m.commit(sess) })
	m.notifyLocked(EventCountdownStarted)
	return nil
}

// CancelActivation discards the pending session. Only its initiator may
// cancel, and cancelling never touches mode, overrides or the log.
func (m *Machine) CancelActivation(ctx context.Context, actor auth.Actor, handle SessionHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, err := m.lookupLocked(handle)
	if err != nil {
		return err
	}
	if actor.ID != sess.initiator.ID {
		return fmt.Errorf("%w: only %s may cancel session %s", ErrPermissionDenied, sess.initiator.ID, handle)
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	m.pending = nil
	m.notifyLocked(EventActivationCancelled)
	return nil
}

// commit runs when the countdown expires. A session cancelled first is gone
// by the time the lock is taken and nothing happens.
func (m *Machine) commit(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != sess || !sess.armed {
		return
	}
	m.pending = nil

	entry := crisislog.Entry{
		Kind:           crisislog.KindActivation,
		ActivatedBy:    []string{sess.slot(SlotA).identity, sess.slot(SlotB).identity},
		ReasonCategory: string(sess.category),
		ReasonText:     sess.reason,
		Scope:          crisislog.FullLockdownScope(),
		Timestamp:      m.clock.Now(),
		Open:           true,
	}
	if m.inForce != nil {
		entry.Supersedes = m.inForce.ID
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.commitTimeout)
	defer cancel()
	stored, err := m.log.Append(ctx, entry)
	if err != nil {
		m.logger("crisis_commit_failed", map[string]any{
			"session":   sess.handle.String(),
			"initiator": sess.initiator.ID,
			"error":     err.Error(),
		})
		m.notifyLocked(EventCommitFailed)
		return
	}
	m.mode = Lockdown
	m.overrides = AllOn()
	m.inForce = &stored
	m.notifyLocked(EventLockdownCommitted)
}

// Deactivate stands the platform down from Lockdown to Normal. It is a
// single-party action.
func (m *Machine) Deactivate(ctx context.Context, actor auth.Actor) error {
	if err := m.require(actor); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != Lockdown {
		return fmt.Errorf("%w: deactivate from %s", ErrInvalidTransition, m.mode)
	}
	prev := m.inForce
	if _, err := m.log.Append(ctx, crisislog.Entry{
		Kind:           crisislog.KindResolution,
		ActivatedBy:    []string{actor.ID},
		ReasonCategory: prev.ReasonCategory,
		ReasonText:     "crisis deactivated",
		Scope:          prev.Scope,
		Timestamp:      m.clock.Now(),
		Supersedes:     prev.ID,
	}); err != nil {
		return fmt.Errorf("record deactivation: %w", err)
	}
	m.mode = Normal
	m.overrides = OverrideSet{}
	m.inForce = nil
	m.notifyLocked(EventDeactivated)
	return nil
}

// ToggleOverride flips one override outside Lockdown and returns the new set.
// Turning the first override on enters Elevated; turning the last one off
// returns to Normal.
func (m *Machine) ToggleOverride(ctx context.Context, actor auth.Actor, o Override) (OverrideSet, error) {
	if !o.Valid() {
		return OverrideSet{}, fmt.Errorf("%w: unknown override %q", ErrInvalidInput, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == Lockdown {
		return OverrideSet{}, fmt.Errorf("%w: overrides are fixed during lockdown", ErrInvalidTransition)
	}
	if err := m.require(actor); err != nil {
		return OverrideSet{}, err
	}
	on := !m.overrides.Get(o)
	next := m.overrides.With(o, on)
	state := "off"
	if on {
		state = "on"
	}
	if err := m.applyPartialLocked(ctx, actor, next, string(o)+" "+state); err != nil {
		return OverrideSet{}, err
	}
	m.notifyLocked(EventOverrideChanged)
	return next, nil
}

// ClearOverrides turns every manual override off, returning Elevated to
// Normal. It is a no-op in Normal.
func (m *Machine) ClearOverrides(ctx context.Context, actor auth.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == Lockdown {
		return fmt.Errorf("%w: use deactivation to leave lockdown", ErrInvalidTransition)
	}
	if err := m.require(actor); err != nil {
		return err
	}
	if m.mode == Normal {
		return nil
	}
	if err := m.applyPartialLocked(ctx, actor, OverrideSet{}, "overrides cleared"); err != nil {
		return err
	}
	m.notifyLocked(EventOverridesCleared)
	return nil
}

func (m *Machine) applyPartialLocked(ctx context.Context, actor auth.Actor, next OverrideSet, text string) error {
	entry := crisislog.Entry{
		ActivatedBy: []string{actor.ID},
		ReasonText:  text,
		Timestamp:   m.clock.Now(),
	}
	if m.inForce != nil {
		entry.Supersedes = m.inForce.ID
	}
	if next.Any() {
		entry.Kind = crisislog.KindOverride
		entry.Scope = crisislog.PartialScope(overrideNames(next.Active())...)
		entry.Open = true
	} else {
		entry.Kind = crisislog.KindResolution
		entry.Scope = crisislog.PartialScope(overrideNames(m.overrides.Active())...)
	}
	stored, err := m.log.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("record override change: %w", err)
	}
	m.overrides = next
	if next.Any() {
		m.mode = Elevated
		m.inForce = &stored
	} else {
		m.mode = Normal
		m.inForce = nil
	}
	return nil
}

func (m *Machine) require(actor auth.Actor) error {
	if !gate.Allowed(m.authz, actor.Role, auth.PermManageCrisis) {
		return fmt.Errorf("%w: %s (%s) lacks %s", ErrPermissionDenied, actor.ID, actor.Role, auth.PermManageCrisis)
	}
	return nil
}

func (m *Machine) lookupLocked(handle SessionHandle) (*session, error) {
	if m.pending == nil || m.pending.handle != handle {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, handle)
	}
	return m.pending, nil
}

func (m *Machine) snapshotLocked(ev Event) Snapshot {
	s := Snapshot{
		Mode:      m.mode,
		Overrides: m.overrides,
		Event:     ev,
		At:        m.clock.Now(),
	}
	if m.pending != nil {
		info := m.pending.info()
		s.Pending = &info
	}
	return s
}

func (m *Machine) notifyLocked(ev Event) {
	s := m.snapshotLocked(ev)
	for _, o := range m.observers {
		o.CrisisChanged(s)
	}
}
