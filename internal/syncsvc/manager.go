package syncsvc

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"fieldproof/internal/syncerr"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusSyncing    Status = "syncing"
	StatusError      Status = "error"
	StatusRecovering Status = "recovering"
)

type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// State is the process-wide sync state. One instance per agent; persisted as
// a single snapshot record.
type State struct {
	Status         Status             `json:"status"`
	LastSyncAt     *time.Time         `json:"last_sync_at,omitempty"`
	LastError      *syncerr.SyncError `json:"last_error,omitempty"`
	CurrentAttempt int                `json:"current_attempt"`
	NextRetryAt    *time.Time         `json:"next_retry_at,omitempty"`
	PendingItems   int                `json:"pending_items"`
	FailedItems    int                `json:"failed_items"`
}

// Health derives aggregate health from failure counts.
func (s State) Health() Health {
	switch {
	case s.FailedItems == 0:
		return HealthHealthy
	case s.FailedItems <= 5:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// StateStore persists the sync state snapshot.
type StateStore interface {
	Save(s State) error
	Load() (State, bool, error)
}

// Timer is an armed retry timer.
type Timer interface {
	Stop() bool
}

// TimerFactory arms a timer; injectable so tests can fire timers manually
// instead of waiting on the wall clock.
type TimerFactory func(d time.Duration, fn func()) Timer

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

func defaultTimerFactory(d time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(d, fn)}
}

// RetryFunc performs one sync pass. It is expected to report its outcome back
// through Succeed or Fail.
type RetryFunc func(ctx context.Context)

// Manager is the sync recovery state machine.
//
// Transitions:
//
//	idle → syncing            Begin
//	syncing → idle            Succeed (resets attempt counter)
//	syncing → error           Fail (classified error recorded)
//	error → recovering        Fail arms a backoff timer, only if retryable
//	recovering → syncing      timer fires (or ForceRetry)
//	any → idle                Cancel
//
// Non-retryable errors stay in error until an explicit manual action.
type Manager struct {
	policy Policy
	store  StateStore
	log    *slog.Logger
	clock  func() time.Time
	timers TimerFactory
	rng    *rand.Rand
	retry  RetryFunc

	// onExhausted fires when automatic recovery gives up: retries exhausted
	// or a non-retryable error. Surfaces the failure to the operator.
	onExhausted func(*syncerr.SyncError)

	mu    sync.Mutex
	state State
	timer Timer
	subs  []func(State)
}

type ManagerOption func(*Manager)

func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

func WithTimerFactory(tf TimerFactory) ManagerOption {
	return func(m *Manager) { m.timers = tf }
}

func WithRand(rng *rand.Rand) ManagerOption {
	return func(m *Manager) { m.rng = rng }
}

func WithRetryFunc(fn RetryFunc) ManagerOption {
	return func(m *Manager) { m.retry = fn }
}

// WithExhaustionFunc registers fn to be called when no further automatic
// retry will be scheduled. Runs outside the manager lock.
func WithExhaustionFunc(fn func(*syncerr.SyncError)) ManagerOption {
	return func(m *Manager) { m.onExhausted = fn }
}

func NewManager(policy Policy, store StateStore, log *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		policy: policy,
		store:  store,
		log:    log,
		clock:  time.Now,
		timers: defaultTimerFactory,
		state:  State{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m.store != nil {
		if persisted, ok, err := m.store.Load(); err != nil {
			m.log.Warn("sync state load failed", "err", err)
		} else if ok {
			// Timers do not survive a restart; whatever was in flight is
			// stale. Counters and history carry over, status resets.
			persisted.Status = StatusIdle
			persisted.NextRetryAt = nil
			m.state = persisted
		}
	}
	return m
}

var ErrNotSyncing = errors.New("syncsvc: no sync in progress")

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn to be called after every state transition.
// Callbacks run outside the manager lock.
func (m *Manager) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Begin marks a sync pass as started.
func (m *Manager) Begin() {
	m.mu.Lock()
	m.state.Status = StatusSyncing
	m.persistLocked()
	snap, subs := m.state, m.subsCopyLocked()
	m.mu.Unlock()
	notify(snap, subs)
}

// Succeed marks the in-flight sync pass as complete and resets recovery.
func (m *Manager) Succeed() {
	m.mu.Lock()
	now := m.clock().UTC()
	m.state.Status = StatusIdle
	m.state.LastSyncAt = &now
	m.state.LastError = nil
	m.state.CurrentAttempt = 0
	m.state.NextRetryAt = nil
	m.stopTimerLocked()
	m.persistLocked()
	snap, subs := m.state, m.subsCopyLocked()
	m.mu.Unlock()
	notify(snap, subs)
}

// Fail records a classified failure and, when allowed, arms the backoff
// timer for automatic recovery.
func (m *Manager) Fail(se *syncerr.SyncError) {
	m.mu.Lock()
	m.state.Status = StatusError
	m.state.LastError = se
	delay := m.policy.Delay(m.state.CurrentAttempt, m.rng)
	m.state.CurrentAttempt++

	exhausted := false
	if m.policy.ShouldRetry(m.state.CurrentAttempt, se.Retryable) {
		at := m.clock().UTC().Add(delay)
		m.state.Status = StatusRecovering
		m.state.NextRetryAt = &at
		m.stopTimerLocked()
		m.timer = m.timers(delay, m.onTimer)
		m.log.Info("sync retry scheduled",
			"attempt", m.state.CurrentAttempt, "delay", delay, "code", se.Code)
	} else {
		m.state.NextRetryAt = nil
		m.stopTimerLocked()
		exhausted = true
		m.log.Warn("sync permanently failed until manual action",
			"attempt", m.state.CurrentAttempt, "code", se.Code, "retryable", se.Retryable)
	}
	m.persistLocked()
	snap, subs := m.state, m.subsCopyLocked()
	onExhausted := m.onExhausted
	m.mu.Unlock()
	if exhausted && onExhausted != nil {
		onExhausted(se)
	}
	notify(snap, subs)
}

// Cancel aborts recovery: clears any pending timer and returns to idle.
// Used when the user takes a conflicting action (manual retry, logout).
func (m *Manager) Cancel() {
	m.mu.Lock()
	m.state.Status = StatusIdle
	m.state.CurrentAttempt = 0
	m.state.NextRetryAt = nil
	m.stopTimerLocked()
	m.persistLocked()
	snap, subs := m.state, m.subsCopyLocked()
	m.mu.Unlock()
	notify(snap, subs)
}

// ForceRetry runs the sync pass immediately, regardless of the armed timer.
func (m *Manager) ForceRetry(ctx context.Context) {
	m.mu.Lock()
	m.stopTimerLocked()
	m.state.Status = StatusSyncing
	m.state.NextRetryAt = nil
	m.persistLocked()
	snap, subs := m.state, m.subsCopyLocked()
	retry := m.retry
	m.mu.Unlock()
	notify(snap, subs)

	if retry != nil {
		retry(ctx)
	}
}

// SetQueueStats records the delivery queue's pending/failed counts, which
// drive derived health.
func (m *Manager) SetQueueStats(pending, failed int) {
	m.mu.Lock()
	m.state.PendingItems = pending
	m.state.FailedItems = failed
	m.persistLocked()
	snap, subs := m.state, m.subsCopyLocked()
	m.mu.Unlock()
	notify(snap, subs)
}

// onTimer fires the armed retry: recovering → syncing, then the retry func.
func (m *Manager) onTimer() {
	m.mu.Lock()
	if m.state.Status != StatusRecovering {
		// Cancelled or superseded while the timer was in flight.
		m.mu.Unlock()
		return
	}
	m.state.Status = StatusSyncing
	m.state.NextRetryAt = nil
	m.timer = nil
	m.persistLocked()
	snap, subs := m.state, m.subsCopyLocked()
	retry := m.retry
	m.mu.Unlock()
	notify(snap, subs)

	if retry != nil {
		retry(context.Background())
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(m.state); err != nil {
		// Degraded mode: the snapshot is a convenience projection, losing
		// one write is not fatal.
		m.log.Warn("sync state persist failed", "err", err)
	}
}

func (m *Manager) subsCopyLocked() []func(State) {
	out := make([]func(State), len(m.subs))
	copy(out, m.subs)
	return out
}

func notify(s State, subs []func(State)) {
	for _, fn := range subs {
		fn(s)
	}
}
