package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldproof/internal/channel"
	"fieldproof/internal/syncerr"
)

const historyCap = 100

// DrainGuard serializes drains across app contexts. The claim is advisory:
// losing it means skip this pass, not give up. Implemented by the Redis
// coordinator; the noop fallback always grants.
type DrainGuard interface {
	AcquireDrainClaim(ctx context.Context) (release func(), ok bool, err error)
}

// ConnectivityProbe reports whether the device currently has a network path
// to the outside world.
type ConnectivityProbe interface {
	Online() bool
}

// Recorder mirrors delivery bookkeeping to the remote store. Upserts are
// keyed by item id, so repeats from a double-drained item collapse to one row.
type Recorder interface {
	UpsertDeliveryRecord(ctx context.Context, item Item) error
}

// Queue is the offline-first delivery queue. Enqueue never fails for lack of
// connectivity; items wait locally and drain when a path opens.
//
// Invariants:
// - Pending order is arrival order and drains are serialized per process.
// - Every send try is recorded on the item, success or not.
// - Terminal items move to a history ring capped at historyCap.
type Queue struct {
	mu            sync.Mutex
	pending       []Item
	history       []Item
	notifications []Notification

	registry channel.Registry
	store    Store
	probe    ConnectivityProbe
	guard    DrainGuard
	recorder Recorder

	maxRetries int
	defaultTTL time.Duration

	clock func() time.Time
	log   *slog.Logger
	stats func(pending, failed int)
	subs  []func()

	kick chan struct{}
}

type Option func(*Queue)

func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

func WithDrainGuard(g DrainGuard) Option {
	return func(q *Queue) { q.guard = g }
}

func WithRecorder(r Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

// WithStatsFunc wires pending/failed counts out to the sync status surface.
func WithStatsFunc(fn func(pending, failed int)) Option {
	return func(q *Queue) { q.stats = fn }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(q *Queue) { q.defaultTTL = ttl }
}

func NewQueue(reg channel.Registry, store Store, probe ConnectivityProbe, maxRetries int, log *slog.Logger, opts ...Option) (*Queue, error) {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	q := &Queue{
		registry:   reg,
		store:      store,
		probe:      probe,
		maxRetries: maxRetries,
		clock:      time.Now,
		log:        log,
		kick:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}

	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}
	q.pending = snap.Pending
	q.history = snap.History
	q.notifications = snap.Notifications
	return q, nil
}

// Enqueue adds an item to the local queue. It always succeeds locally; when
// the device is online a drain is kicked off in the background.
func (q *Queue) Enqueue(item Item) (string, error) {
	now := q.clock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Priority == "" {
		item.Priority = "normal"
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.ExpiresAt.IsZero() && q.defaultTTL > 0 {
		item.ExpiresAt = now.Add(q.defaultTTL)
	}
	if len(item.Channels) == 0 {
		return "", fmt.Errorf("enqueue %s: no channels declared", item.ID)
	}
	item.Status = StatusPending
	item.Retries = 0
	item.Attempts = nil

	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.persistLocked()
	q.mu.Unlock()

	q.notifySubscribers()
	q.publishStats()
	if q.probe == nil || q.probe.Online() {
		q.Kick()
	}
	return item.ID, nil
}

// Kick requests a background drain pass. Non-blocking; collapsed if one is
// already requested.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Run drains on demand (Kick) and on a periodic timer while the context
// lives. Used from main; tests call Drain directly.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.kick:
		case <-ticker.C:
		}
		if q.probe != nil && !q.probe.Online() {
			continue
		}
		if err := q.Drain(ctx); err != nil {
			q.log.Warn("queue drain failed", "error", err)
		}
	}
}

// Drain walks pending items in arrival order and tries each item's channels
// in their declared order, stopping at the first success. The context is
// checked between items so shutdown doesn't wait on a long queue.
func (q *Queue) Drain(ctx context.Context) error {
	if q.guard != nil {
		release, ok, err := q.guard.AcquireDrainClaim(ctx)
		if err != nil {
			q.log.Warn("drain claim errored, proceeding unguarded", "error", err)
		} else if !ok {
			// Another context holds the claim; its drain covers us.
			return nil
		} else {
			defer release()
		}
	}

	q.mu.Lock()
	ids := make([]string, len(q.pending))
	for i, it := range q.pending {
		ids[i] = it.ID
	}
	q.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.probe != nil && !q.probe.Online() {
			return nil
		}
		q.drainOne(ctx, id)
	}

	q.publishStats()
	return nil
}

func (q *Queue) drainOne(ctx context.Context, id string) {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	item := q.pending[idx]
	now := q.clock()

	if item.Expired(now) {
		item.Status = StatusExpired
		q.retireLocked(idx, item)
		q.mu.Unlock()
		q.afterTerminal(ctx, item)
		return
	}
	item.Status = StatusQueued
	q.pending[idx] = item
	q.mu.Unlock()

	delivered := false
	for _, name := range item.Channels {
		att := Attempt{Channel: name, AttemptedAt: q.clock()}
		ch, ok := q.registry[name]
		if !ok {
			att.Error = "unknown channel"
		} else if err := ch.Send(ctx, q.message(item)); err != nil {
			att.Error = err.Error()
			if se := syncerr.Classify(err, q.offline()); se.RecoveryAction == syncerr.RecoveryReduceData {
				item.NeedsReduction = true
			}
			q.log.Warn("delivery attempt failed",
				"item_id", item.ID, "channel", name, "error", err)
		} else {
			att.Success = true
			delivered = true
		}
		item.Attempts = append(item.Attempts, att)
		if delivered {
			break
		}
	}

	q.mu.Lock()
	idx = q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	if delivered {
		item.Status = StatusDelivered
		q.retireLocked(idx, item)
		q.mu.Unlock()
		q.afterTerminal(ctx, item)
		return
	}

	item.Retries++
	if item.Retries >= q.maxRetries {
		item.Status = StatusFailed
		q.retireLocked(idx, item)
		q.notifyLocked(Notification{
			ID:        uuid.NewString(),
			ItemID:    item.ID,
			Severity:  SeverityError,
			Message:   fmt.Sprintf("delivery %s failed after %d attempts", item.ID, item.Retries),
			CreatedAt: q.clock(),
		})
		q.mu.Unlock()
		q.afterTerminal(ctx, item)
		return
	}
	item.Status = StatusPending
	q.pending[idx] = item
	q.persistLocked()
	q.mu.Unlock()
	q.notifySubscribers()
}

// RetryDelivery resurrects a terminal item for one more drain pass beyond
// the normal cap. Expired items stay expired.
func (q *Queue) RetryDelivery(id string) error {
	q.mu.Lock()
	var item Item
	found := -1
	for i, it := range q.history {
		if it.ID == id {
			item, found = it, i
			break
		}
	}
	if found < 0 {
		q.mu.Unlock()
		return fmt.Errorf("delivery %s not found in history", id)
	}
	if item.Expired(q.clock()) {
		q.mu.Unlock()
		return fmt.Errorf("delivery %s has expired", id)
	}
	if item.Retries >= q.maxRetries {
		item.Retries = q.maxRetries - 1
	}
	item.Status = StatusPending
	q.history = append(q.history[:found], q.history[found+1:]...)
	q.pending = append(q.pending, item)
	q.persistLocked()
	q.mu.Unlock()

	q.notifySubscribers()
	q.Kick()
	return nil
}

func (q *Queue) offline() bool {
	return q.probe != nil && !q.probe.Online()
}

func (q *Queue) message(item Item) channel.Message {
	return channel.Message{
		ID:        item.ID,
		Kind:      item.Kind,
		Subject:   item.Subject,
		Body:      item.Body,
		Recipient: item.Recipient,
		Meta:      item.Meta,
		CreatedAt: item.CreatedAt,
	}
}

// retireLocked moves a terminal item into the history ring, trimming oldest
// entries past the cap. Caller holds q.mu.
func (q *Queue) retireLocked(idx int, item Item) {
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	q.history = append(q.history, item)
	if len(q.history) > historyCap {
		q.history = q.history[len(q.history)-historyCap:]
	}
	q.persistLocked()
}

func (q *Queue) afterTerminal(ctx context.Context, item Item) {
	q.notifySubscribers()
	if q.recorder != nil {
		if err := q.recorder.UpsertDeliveryRecord(ctx, item); err != nil {
			q.log.Warn("delivery record upsert failed", "item_id", item.ID, "error", err)
		}
	}
}

func (q *Queue) notifyLocked(n Notification) {
	q.notifications = append(q.notifications, n)
	q.persistLocked()
}

func (q *Queue) indexLocked(id string) int {
	for i, it := range q.pending {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the whole snapshot. A failed write is logged, not
// fatal: the in-memory queue keeps serving and the next mutation retries.
func (q *Queue) persistLocked() {
	if err := q.store.Save(snapshot{
		Pending:       q.pending,
		History:       q.history,
		Notifications: q.notifications,
	}); err != nil {
		q.log.Error("persist queue snapshot failed", "error", err)
	}
}

// Pending returns pending items in arrival order.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.pending))
	copy(out, q.pending)
	return out
}

// History returns terminal items, oldest first.
func (q *Queue) History() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.history))
	copy(out, q.history)
	return out
}

// Items returns pending plus history, optionally filtered by status.
func (q *Queue) Items(status Status) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.pending)+len(q.history))
	for _, it := range q.pending {
		if status == "" || it.Status == status {
			out = append(out, it)
		}
	}
	for _, it := range q.history {
		if status == "" || it.Status == status {
			out = append(out, it)
		}
	}
	return out
}

// Notifications returns undismissed operator notifications.
func (q *Queue) Notifications() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, 0, len(q.notifications))
	for _, n := range q.notifications {
		if !n.Dismissed {
			out = append(out, n)
		}
	}
	return out
}

// Alert raises an operator notification that is not tied to a queue item,
// e.g. when sync recovery gives up. Dismissible like any other notification.
func (q *Queue) Alert(severity, message string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Severity:  severity,
		Message:   message,
		CreatedAt: q.clock(),
	}
	q.mu.Lock()
	q.notifyLocked(n)
	q.mu.Unlock()
	q.notifySubscribers()
	return n
}

// Notify implements channel.Sink so the in-app channel lands messages here.
func (q *Queue) Notify(msg channel.Message) {
	q.mu.Lock()
	q.notifyLocked(Notification{
		ID:        uuid.NewString(),
		ItemID:    msg.ID,
		Severity:  SeverityInfo,
		Message:   msg.Body,
		CreatedAt: q.clock(),
	})
	q.mu.Unlock()
	q.notifySubscribers()
}

func (q *Queue) Dismiss(id string) error {
	q.mu.Lock()
	for i := range q.notifications {
		if q.notifications[i].ID == id {
			q.notifications[i].Dismissed = true
			q.persistLocked()
			q.mu.Unlock()
			q.notifySubscribers()
			return nil
		}
	}
	q.mu.Unlock()
	return fmt.Errorf("notification %s not found", id)
}

// Subscribe registers a callback fired after any queue or notification
// change. Callbacks run outside the queue lock.
func (q *Queue) Subscribe(fn func()) {
	q.mu.Lock()
	q.subs = append(q.subs, fn)
	q.mu.Unlock()
}

func (q *Queue) notifySubscribers() {
	q.mu.Lock()
	subs := make([]func(), len(q.subs))
	copy(subs, q.subs)
	q.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (q *Queue) publishStats() {
	if q.stats == nil {
		return
	}
	q.mu.Lock()
	pending := len(q.pending)
	failed := 0
	for _, it := range q.history {
		if it.Status == StatusFailed {
			failed++
		}
	}
	q.mu.Unlock()
	q.stats(pending, failed)
}
