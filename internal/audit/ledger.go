package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldproof/internal/syncerr"
)

// Replicator pushes events to the remote store, best-effort.
// Implementations must deduplicate by event id so replays are safe no-ops.
type Replicator interface {
	ReplicateEvent(ctx context.Context, e Event) error
}

// IdentitySource supplies the actor and device snapshot for new events.
type IdentitySource interface {
	Actor() string
	DeviceContext() DeviceContext
}

// Ledger records evidence events in a per-subject hash chain.
//
// Integrity invariants:
//   - Appends are strictly serialized: reading the chain pointer and writing
//     the new event happen under one mutex, so two appends can never observe
//     the same last hash.
//   - The chain pointer moves atomically with the event write.
//   - Local storage failure degrades, never fails: the event is kept in
//     memory (and the chain continues from it) so the caller's capture flow
//     is never blocked by a full or broken disk.
//
// Replication is fire-and-forget; its failure never touches local integrity
// and is routed through the classifier to the recovery machinery.
type Ledger struct {
	store    Store
	rep      Replicator
	identity IdentitySource

	// offline reports the authoritative connectivity signal; used both for
	// the device context snapshot and for classifying replication failures.
	offline func() bool

	// onSyncFailure receives classified replication failures (optional).
	onSyncFailure func(*syncerr.SyncError)

	log   *slog.Logger
	clock func() time.Time

	mu sync.Mutex
	// chains caches per-subject pointers so appends do not re-read storage.
	chains map[string]ChainState
	// shadow holds events that could not be written to storage (degraded
	// mode). Merged into reads so verification still sees the full chain.
	shadow map[string][]Event
}

type LedgerOption func(*Ledger)

func WithReplicator(r Replicator) LedgerOption {
	return func(l *Ledger) { l.rep = r }
}

func WithIdentity(src IdentitySource) LedgerOption {
	return func(l *Ledger) { l.identity = src }
}

func WithOfflineSignal(fn func() bool) LedgerOption {
	return func(l *Ledger) { l.offline = fn }
}

func WithSyncFailureHandler(fn func(*syncerr.SyncError)) LedgerOption {
	return func(l *Ledger) { l.onSyncFailure = fn }
}

func WithClock(clock func() time.Time) LedgerOption {
	return func(l *Ledger) { l.clock = clock }
}

func NewLedger(store Store, log *slog.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		log:    log,
		clock:  time.Now,
		chains: map[string]ChainState{},
		shadow: map[string][]Event{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.offline == nil {
		l.offline = func() bool { return false }
	}
	return l
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// AppendInput carries the optional parts of an append.
type AppendInput struct {
	Location *Location
	Metadata map[string]string
}

// Append records a new evidence event and returns it.
//
// It never fails under normal operation: digesting works offline and a
// storage write failure only degrades durability for this one event.
func (l *Ledger) Append(ctx context.Context, typ EventType, subjectID string, in AppendInput) (Event, error) {
	if subjectID == "" || !typ.Valid() {
		return Event{}, ErrInvalidEvent
	}

	l.mu.Lock()
	cs, err := l.chainState(ctx, subjectID)
	if err != nil {
		// Unreadable chain pointer is as bad as a write failure: continue
		// from the cached/zero state and log.
		l.log.Error("audit chain state read failed", "subject_id", subjectID, "err", err)
	}

	now := l.clock().UTC()
	e := Event{
		ID:                uuid.NewString(),
		Seq:               cs.LastSeq + 1,
		Timestamp:         now,
		Type:              typ,
		SubjectID:         subjectID,
		PreviousEventHash: cs.LastEventHash,
		Location:          in.Location,
		Metadata:          in.Metadata,
		SyncStatus:        SyncStatusPending,
	}
	if l.identity != nil {
		e.Actor = l.identity.Actor()
		e.Device = l.identity.DeviceContext()
	}
	e.Device.Online = !l.offline()
	e.EventHash = ComputeEventHash(e)

	next := ChainState{
		SubjectID:     subjectID,
		LastEventHash: e.EventHash,
		LastSeq:       e.Seq,
		UpdatedAt:     now,
	}

	if err := l.store.AppendEvent(ctx, e, next); err != nil {
		// Degraded mode: keep the event in memory only. The chain pointer
		// still advances so later appends link correctly.
		l.log.Error("audit event write failed, keeping event in memory only",
			"event_id", e.ID, "subject_id", subjectID, "err", err)
		l.shadow[subjectID] = append(l.shadow[subjectID], e)
	}
	l.chains[subjectID] = next
	l.mu.Unlock()

	l.replicateAsync(e)
	return e, nil
}

// chainState must be called with l.mu held.
func (l *Ledger) chainState(ctx context.Context, subjectID string) (ChainState, error) {
	if cs, ok := l.chains[subjectID]; ok {
		return cs, nil
	}
	cs, ok, err := l.store.ChainState(ctx, subjectID)
	if err != nil {
		return l.chains[subjectID], err
	}
	if !ok {
		return ChainState{SubjectID: subjectID}, nil
	}
	l.chains[subjectID] = cs
	return cs, nil
}

// replicateAsync pushes one event to the remote store without blocking the
// caller. Resolution of the attempt is observed only through sync status.
func (l *Ledger) replicateAsync(e Event) {
	if l.rep == nil {
		return
	}
	go func() {
		// Detached from the append's request context: replication outlives
		// the capture call.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := l.rep.ReplicateEvent(ctx, e); err != nil {
			se := syncerr.Classify(err, l.offline())
			l.log.Warn("audit event replication failed",
				"event_id", e.ID, "code", se.Code, "retryable", se.Retryable)
			if markErr := l.store.MarkSyncStatus(ctx, e.ID, SyncStatusFailed); markErr != nil {
				l.log.Error("sync status update failed", "event_id", e.ID, "err", markErr)
			}
			if l.onSyncFailure != nil {
				l.onSyncFailure(se)
			}
			return
		}
		if err := l.store.MarkSyncStatus(ctx, e.ID, SyncStatusSynced); err != nil {
			l.log.Error("sync status update failed", "event_id", e.ID, "err", err)
		}
	}()
}

// Events returns the subject's events in chain order, including any
// degraded-mode events held only in memory.
func (l *Ledger) Events(ctx context.Context, subjectID string) ([]Event, error) {
	if subjectID == "" {
		return nil, ErrInvalidEvent
	}
	evs, err := l.store.Events(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	shadow := l.shadow[subjectID]
	if len(shadow) > 0 {
		evs = append(evs, shadow...)
		sort.Slice(evs, func(i, j int) bool { return evs[i].Seq < evs[j].Seq })
	}
	l.mu.Unlock()
	return evs, nil
}

// VerifyChain checks a subject's ledger for tampering.
//
// Two checks per event, in order:
//
//	(a) recompute the event's own hash from its canonical content and
//	    compare to the stored value — detects in-place mutation;
//	(b) compare PreviousEventHash to the prior event's recomputed hash —
//	    detects deletion, reordering, and insertion.
//
// The first event failing either check is reported. An empty ledger is
// valid with count 0.
func (l *Ledger) VerifyChain(ctx context.Context, subjectID string) (VerifyResult, error) {
	evs, err := l.Events(ctx, subjectID)
	if err != nil {
		return VerifyResult{}, err
	}

	res := VerifyResult{Valid: true, BrokenIndex: -1, Count: len(evs)}
	prevHash := ""
	for i, e := range evs {
		recomputed := ComputeEventHash(e)
		if recomputed != e.EventHash {
			return VerifyResult{Valid: false, BrokenAt: e.ID, BrokenIndex: i, Count: len(evs)}, nil
		}
		if i == 0 {
			if e.PreviousEventHash != "" {
				return VerifyResult{Valid: false, BrokenAt: e.ID, BrokenIndex: i, Count: len(evs)}, nil
			}
		} else if e.PreviousEventHash != prevHash {
			return VerifyResult{Valid: false, BrokenAt: e.ID, BrokenIndex: i, Count: len(evs)}, nil
		}
		prevHash = recomputed
	}
	return res, nil
}

// ReplicatePending re-attempts replication for every event not yet synced.
// Used by manual/scheduled sync retries. Unlike the fire-and-forget path,
// the classified failure is returned to the caller, who owns the outcome;
// the failure handler is not invoked.
func (l *Ledger) ReplicatePending(ctx context.Context, subjectID string) (attempted int, err error) {
	if l.rep == nil {
		return 0, nil
	}
	evs, err := l.Events(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	for _, e := range evs {
		if e.SyncStatus == SyncStatusSynced {
			continue
		}
		attempted++
		if repErr := l.rep.ReplicateEvent(ctx, e); repErr != nil {
			se := syncerr.Classify(repErr, l.offline())
			if markErr := l.store.MarkSyncStatus(ctx, e.ID, SyncStatusFailed); markErr != nil {
				l.log.Error("sync status update failed", "event_id", e.ID, "err", markErr)
			}
			return attempted, se
		}
		if markErr := l.store.MarkSyncStatus(ctx, e.ID, SyncStatusSynced); markErr != nil {
			l.log.Error("sync status update failed", "event_id", e.ID, "err", markErr)
		}
	}
	return attempted, nil
}

// ReplicateAllPending runs ReplicatePending over every subject the store
// knows, plus any subject whose events are held only in memory. This is the
// sync pass body: it stops at the first classified failure so the scheduler
// can back off instead of hammering a broken remote.
func (l *Ledger) ReplicateAllPending(ctx context.Context) (attempted int, err error) {
	if l.rep == nil {
		return 0, nil
	}
	subjects, err := l.store.Subjects(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		seen[s] = true
	}
	l.mu.Lock()
	for s := range l.shadow {
		if !seen[s] {
			subjects = append(subjects, s)
		}
	}
	l.mu.Unlock()
	sort.Strings(subjects)

	for _, s := range subjects {
		n, repErr := l.ReplicatePending(ctx, s)
		attempted += n
		if repErr != nil {
			return attempted, repErr
		}
	}
	return attempted, nil
}
