package replicate

import (
	"context"

	"fieldproof/internal/audit"
	"fieldproof/internal/delivery"
)

// Store is the remote durability boundary. All writes are idempotent by id:
// a device that re-sends after a lost ack, or two app contexts that both
// drained the same item, must converge to one remote row.
type Store interface {
	// InsertEvents appends audit events. Rows whose id already exists are
	// skipped silently.
	InsertEvents(ctx context.Context, events []audit.Event) error

	// UpsertDeliveryRecord mirrors a terminal delivery item, replacing any
	// previous row for the same id.
	UpsertDeliveryRecord(ctx context.Context, item delivery.Item) error

	// Ping checks reachability. Used by the connectivity probe.
	Ping(ctx context.Context) error
}

// EventReplicator adapts a Store to the ledger's single-event replication
// hook.
type EventReplicator struct {
	Store Store
}

func (r EventReplicator) ReplicateEvent(ctx context.Context, e audit.Event) error {
	return r.Store.InsertEvents(ctx, []audit.Event{e})
}
