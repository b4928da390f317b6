package replicate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fieldproof/internal/audit"
	"fieldproof/internal/delivery"
	"fieldproof/pkg/utils"
)

// NOTE: This store assumes the following tables exist:
// - audit_events (immutable append-only, PRIMARY KEY (id))
// - delivery_records (PRIMARY KEY (id))
//
// Idempotence rides on the primary keys: inserts use ON CONFLICT (id)
// DO NOTHING, delivery records upsert on id.

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertEvents(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO audit_events (
  id, seq, ts, type, subject_id, actor, device, location, metadata,
  previous_event_hash, event_hash
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING
`
		for _, ev := range events {
			device, err := json.Marshal(ev.Device)
			if err != nil {
				return fmt.Errorf("marshal device for %s: %w", ev.ID, err)
			}
			var location []byte
			if ev.Location != nil {
				if location, err = json.Marshal(ev.Location); err != nil {
					return fmt.Errorf("marshal location for %s: %w", ev.ID, err)
				}
			}
			metadata, err := json.Marshal(ev.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", ev.ID, err)
			}
			if _, err := tx.ExecContext(ctx, q,
				ev.ID,
				ev.Seq,
				ev.Timestamp.UTC(),
				ev.Type,
				ev.SubjectID,
				ev.Actor,
				device,
				location,
				metadata,
				ev.PreviousEventHash,
				ev.EventHash,
			); err != nil {
				return fmt.Errorf("insert event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) UpsertDeliveryRecord(ctx context.Context, item delivery.Item) error {
	const q = `
INSERT INTO delivery_records (
  id, kind, subject, recipient, priority, status, created_at, expires_at,
  retries, attempts, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  retries = EXCLUDED.retries,
  attempts = EXCLUDED.attempts,
  updated_at = now()
`
	attempts, err := json.Marshal(item.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts for %s: %w", item.ID, err)
	}
	var expiresAt any
	if !item.ExpiresAt.IsZero() {
		expiresAt = item.ExpiresAt.UTC()
	}
	if _, err := s.db.ExecContext(ctx, q,
		item.ID,
		item.Kind,
		item.Subject,
		item.Recipient,
		item.Priority,
		item.Status,
		item.CreatedAt.UTC(),
		expiresAt,
		item.Retries,
		attempts,
	); err != nil {
		return fmt.Errorf("upsert delivery record %s: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
