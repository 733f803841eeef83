package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/taskdeck/taskdeck/internal/model"
)

// BulkInsertAuthEvents writes a batch of audit events in one round trip.
// Called only by the audit worker; duplicate ids from redelivered stream
// entries are ignored.
func (r *Repository) BulkInsertAuthEvents(ctx context.Context, events []*model.AuthEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO auth_events (id, event_type, username, user_id, client_hash, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	for _, e := range events {
		var userID any
		if e.UserID != "" {
			userID = e.UserID
		}
		batch.Queue(query, e.ID, e.Type, e.Username, userID, e.ClientHash, e.OccurredAt)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert auth event: %w", err)
		}
	}

	return nil
}

// CountAuthEvents returns the number of recorded events of a given type.
// Used by tests and operational tooling.
func (r *Repository) CountAuthEvents(ctx context.Context, eventType string) (int64, error) {
	query := `SELECT COUNT(*) FROM auth_events WHERE event_type = $1`

	var count int64
	err := readWithRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, query, eventType).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count auth events: %w", err)
	}

	return count, nil
}
