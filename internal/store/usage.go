package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lacunahq/lacuna/internal/model"
)

// AppendUsage records one usage event. The ID is assigned here; the
// timestamp is filled in if the caller left it zero. Events are never
// updated or deleted afterwards.
func (s *Store) AppendUsage(ctx context.Context, ev *model.UsageEvent) error {
	ev.ID = uuid.Must(uuid.NewV7()).String()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	const q = `INSERT INTO usage_events
		(id, credential_id, endpoint, method, status_code, response_time_ms, created_at)
		VALUES
		(:id, :credential_id, :endpoint, :method, :status_code, :response_time_ms, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, ev); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// QueryUsage returns usage events for a credential with timestamps at or
// after since, most recent first.
func (s *Store) QueryUsage(ctx context.Context, credentialID string, since time.Time) ([]model.UsageEvent, error) {
	var events []model.UsageEvent
	q := s.db.Rebind(`SELECT * FROM usage_events
		WHERE credential_id = ? AND created_at >= ?
		ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &events, q, credentialID, since.UTC()); err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	return events, nil
}
