package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fabrica-inc/ingest-engine/pkg/database"
	"github.com/fabrica-inc/ingest-engine/pkg/models"
)

// EventRepository is the append-only audit log writer and reader. Events are
// never updated or deleted; retry counts and resumability derive from the
// persisted history, not from in-memory state.
type EventRepository interface {
	Append(ctx context.Context, event *models.IngestEvent) error
	History(ctx context.Context, documentID uuid.UUID) ([]*models.IngestEvent, error)

	// LastEvent returns the most recent event for the document, or nil when
	// the document has no history yet.
	LastEvent(ctx context.Context, documentID uuid.UUID) (*models.IngestEvent, error)

	// CountAttempts returns how many times a stage has been started for the
	// document. The retry bound is enforced against this count so it
	// survives process crashes.
	CountAttempts(ctx context.Context, documentID uuid.UUID, stage models.Stage) (int, error)
}

type eventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) EventRepository {
	return &eventRepository{db: db}
}

var _ EventRepository = (*eventRepository)(nil)

func (r *eventRepository) Append(ctx context.Context, event *models.IngestEvent) error {
	var payload []byte
	if len(event.Payload) > 0 {
		var err error
		payload, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}

	query := `
		INSERT INTO ingest_events (document_id, stage, status, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		event.DocumentID,
		event.Stage,
		event.Status,
		payload,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ingest event: %w", err)
	}

	return nil
}

func (r *eventRepository) History(ctx context.Context, documentID uuid.UUID) ([]*models.IngestEvent, error) {
	query := `
		SELECT id, document_id, stage, status, payload, created_at
		FROM ingest_events
		WHERE document_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingest events: %w", err)
	}
	defer rows.Close()

	var events []*models.IngestEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingest events: %w", err)
	}

	return events, nil
}

func (r *eventRepository) LastEvent(ctx context.Context, documentID uuid.UUID) (*models.IngestEvent, error) {
	query := `
		SELECT id, document_id, stage, status, payload, created_at
		FROM ingest_events
		WHERE document_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	ev, err := scanEvent(r.db.QueryRow(ctx, query, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

func (r *eventRepository) CountAttempts(ctx context.Context, documentID uuid.UUID, stage models.Stage) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ingest_events
		WHERE document_id = $1 AND stage = $2 AND status = 'start'`

	var count int
	if err := r.db.QueryRow(ctx, query, documentID, stage).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stage attempts: %w", err)
	}
	return count, nil
}

func scanEvent(row pgx.Row) (*models.IngestEvent, error) {
	var ev models.IngestEvent
	var payload []byte

	err := row.Scan(
		&ev.ID,
		&ev.DocumentID,
		&ev.Stage,
		&ev.Status,
		&payload,
		&ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan ingest event: %w", err)
	}

	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
	}

	return &ev, nil
}
