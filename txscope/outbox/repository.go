package outbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LerianStudio/lib-txscope/txscope/datasource"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/google/uuid"
)

// Repository persists outbox events. Implementations run their statements
// in the unit of work of ctx when there is one.
type Repository interface {
	Insert(ctx context.Context, events []*Event) error
	// ClaimPending moves up to limit deliverable events to PROCESSING,
	// counting the attempt, and returns them.
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records errMsg and makes the event deliverable again, or
	// INVALID once it has used maxAttempts.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error
}

// Schema creates the table SQLRepository expects. %s is the quoted table
// name.
const Schema = `CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	event_type VARCHAR(255) NOT NULL,
	aggregate_id UUID NOT NULL,
	payload JSONB NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
	attempts INT NOT NULL DEFAULT 0,
	published_at TIMESTAMPTZ,
	last_error VARCHAR(512),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const maxErrorLength = 512

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// SQLRepository stores events in a PostgreSQL table through a datasource
// factory, so inserts made by a Writer join the caller's transaction.
type SQLRepository struct {
	factory *datasource.Factory
	table   string
}

var _ Repository = (*SQLRepository)(nil)

func NewSQLRepository(factory *datasource.Factory, table string) (*SQLRepository, error) {
	if factory == nil {
		return nil, datasource.ErrNilFactory
	}

	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}

	return &SQLRepository{factory: factory, table: quoteIdentifierPath(table)}, nil
}

// CreateTable applies Schema.
func (r *SQLRepository) CreateTable(ctx context.Context) error {
	return r.exec(ctx, fmt.Sprintf(Schema, r.table))
}

func (r *SQLRepository) Insert(ctx context.Context, events []*Event) error {
	proxy, err := datasource.GetConn(ctx, r.factory)
	if err != nil {
		return err
	}
	defer datasource.ReleaseConn(ctx, proxy, r.factory)

	query := "INSERT INTO " + r.table +
		" (id, event_type, aggregate_id, payload, status, attempts, created_at, updated_at)" +
		" VALUES ($1, $2, $3, $4, $5, 0, $6, $6)"

	for _, event := range events {
		if event == nil {
			return ErrEventRequired
		}

		if _, err := proxy.ExecContext(ctx, query,
			event.ID, event.EventType, event.AggregateID, event.Payload, StatusPending, event.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting outbox event %s: %w", event.ID, err)
		}
	}

	return nil
}

func (r *SQLRepository) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*Event, error) {
	proxy, err := datasource.GetConn(ctx, r.factory)
	if err != nil {
		return nil, err
	}
	defer datasource.ReleaseConn(ctx, proxy, r.factory)

	query := "UPDATE " + r.table + " SET status = $1, attempts = attempts + 1, updated_at = $2" +
		" WHERE id IN (SELECT id FROM " + r.table +
		" WHERE status IN ($3, $4) AND attempts < $5 ORDER BY created_at ASC LIMIT $6 FOR UPDATE SKIP LOCKED)" +
		" RETURNING id, event_type, aggregate_id, payload, status, attempts, created_at"

	rows, err := proxy.QueryContext(ctx, query,
		StatusProcessing, time.Now().UTC(), StatusPending, StatusFailed, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox events: %w", err)
	}
	defer rows.Close()

	var events []*Event

	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(&event.ID, &event.EventType, &event.AggregateID, &event.Payload,
			&event.Status, &event.Attempts, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox events: %w", err)
	}

	return events, nil
}

func (r *SQLRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, "UPDATE "+r.table+" SET status = $1, published_at = $2, updated_at = $2, last_error = NULL"+
		" WHERE id = $3", StatusPublished, at.UTC(), id)
}

func (r *SQLRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error {
	return r.exec(ctx, "UPDATE "+r.table+" SET status = CASE WHEN attempts >= $1 THEN $2 ELSE $3 END,"+
		" last_error = $4, updated_at = $5 WHERE id = $6",
		maxAttempts, StatusInvalid, StatusFailed, errorForStorage(errMsg), time.Now().UTC(), id)
}

func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) error {
	proxy, err := datasource.GetConn(ctx, r.factory)
	if err != nil {
		return err
	}
	defer datasource.ReleaseConn(ctx, proxy, r.factory)

	if _, err := proxy.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating outbox: %w", err)
	}

	return nil
}

func quoteIdentifierPath(path string) string {
	parts := strings.Split(path, ".")
	for i, part := range parts {
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}

	return strings.Join(parts, ".")
}

// errorForStorage escapes control characters and bounds msg to the
// last_error column.
func errorForStorage(msg string) string {
	msg = log.SanitizeMessage(strings.TrimSpace(msg))
	if len(msg) <= maxErrorLength {
		return msg
	}

	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}

	return msg[:cut]
}
