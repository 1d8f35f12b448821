package outbox

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event statuses as stored.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusPublished  = "PUBLISHED"
	StatusFailed     = "FAILED"
	StatusInvalid    = "INVALID"
)

// MaxPayloadBytes bounds the JSON payload of one event.
const MaxPayloadBytes = 1 << 20

// Event is an integration event waiting in, or delivered from, the outbox.
type Event struct {
	ID          uuid.UUID
	EventType   string
	AggregateID uuid.UUID
	Payload     []byte
	Status      string
	Attempts    int
	PublishedAt *time.Time
	LastError   string
	CreatedAt   time.Time
}

// NewEvent returns a pending event with a fresh ID.
func NewEvent(eventType string, aggregateID uuid.UUID, payload []byte) (*Event, error) {
	return NewEventWithID(uuid.New(), eventType, aggregateID, payload)
}

// NewEventWithID is NewEvent with a caller-chosen ID, for idempotent
// producers.
func NewEventWithID(id uuid.UUID, eventType string, aggregateID uuid.UUID, payload []byte) (*Event, error) {
	if id == uuid.Nil {
		return nil, ErrEventRequired
	}

	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrEventTypeRequired
	}

	if aggregateID == uuid.Nil {
		return nil, ErrAggregateIDRequired
	}

	if len(payload) == 0 {
		return nil, ErrPayloadRequired
	}

	if len(payload) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	if !json.Valid(payload) {
		return nil, ErrPayloadNotJSON
	}

	return &Event{
		ID:          id,
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
