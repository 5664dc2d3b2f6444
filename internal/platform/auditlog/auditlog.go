package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one lifecycle transition of a tracking run.
type Event struct {
	OccurredAt time.Time
	RunID      string
	Action     string
	Actor      string
	Payload    any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertEventQuery = `INSERT INTO tracking_run_events (
			occurred_at,
			run_id,
			action,
			actor,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING event_id`

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("RunID is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	return nil
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	event.OccurredAt = storedTime(event.OccurredAt)
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payloadJSON, err := encodePayload(event.Payload)
	if err != nil {
		return 0, err
	}
	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		insertEventQuery,
		event.OccurredAt,
		strings.TrimSpace(event.RunID),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.Actor),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run event: %w", err)
	}
	return id, nil
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return blob, nil
}

// storedTime is t at timestamptz precision.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ComputeIntegritySHA256 hashes the canonical JSON form of the event so a
// stored row can be checked against tampering. OccurredAt is hashed at the
// precision Postgres keeps, so hashing a row read back gives the same sum.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		RunID      string          `json:"run_id"`
		Action     string          `json:"action"`
		Actor      string          `json:"actor"`
		Payload    json.RawMessage `json:"payload"`
	}

	in := integrityInput{
		OccurredAt: storedTime(event.OccurredAt),
		RunID:      strings.TrimSpace(event.RunID),
		Action:     strings.TrimSpace(event.Action),
		Actor:      strings.TrimSpace(event.Actor),
		Payload:    payloadJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
