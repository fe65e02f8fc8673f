package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type EventPayload map[string]any

// Record is one audit row. UserID and EntityID may be empty.
type Record struct {
	Type       string
	UserID     string
	EntityKind string
	EntityID   string
	Payload    EventPayload
}

// Writer appends audit records inside the caller's transaction so a rolled
// back save leaves no trace.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	if tx == nil {
		return fmt.Errorf("audit %s: transaction required", rec.Type)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	payload := rec.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", rec.Type, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), rec.Type, nullable(rec.UserID), rec.EntityKind, nullable(rec.EntityID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
