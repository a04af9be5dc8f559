// Package events appends rows to the audit log. Entries are written
// inside the caller's transaction so a log line commits or rolls back
// with the state change it describes.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append records one event in the given transaction. Empty project and
// entity ids are stored as NULL.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json)
		 VALUES (?,?,?,?,?,?,?)`,
		w.now().UTC().Format(time.RFC3339), evtType,
		orNil(projectID), entityKind, orNil(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func orNil(v string) any {
	if v == "" {
		return nil
	}
	return v
}
