package port

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ChangeType is the kind of row change pushed by the backend.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one row change for a table. New is empty for deletes and
// Old may only carry the primary key, depending on the table's replica identity.
type ChangeEvent struct {
	Type            ChangeType      `json:"type"`
	Table           string          `json:"table"`
	New             json.RawMessage `json:"record,omitempty"`
	Old             json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewID returns the id of the new row, or "" if absent.
func (e ChangeEvent) NewID() string { return rowID(e.New) }

// OldID returns the id of the old row, or "" if absent.
func (e ChangeEvent) OldID() string { return rowID(e.Old) }

// ChangeHandler receives events for one table. Handlers run on the feed's
// goroutine and must not block for long.
type ChangeHandler func(ctx context.Context, ev ChangeEvent)

// Channel is one open subscription.
type Channel interface {
	Close() error
}

// ChangeFeed delivers row changes per table.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string, handler ChangeHandler) (Channel, error)
}

// ParseChangeEvent decodes the change payload shared by the realtime server
// and the database trigger: {type, table, record, old_record, commit_timestamp}.
// A timestamp it cannot parse is left zero.
func ParseChangeEvent(data []byte) (ChangeEvent, error) {
	var wire struct {
		Type            ChangeType      `json:"type"`
		Table           string          `json:"table"`
		Record          json.RawMessage `json:"record"`
		OldRecord       json.RawMessage `json:"old_record"`
		CommitTimestamp string          `json:"commit_timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	switch wire.Type {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("unknown change type %q", wire.Type)
	}
	ev := ChangeEvent{Type: wire.Type, Table: wire.Table, New: nonNull(wire.Record), Old: nonNull(wire.OldRecord)}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, wire.CommitTimestamp); err == nil {
			ev.CommitTimestamp = t
			break
		}
	}
	return ev, nil
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func rowID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var row struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &row); err != nil || len(row.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(row.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(row.ID, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String()
		}
	}
	return ""
}
