package model

import (
	"encoding/json"
	"time"
)

// Event is an append-only audit record written in the same transaction as
// the state change it describes.
type Event struct {
	ID         int64           `json:"id"`
	TS         time.Time       `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventFilter narrows an event listing.
type EventFilter struct {
	EntityKind string `json:"entity_kind,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Type       string `json:"type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
