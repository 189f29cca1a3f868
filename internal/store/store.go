// Package store persists domain records as versioned JSON documents keyed by
// (kind, id), plus the append-only event log. Every component shares one
// Store; a top-level operation runs inside RunInTx and every read and write
// made with the returned context joins that transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dmrv/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for (kind, id).
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by Insert when (kind, id) already exists.
	ErrConflict = errors.New("record already exists")
)

// Store is the persistence interface shared by every component.
type Store interface {
	// Records
	GetRaw(ctx context.Context, kind, id string) ([]byte, error)
	InsertRaw(ctx context.Context, kind, id string, data []byte) error
	PutRaw(ctx context.Context, kind, id string, data []byte) error
	ListRaw(ctx context.Context, kind, prefix string) ([][]byte, error)

	// Events
	AppendEvent(ctx context.Context, ev model.Event) (int64, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)

	// Transactions. Nested calls join the outer transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Load decodes the record (kind, id) into a new T.
func Load[T any](ctx context.Context, s Store, kind, id string) (*T, error) {
	data, err := s.GetRaw(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, eris.Wrapf(err, "store: decode %s %s", kind, id)
	}
	return &v, nil
}

// Insert stores v under (kind, id), failing with ErrConflict if present.
func Insert(ctx context.Context, s Store, kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "store: encode %s %s", kind, id)
	}
	return s.InsertRaw(ctx, kind, id, data)
}

// Save upserts v under (kind, id).
func Save(ctx context.Context, s Store, kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "store: encode %s %s", kind, id)
	}
	return s.PutRaw(ctx, kind, id, data)
}

// LoadAll decodes every record of kind whose id starts with prefix, in
// insertion order.
func LoadAll[T any](ctx context.Context, s Store, kind, prefix string) ([]T, error) {
	raws, err := s.ListRaw(ctx, kind, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, data := range raws {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, eris.Wrapf(err, "store: decode %s", kind)
		}
		out = append(out, v)
	}
	return out, nil
}

// Exists reports whether (kind, id) is present.
func Exists(ctx context.Context, s Store, kind, id string) (bool, error) {
	_, err := s.GetRaw(ctx, kind, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
