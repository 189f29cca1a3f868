package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dmrv/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSQLite_InsertAndLoad(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, Insert(ctx, s, "doc", "a", doc{Name: "alpha", Count: 1}))

	got, err := Load[doc](ctx, s, "doc", "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, 1, got.Count)
}

func TestSQLite_Insert_Conflict(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, Insert(ctx, s, "doc", "a", doc{Name: "alpha"}))
	err := Insert(ctx, s, "doc", "a", doc{Name: "again"})
	assert.True(t, errors.Is(err, ErrConflict))

	// Same id under another kind is a different record.
	require.NoError(t, Insert(ctx, s, "other", "a", doc{Name: "beta"}))
}

func TestSQLite_Load_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := Load[doc](context.Background(), s, "doc", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	ok, err := Exists(context.Background(), s, "doc", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_Save_Overwrites(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, Save(ctx, s, "doc", "a", doc{Name: "v1"}))
	require.NoError(t, Save(ctx, s, "doc", "a", doc{Name: "v2", Count: 2}))

	got, err := Load[doc](ctx, s, "doc", "a")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
	assert.Equal(t, 2, got.Count)
}

func TestSQLite_LoadAll_PrefixAndOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, Save(ctx, s, "doc", "p1/c2", doc{Name: "second"}))
	require.NoError(t, Save(ctx, s, "doc", "p1/c1", doc{Name: "first"}))
	require.NoError(t, Save(ctx, s, "doc", "p2/c1", doc{Name: "other"}))

	got, err := LoadAll[doc](ctx, s, "doc", "p1/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Name)
	assert.Equal(t, "first", got[1].Name)

	all, err := LoadAll[doc](ctx, s, "doc", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLite_RunInTx_RollbackOnError(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, Save(ctx, s, "doc", "a", doc{Name: "tx"}))
		_, err := s.AppendEvent(ctx, model.Event{TS: time.Now(), Type: "doc.saved", EntityKind: "doc", EntityID: "a"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = Load[doc](ctx, s, "doc", "a")
	assert.True(t, errors.Is(err, ErrNotFound))

	events, err := s.ListEvents(ctx, model.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLite_RunInTx_CommitAndNested(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		if err := Save(ctx, s, "doc", "outer", doc{Name: "outer"}); err != nil {
			return err
		}
		return s.RunInTx(ctx, func(ctx context.Context) error {
			// Reads inside the nested call see the outer write.
			got, err := Load[doc](ctx, s, "doc", "outer")
			if err != nil {
				return err
			}
			return Save(ctx, s, "doc", "inner", doc{Name: got.Name + "-inner"})
		})
	})
	require.NoError(t, err)

	got, err := Load[doc](ctx, s, "doc", "inner")
	require.NoError(t, err)
	assert.Equal(t, "outer-inner", got.Name)
}

func TestSQLite_Events_Filter(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, ev := range []model.Event{
		{TS: now, Type: "project.registered", EntityKind: "project", EntityID: "P1", Actor: "0xowner", Payload: []byte(`{"uri":"ipfs://x"}`)},
		{TS: now, Type: "project.status_changed", EntityKind: "project", EntityID: "P1", Actor: "0xverifier"},
		{TS: now, Type: "project.registered", EntityKind: "project", EntityID: "P2", Actor: "0xowner"},
	} {
		_, err := s.AppendEvent(ctx, ev)
		require.NoError(t, err)
	}

	byEntity, err := s.ListEvents(ctx, model.EventFilter{EntityKind: "project", EntityID: "P1"})
	require.NoError(t, err)
	require.Len(t, byEntity, 2)
	assert.Equal(t, "project.registered", byEntity[0].Type)
	assert.JSONEq(t, `{"uri":"ipfs://x"}`, string(byEntity[0].Payload))
	assert.Nil(t, byEntity[1].Payload)

	byType, err := s.ListEvents(ctx, model.EventFilter{Type: "project.registered", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "P1", byType[0].EntityID)
}

func TestEventWhere(t *testing.T) {
	where, args := eventWhere(model.EventFilter{}, func(int) string { return "?" })
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = eventWhere(model.EventFilter{EntityID: "P1", Type: "x"}, func(n int) string { return "$" + string(rune('0'+n)) })
	assert.Equal(t, " WHERE entity_id = $1 AND type = $2", where)
	assert.Equal(t, []any{"P1", "x"}, args)
}
