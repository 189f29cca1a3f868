package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dmrv/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (kind, id)
);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          DATETIME NOT NULL,
	type        TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	payload     TEXT
);

CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, seq);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_kind, entity_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

type sqliteTxKey struct{}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) q(ctx context.Context) sqlQuerier {
	if tx, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if err := fn(context.WithValue(ctx, sqliteTxKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	return nil
}

func (s *SQLiteStore) GetRaw(ctx context.Context, kind, id string) ([]byte, error) {
	var data string
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT data FROM records WHERE kind = ? AND id = ?`, kind, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s %s", kind, id)
	}
	return []byte(data), nil
}

func (s *SQLiteStore) InsertRaw(ctx context.Context, kind, id string, data []byte) error {
	now := time.Now().UTC()
	res, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO records (kind, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO NOTHING`,
		kind, id, string(data), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert %s %s", kind, id)
	}
	return checkInserted(res)
}

func (s *SQLiteStore) PutRaw(ctx context.Context, kind, id string, data []byte) error {
	now := time.Now().UTC()
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO records (kind, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		kind, id, string(data), now, now,
	)
	return eris.Wrapf(err, "sqlite: put %s %s", kind, id)
}

func (s *SQLiteStore) ListRaw(ctx context.Context, kind, prefix string) ([][]byte, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT data FROM records WHERE kind = ? AND substr(id, 1, length(?)) = ? ORDER BY seq`,
		kind, prefix, prefix,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", kind)
	}
	defer rows.Close() //nolint:errcheck

	var out [][]byte
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", kind)
		}
		out = append(out, []byte(data))
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev model.Event) (int64, error) {
	var payload sql.NullString
	if len(ev.Payload) > 0 {
		payload = sql.NullString{String: string(ev.Payload), Valid: true}
	}
	res, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO events (ts, type, entity_kind, entity_id, actor, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.TS.UTC(), ev.Type, ev.EntityKind, ev.EntityID, ev.Actor, payload,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: append event %s", ev.Type)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: event id")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	where, args := eventWhere(filter, func(int) string { return "?" })
	query := `SELECT id, ts, type, entity_kind, entity_id, actor, payload FROM events` + where + ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.EntityKind, &ev.EntityID, &ev.Actor, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

// helpers

type insertResult interface {
	RowsAffected() (int64, error)
}

func checkInserted(res insertResult) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// eventWhere builds the WHERE clause for an event filter. placeholder
// renders the n-th (1-based) bind parameter for the dialect.
func eventWhere(filter model.EventFilter, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(col string, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, col+" = "+placeholder(len(args)))
	}
	add("entity_kind", filter.EntityKind)
	add("entity_id", filter.EntityID)
	add("type", filter.Type)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
