package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dmrv/internal/model"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore. pgxmock
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// pgQuerier is satisfied by Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	seq        BIGSERIAL,
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS events (
	id          BIGSERIAL PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	type        TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	payload     JSONB
);

CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, seq);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_kind, entity_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

type pgTxKey struct{}

func (s *PostgresStore) q(ctx context.Context) pgQuerier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// RunInTx runs fn in a serializable transaction. Serialization failures
// surface as SQLSTATE 40001 and are retried by the caller.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	return nil
}

func (s *PostgresStore) GetRaw(ctx context.Context, kind, id string) ([]byte, error) {
	var data []byte
	err := s.q(ctx).QueryRow(ctx,
		`SELECT data FROM records WHERE kind = $1 AND id = $2`, kind, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s %s", kind, id)
	}
	return data, nil
}

func (s *PostgresStore) InsertRaw(ctx context.Context, kind, id string, data []byte) error {
	tag, err := s.q(ctx).Exec(ctx,
		`INSERT INTO records (kind, id, data) VALUES ($1, $2, $3::jsonb) ON CONFLICT (kind, id) DO NOTHING`,
		kind, id, string(data),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert %s %s", kind, id)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) PutRaw(ctx context.Context, kind, id string, data []byte) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO records (kind, id, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		kind, id, string(data),
	)
	return eris.Wrapf(err, "postgres: put %s %s", kind, id)
}

func (s *PostgresStore) ListRaw(ctx context.Context, kind, prefix string) ([][]byte, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT data FROM records WHERE kind = $1 AND starts_with(id, $2) ORDER BY seq`,
		kind, prefix,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", kind)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", kind)
		}
		out = append(out, data)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.Event) (int64, error) {
	var payload *string
	if len(ev.Payload) > 0 {
		p := string(ev.Payload)
		payload = &p
	}
	var id int64
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO events (ts, type, entity_kind, entity_id, actor, payload)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb) RETURNING id`,
		ev.TS.UTC(), ev.Type, ev.EntityKind, ev.EntityID, ev.Actor, payload,
	).Scan(&id)
	return id, eris.Wrapf(err, "postgres: append event %s", ev.Type)
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	where, args := eventWhere(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	query := `SELECT id, ts, type, entity_kind, entity_id, actor, payload FROM events` + where + ` ORDER BY id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.EntityKind, &ev.EntityID, &ev.Actor, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate events")
}
