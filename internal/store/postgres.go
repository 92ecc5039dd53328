package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-pipeline/internal/db"
	"github.com/sells-group/prospect-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS resolved_entities (
	key        TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profile_cache (
	key        TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS org_cache (
	key        TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS negative_cache (
	entity_class TEXT NOT NULL,
	key          TEXT NOT NULL,
	failed_at    TIMESTAMPTZ NOT NULL,
	retried      BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (entity_class, key)
);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	criteria    JSONB NOT NULL,
	stage       TEXT NOT NULL,
	identifiers JSONB NOT NULL DEFAULT '[]',
	unresolved  JSONB NOT NULL DEFAULT '[]',
	cursor      INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_negative_cache_failed_at ON negative_cache(failed_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetCache(ctx context.Context, class model.EntityClass, key string) (*model.CacheRecord, error) {
	table, err := cacheTable(class)
	if err != nil {
		return nil, err
	}

	rec := model.CacheRecord{Class: class, Key: key, TTL: model.TTLPositive}
	var payload []byte
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT payload, fetched_at FROM %s WHERE key = $1`, table), key,
	).Scan(&payload, &rec.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s cache", class)
	}
	rec.Payload = payload
	return &rec, nil
}

func (s *PostgresStore) PutCache(ctx context.Context, rec model.CacheRecord) error {
	table, err := cacheTable(rec.Class)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, payload, fetched_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`, table),
		rec.Key, rec.Payload, rec.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put %s cache", rec.Class)
}

func (s *PostgresStore) GetNegative(ctx context.Context, class model.EntityClass, key string) (*NegativeEntry, error) {
	entry := NegativeEntry{Class: class, Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT failed_at, retried FROM negative_cache WHERE entity_class = $1 AND key = $2`,
		string(class), key,
	).Scan(&entry.FailedAt, &entry.Retried)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get negative")
	}
	return &entry, nil
}

func (s *PostgresStore) PutNegative(ctx context.Context, class model.EntityClass, key string, failedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO negative_cache (entity_class, key, failed_at, retried) VALUES ($1, $2, $3, false)
		 ON CONFLICT (entity_class, key) DO UPDATE SET failed_at = EXCLUDED.failed_at, retried = false`,
		string(class), key, failedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: put negative")
}

func (s *PostgresStore) GrantNegativeRetry(ctx context.Context, class model.EntityClass, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE negative_cache SET retried = true WHERE entity_class = $1 AND key = $2 AND retried = false`,
		string(class), key,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: grant negative retry")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteNegative(ctx context.Context, class model.EntityClass, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM negative_cache WHERE entity_class = $1 AND key = $2`,
		string(class), key,
	)
	return eris.Wrap(err, "postgres: delete negative")
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	criteriaJSON, err := json.Marshal(sess.Criteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal criteria")
	}
	idsJSON, err := json.Marshal(sess.Identifiers)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal identifiers")
	}
	unresolvedJSON, err := json.Marshal(sess.Unresolved)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal unresolved")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, criteria, stage, identifiers, unresolved, cursor, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, criteriaJSON, string(sess.Stage), idsJSON, unresolvedJSON,
		sess.Cursor, string(sess.Status), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert session")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, criteria, stage, identifiers, unresolved, cursor, status, created_at, updated_at
		 FROM sessions WHERE id = $1`, id,
	)
	return scanPgSession(row)
}

func (s *PostgresStore) SetSessionResolved(ctx context.Context, id string, identifiers []string, unresolved []model.Resolution, stage model.Stage) error {
	idsJSON, err := json.Marshal(identifiers)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal identifiers")
	}
	unresolvedJSON, err := json.Marshal(unresolved)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal unresolved")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET identifiers = $1, unresolved = $2, stage = $3, updated_at = now() WHERE id = $4`,
		idsJSON, unresolvedJSON, string(stage), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set session resolved %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) AdvanceSession(ctx context.Context, id string, cursor int, stage model.Stage, status model.SessionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET cursor = $1, stage = $2, status = $3, updated_at = now()
		 WHERE id = $4 AND cursor <= $1`,
		cursor, string(stage), string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT id, criteria, stage, identifiers, unresolved, cursor, status, created_at, updated_at
	 FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanPgSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func scanPgSession(row pgx.Row) (*model.Session, error) {
	var sess model.Session
	var criteriaJSON, idsJSON, unresolvedJSON []byte

	err := row.Scan(&sess.ID, &criteriaJSON, &sess.Stage, &idsJSON, &unresolvedJSON,
		&sess.Cursor, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan session")
	}

	if err := json.Unmarshal(criteriaJSON, &sess.Criteria); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal criteria")
	}
	if err := json.Unmarshal(idsJSON, &sess.Identifiers); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal identifiers")
	}
	if err := json.Unmarshal(unresolvedJSON, &sess.Unresolved); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal unresolved")
	}
	return &sess, nil
}
