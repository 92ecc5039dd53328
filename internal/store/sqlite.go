package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospect-pipeline/internal/model"
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
CREATE TABLE IF NOT EXISTS resolved_entities (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS profile_cache (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS org_cache (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS negative_cache (
	entity_class TEXT NOT NULL,
	key          TEXT NOT NULL,
	failed_at    DATETIME NOT NULL,
	retried      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_class, key)
);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	criteria    TEXT NOT NULL,
	stage       TEXT NOT NULL,
	identifiers TEXT NOT NULL DEFAULT '[]',
	unresolved  TEXT NOT NULL DEFAULT '[]',
	cursor      INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_negative_cache_failed_at ON negative_cache(failed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCache(ctx context.Context, class model.EntityClass, key string) (*model.CacheRecord, error) {
	table, err := cacheTable(class)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT payload, fetched_at FROM %s WHERE key = ?`, table), key,
	)

	rec := model.CacheRecord{Class: class, Key: key, TTL: model.TTLPositive}
	var payload string
	err = row.Scan(&payload, &rec.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s cache", class)
	}
	rec.Payload = []byte(payload)
	return &rec, nil
}

func (s *SQLiteStore) PutCache(ctx context.Context, rec model.CacheRecord) error {
	table, err := cacheTable(rec.Class)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`, table),
		rec.Key, string(rec.Payload), rec.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put %s cache", rec.Class)
}

func (s *SQLiteStore) GetNegative(ctx context.Context, class model.EntityClass, key string) (*NegativeEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT failed_at, retried FROM negative_cache WHERE entity_class = ? AND key = ?`,
		string(class), key,
	)

	entry := NegativeEntry{Class: class, Key: key}
	err := row.Scan(&entry.FailedAt, &entry.Retried)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get negative")
	}
	return &entry, nil
}

func (s *SQLiteStore) PutNegative(ctx context.Context, class model.EntityClass, key string, failedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO negative_cache (entity_class, key, failed_at, retried) VALUES (?, ?, ?, 0)
		 ON CONFLICT(entity_class, key) DO UPDATE SET failed_at = excluded.failed_at, retried = 0`,
		string(class), key, failedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: put negative")
}

func (s *SQLiteStore) GrantNegativeRetry(ctx context.Context, class model.EntityClass, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE negative_cache SET retried = 1 WHERE entity_class = ? AND key = ? AND retried = 0`,
		string(class), key,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: grant negative retry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteNegative(ctx context.Context, class model.EntityClass, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM negative_cache WHERE entity_class = ? AND key = ?`,
		string(class), key,
	)
	return eris.Wrap(err, "sqlite: delete negative")
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	criteriaJSON, err := json.Marshal(sess.Criteria)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal criteria")
	}
	idsJSON, err := json.Marshal(sess.Identifiers)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal identifiers")
	}
	unresolvedJSON, err := json.Marshal(sess.Unresolved)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal unresolved")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, criteria, stage, identifiers, unresolved, cursor, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(criteriaJSON), string(sess.Stage), string(idsJSON), string(unresolvedJSON),
		sess.Cursor, string(sess.Status), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, criteria, stage, identifiers, unresolved, cursor, status, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

func (s *SQLiteStore) SetSessionResolved(ctx context.Context, id string, identifiers []string, unresolved []model.Resolution, stage model.Stage) error {
	idsJSON, err := json.Marshal(identifiers)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal identifiers")
	}
	unresolvedJSON, err := json.Marshal(unresolved)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal unresolved")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET identifiers = ?, unresolved = ?, stage = ?, updated_at = ? WHERE id = ?`,
		string(idsJSON), string(unresolvedJSON), string(stage), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set session resolved %s", id)
	}
	return checkSessionFound(res, id)
}

func (s *SQLiteStore) AdvanceSession(ctx context.Context, id string, cursor int, stage model.Stage, status model.SessionStatus) error {
	// The cursor guard rejects regressions; a concurrent writer that already
	// advanced further wins and this update becomes a no-op error.
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET cursor = ?, stage = ?, status = ?, updated_at = ?
		 WHERE id = ? AND cursor <= ?`,
		cursor, string(stage), string(status), time.Now().UTC(), id, cursor,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance session %s", id)
	}
	return checkSessionFound(res, id)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT id, criteria, stage, identifiers, unresolved, cursor, status, created_at, updated_at
	 FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

// helpers

func checkSessionFound(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.Session, error) {
	var sess model.Session
	var criteriaJSON, idsJSON, unresolvedJSON string

	err := row.Scan(&sess.ID, &criteriaJSON, &sess.Stage, &idsJSON, &unresolvedJSON,
		&sess.Cursor, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan session")
	}

	if err := json.Unmarshal([]byte(criteriaJSON), &sess.Criteria); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal criteria")
	}
	if err := json.Unmarshal([]byte(idsJSON), &sess.Identifiers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal identifiers")
	}
	if err := json.Unmarshal([]byte(unresolvedJSON), &sess.Unresolved); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal unresolved")
	}
	return &sess, nil
}
