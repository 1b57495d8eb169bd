package queuestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lucasnoah/aelitaqueue/internal/ids"
)

// Dialect selects the SQL variant a SQLStore speaks. Both dialects share
// the same portable schema from the persisted state layout: queue,
// running, pending, each keyed by pipeline_id.
type Dialect int

const (
	// DialectSQLite targets an embedded SQLite file via mattn/go-sqlite3.
	DialectSQLite Dialect = iota
	// DialectPostgres targets a networked PostgreSQL server via pgx's
	// database/sql driver.
	DialectPostgres
)

// SQLStore is the networked-relational Store implementation. It supports
// SQLite (for local/dev use, reusing the teacher's existing driver
// dependency) and PostgreSQL (the "networked relational store" spec.md
// calls for) against the identical three-table schema.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (creating if needed) a SQLite-backed SQLStore and
// applies the schema.
func OpenSQLite(path string) (*SQLStore, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	s := &SQLStore{db: conn, dialect: DialectSQLite}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a PostgreSQL-backed SQLStore via the given DSN and
// applies the schema.
func OpenPostgres(dsn string) (*SQLStore, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &SQLStore{db: conn, dialect: DialectPostgres}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS queue (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    pipeline_id INTEGER NOT NULL,
    pr_id       TEXT NOT NULL,
    pr_remote   TEXT NOT NULL DEFAULT '',
    pull_commit TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queue_pipeline ON queue(pipeline_id, id);

CREATE TABLE IF NOT EXISTS running (
    pipeline_id  INTEGER PRIMARY KEY,
    pr_id        TEXT NOT NULL,
    pr_remote    TEXT NOT NULL DEFAULT '',
    pull_commit  TEXT NOT NULL,
    merge_commit TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    canceled     BOOLEAN NOT NULL DEFAULT 0,
    built        BOOLEAN NOT NULL DEFAULT 0,
    built_by     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS pending (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    pipeline_id INTEGER NOT NULL,
    pr_id       TEXT NOT NULL,
    pr_remote   TEXT NOT NULL DEFAULT '',
    pull_commit TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    UNIQUE(pipeline_id, pr_id)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS queue (
    id          BIGSERIAL PRIMARY KEY,
    pipeline_id BIGINT NOT NULL,
    pr_id       TEXT NOT NULL,
    pr_remote   TEXT NOT NULL DEFAULT '',
    pull_commit TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queue_pipeline ON queue(pipeline_id, id);

CREATE TABLE IF NOT EXISTS running (
    pipeline_id  BIGINT PRIMARY KEY,
    pr_id        TEXT NOT NULL,
    pr_remote    TEXT NOT NULL DEFAULT '',
    pull_commit  TEXT NOT NULL,
    merge_commit TEXT NOT NULL DEFAULT '',
    message      TEXT NOT NULL DEFAULT '',
    canceled     BOOLEAN NOT NULL DEFAULT FALSE,
    built        BOOLEAN NOT NULL DEFAULT FALSE,
    built_by     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS pending (
    id          BIGSERIAL PRIMARY KEY,
    pipeline_id BIGINT NOT NULL,
    pr_id       TEXT NOT NULL,
    pr_remote   TEXT NOT NULL DEFAULT '',
    pull_commit TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    UNIQUE(pipeline_id, pr_id)
);
`

func (s *SQLStore) migrate() error {
	schema := schemaSQLite
	if s.dialect == DialectPostgres {
		schema = schemaPostgres
	}
	for _, stmt := range strings.Split(schema, ";\n\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites "?" placeholders into the target dialect's syntax.
// Every query in this file is authored with "?" and rebound on use, so
// SQLite and PostgreSQL share one copy of each statement.
func rebind(dialect Dialect, query string) string {
	if dialect == DialectSQLite {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func marshalBuiltBy(m map[ids.CiID]bool) string {
	if len(m) == 0 {
		return "{}"
	}
	data, _ := json.Marshal(m)
	return string(data)
}

func unmarshalBuiltBy(s string) map[ids.CiID]bool {
	if s == "" {
		return nil
	}
	var m map[ids.CiID]bool
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// --- Store methods: PopQueue, TakeRunning, TakePendingByPR, CancelByPR and
// CancelByPRDifferentCommit each run inside their own *sql.Tx; the other
// methods run their statements directly on *sql.DB. Transaction runs the
// whole body inside one *sql.Tx. ---

func (s *SQLStore) PushQueue(pipeline ids.PipelineID, entry QueueEntry) error {
	return s.wrap(pushQueue(s.db, s.dialect, pipeline, entry))
}

func (s *SQLStore) PopQueue(pipeline ids.PipelineID) (QueueEntry, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return QueueEntry{}, false, s.wrap(err)
	}
	defer tx.Rollback()
	out, ok, err := popQueue(tx, s.dialect, pipeline)
	if err != nil {
		return QueueEntry{}, false, s.wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return QueueEntry{}, false, s.wrap(err)
	}
	return out, ok, nil
}

func (s *SQLStore) ListQueue(pipeline ids.PipelineID) ([]QueueEntry, error) {
	out, err := listQueue(s.db, s.dialect, pipeline)
	return out, s.wrap(err)
}

func (s *SQLStore) PutRunning(pipeline ids.PipelineID, entry RunningEntry) error {
	return s.wrap(putRunning(s.db, s.dialect, pipeline, entry))
}

func (s *SQLStore) TakeRunning(pipeline ids.PipelineID) (RunningEntry, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return RunningEntry{}, false, s.wrap(err)
	}
	defer tx.Rollback()
	out, ok, err := takeRunning(tx, s.dialect, pipeline)
	if err != nil {
		return RunningEntry{}, false, s.wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return RunningEntry{}, false, s.wrap(err)
	}
	return out, ok, nil
}

func (s *SQLStore) PeekRunning(pipeline ids.PipelineID) (RunningEntry, bool, error) {
	out, ok, err := peekRunning(s.db, s.dialect, pipeline)
	return out, ok, s.wrap(err)
}

func (s *SQLStore) AddPending(pipeline ids.PipelineID, entry PendingEntry) error {
	return s.wrap(addPending(s.db, s.dialect, pipeline, entry))
}

func (s *SQLStore) PeekPendingByPR(pipeline ids.PipelineID, pr ids.PR) (PendingEntry, bool, error) {
	out, ok, err := peekPendingByPR(s.db, s.dialect, pipeline, pr)
	return out, ok, s.wrap(err)
}

func (s *SQLStore) TakePendingByPR(pipeline ids.PipelineID, pr ids.PR) (PendingEntry, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return PendingEntry{}, false, s.wrap(err)
	}
	defer tx.Rollback()
	out, ok, err := takePendingByPR(tx, s.dialect, pipeline, pr)
	if err != nil {
		return PendingEntry{}, false, s.wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return PendingEntry{}, false, s.wrap(err)
	}
	return out, ok, nil
}

func (s *SQLStore) ListPending(pipeline ids.PipelineID) ([]PendingEntry, error) {
	out, err := listPending(s.db, s.dialect, pipeline)
	return out, s.wrap(err)
}

func (s *SQLStore) CancelByPR(pipeline ids.PipelineID, pr ids.PR) error {
	tx, err := s.db.Begin()
	if err != nil {
		return s.wrap(err)
	}
	defer tx.Rollback()
	if err := cancelByPRSQL(tx, s.dialect, pipeline, pr); err != nil {
		return s.wrap(err)
	}
	return s.wrap(tx.Commit())
}

func (s *SQLStore) CancelByPRDifferentCommit(pipeline ids.PipelineID, pr ids.PR, commit ids.Commit) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, s.wrap(err)
	}
	defer tx.Rollback()
	canceled, err := cancelByPRDifferentCommitSQL(tx, s.dialect, pipeline, pr, commit)
	if err != nil {
		return false, s.wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return false, s.wrap(err)
	}
	return canceled, nil
}

// Transaction runs body inside one *sql.Tx scoped to pipeline, committing
// on nil and rolling back otherwise.
func (s *SQLStore) Transaction(pipeline ids.PipelineID, body func(tx Tx) error) error {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrTransient, err)
	}
	committed := false
	defer func() {
		if !committed {
			sqlTx.Rollback()
		}
	}()

	txv := &sqlStoreTx{tx: sqlTx, dialect: s.dialect, pipeline: pipeline}
	if err := body(txv); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", ErrTransient, err)
	}
	committed = true
	return nil
}

// wrap marks genuine storage-layer failures (connection errors, driver
// errors) as transient for the dispatcher's retry policy: every non-nil
// error is wrapped with ErrTransient, and nil is passed through.
func (s *SQLStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// sqlStoreTx is the Tx view handed to SQLStore.Transaction's body: same
// operations as SQLStore, pre-scoped to one pipeline, all against the
// same *sql.Tx so mutations are visible to subsequent reads within the
// transaction and atomic as a whole.
type sqlStoreTx struct {
	tx       *sql.Tx
	dialect  Dialect
	pipeline ids.PipelineID
}

func (t *sqlStoreTx) PushQueue(entry QueueEntry) error {
	return pushQueue(t.tx, t.dialect, t.pipeline, entry)
}
func (t *sqlStoreTx) PopQueue() (QueueEntry, bool, error) {
	return popQueue(t.tx, t.dialect, t.pipeline)
}
func (t *sqlStoreTx) ListQueue() ([]QueueEntry, error) {
	return listQueue(t.tx, t.dialect, t.pipeline)
}
func (t *sqlStoreTx) PutRunning(entry RunningEntry) error {
	return putRunning(t.tx, t.dialect, t.pipeline, entry)
}
func (t *sqlStoreTx) TakeRunning() (RunningEntry, bool, error) {
	return takeRunning(t.tx, t.dialect, t.pipeline)
}
func (t *sqlStoreTx) PeekRunning() (RunningEntry, bool, error) {
	return peekRunning(t.tx, t.dialect, t.pipeline)
}
func (t *sqlStoreTx) AddPending(entry PendingEntry) error {
	return addPending(t.tx, t.dialect, t.pipeline, entry)
}
func (t *sqlStoreTx) PeekPendingByPR(pr ids.PR) (PendingEntry, bool, error) {
	return peekPendingByPR(t.tx, t.dialect, t.pipeline, pr)
}
func (t *sqlStoreTx) TakePendingByPR(pr ids.PR) (PendingEntry, bool, error) {
	return takePendingByPR(t.tx, t.dialect, t.pipeline, pr)
}
func (t *sqlStoreTx) ListPending() ([]PendingEntry, error) {
	return listPending(t.tx, t.dialect, t.pipeline)
}
func (t *sqlStoreTx) CancelByPR(pr ids.PR) error {
	return cancelByPRSQL(t.tx, t.dialect, t.pipeline, pr)
}
func (t *sqlStoreTx) CancelByPRDifferentCommit(pr ids.PR, commit ids.Commit) (bool, error) {
	return cancelByPRDifferentCommitSQL(t.tx, t.dialect, t.pipeline, pr, commit)
}
