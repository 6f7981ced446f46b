// Package postgres implements store.Backend on PostgreSQL. Records are kept
// as JSONB documents; detail collections are tables created on first use.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/store"
)

var (
	_ store.Backend    = (*Store)(nil)
	_ store.Collection = (*Collection)(nil)
)

// Queryer is the subset of pgxpool.Pool the store uses.
type Queryer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rapd_results (
	id          text PRIMARY KEY,
	session_id  text NOT NULL,
	result_type text NOT NULL,
	timestamp   timestamptz NOT NULL DEFAULT now(),
	doc         jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS rapd_results_session_ts ON rapd_results (session_id, timestamp DESC);
CREATE TABLE IF NOT EXISTS rapd_images (
	id  text PRIMARY KEY,
	doc jsonb NOT NULL
);
CREATE TABLE IF NOT EXISTS rapd_activities (
	id        bigserial PRIMARY KEY,
	source    text NOT NULL,
	type      text NOT NULL,
	subtype   text NOT NULL,
	principal text NOT NULL,
	created   timestamptz NOT NULL
);`

// Store is a PostgreSQL store.Backend.
type Store struct {
	logger logging.Logger
	db     Queryer
	pool   *pgxpool.Pool
}

// Connect opens a pool to url and applies the base schema.
func Connect(ctx context.Context, logger logging.Logger, url string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := New(logger, pool)
	s.pool = pool
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing Queryer.
func New(logger logging.Logger, db Queryer) *Store {
	return &Store{
		logger: logging.ForComponent(logger, logging.ComponentStore).With().Str(logging.FieldStore, "postgres").Logger(),
		db:     db,
	}
}

// Migrate creates the base tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// ListResults implements store.Gateway.
func (s *Store) ListResults(ctx context.Context, q store.ResultQuery) ([]store.Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case q.Unfiltered:
		rows, err = s.db.Query(ctx,
			`SELECT id, doc FROM rapd_results WHERE session_id = $1 ORDER BY timestamp DESC`,
			q.SessionID)
	case len(q.ResultTypes) == 0:
		return []store.Document{}, nil
	default:
		rows, err = s.db.Query(ctx,
			`SELECT id, doc FROM rapd_results WHERE session_id = $1 AND result_type = ANY($2) ORDER BY timestamp DESC`,
			q.SessionID, q.ResultTypes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	out := make([]store.Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		doc, err := decodeDoc(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return out, nil
}

// UpdateResult implements store.Gateway. The patch is merged into the stored
// document with jsonb concatenation; top-level keys in patch win.
func (s *Store) UpdateResult(ctx context.Context, id string, patch store.Document) error {
	delete(patch, "_id")
	raw, err := sonic.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}

	tag, err := s.db.Exec(ctx, `UPDATE rapd_results SET doc = doc || $2::jsonb WHERE id = $1`, id, string(raw))
	if err != nil {
		return fmt.Errorf("failed to update result %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("result %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// FindImage implements store.Gateway.
func (s *Store) FindImage(ctx context.Context, id string) (store.Document, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM rapd_images WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", id, err)
	}
	return decodeDoc(id, raw)
}

// RecordActivity implements store.Gateway.
func (s *Store) RecordActivity(ctx context.Context, a store.Activity) error {
	if a.Created.IsZero() {
		a.Created = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO rapd_activities (source, type, subtype, principal, created) VALUES ($1, $2, $3, $4, $5)`,
		a.Source, a.Type, a.Subtype, a.User, a.Created)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// Ping implements store.Gateway.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

// Close releases the pool when the store owns it.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureCollection implements store.Collections. Concurrent creators from
// several relay replicas may race on CREATE TABLE; losing that race is success.
func (s *Store) EnsureCollection(ctx context.Context, name string) (store.Collection, error) {
	if len(name) > maxIdentifierLen {
		return nil, fmt.Errorf("collection name %q exceeds %d bytes", name, maxIdentifierLen)
	}
	table := pgx.Identifier{name}.Sanitize()
	index := pgx.Identifier{indexName(name)}.Sanitize()

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, doc jsonb NOT NULL);
CREATE INDEX IF NOT EXISTS %s ON %s ((doc #>> '{process,result_id}'));`, table, index, table)

	if _, err := s.db.Exec(ctx, ddl); err != nil && !isAlreadyExists(err) {
		return nil, fmt.Errorf("failed to ensure collection %s: %w", name, err)
	}

	s.logger.Debug().Str(logging.FieldCollection, name).Msg("collection ready")
	return &Collection{name: name, table: table, db: s.db}, nil
}

// maxIdentifierLen is the Postgres NAMEDATALEN-1 limit; longer identifiers
// are silently truncated.
const maxIdentifierLen = 63

// indexName returns the result_id index name for table. Names that would be
// truncated keep a prefix and a hash of the full table name instead.
func indexName(table string) string {
	name := table + "_result_id_idx"
	if len(name) <= maxIdentifierLen {
		return name
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(table))
	suffix := fmt.Sprintf("_%08x_idx", h.Sum32())
	return table[:maxIdentifierLen-len(suffix)] + suffix
}

// Collection is one detail table.
type Collection struct {
	name  string
	table string
	db    Queryer
}

// Name implements store.Collection.
func (c *Collection) Name() string { return c.name }

// FindByResultID implements store.Collection.
func (c *Collection) FindByResultID(ctx context.Context, resultID string) (store.Document, error) {
	return c.findOne(ctx,
		fmt.Sprintf(`SELECT id, doc FROM %s WHERE doc #>> '{process,result_id}' = $1 LIMIT 1`, c.table),
		resultID)
}

// FindByID implements store.Collection.
func (c *Collection) FindByID(ctx context.Context, id string) (store.Document, error) {
	return c.findOne(ctx, fmt.Sprintf(`SELECT id, doc FROM %s WHERE id = $1`, c.table), id)
}

func (c *Collection) findOne(ctx context.Context, sql, arg string) (store.Document, error) {
	var (
		id  string
		raw []byte
	)
	err := c.db.QueryRow(ctx, sql, arg).Scan(&id, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", c.name, arg, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	return decodeDoc(id, raw)
}

func decodeDoc(id string, raw []byte) (store.Document, error) {
	doc := store.Document{}
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc["_id"] = id
	return doc, nil
}

// isAlreadyExists reports a lost CREATE race: duplicate table, or the
// unique violation on pg_type that concurrent CREATE TABLE IF NOT EXISTS raises.
func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.DuplicateTable, pgerrcode.DuplicateObject, pgerrcode.UniqueViolation:
		return true
	}
	return false
}
