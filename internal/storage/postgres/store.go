package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// Store implements storage.Store using PostgreSQL and pgvector.
type Store struct {
	db     *sql.DB
	dsn    string
	logger *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// New connects to dsn and applies the schema. dims sizes the vector column
// of a fresh database; an existing database keeps its recorded size.
func New(dsn string, dims int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	s := &Store{db: db, dsn: dsn, logger: logger}
	recorded, err := dimensions(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if recorded == 0 {
		if dims < 1 {
			db.Close()
			return nil, fmt.Errorf("postgres: embedding dimensions must be positive for a new database, got %d", dims)
		}
		if _, err := db.Exec(
			`INSERT INTO embedding_meta (id, dimensions, updated_at) VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING`,
			dims, time.Now().UTC()); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: failed to init embedding meta: %w", err)
		}
		recorded = dims
	}
	if _, err := db.Exec(embeddingColumnDDL(recorded)); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create embedding column: %w", err)
	}
	if dims > 0 && dims != recorded {
		logger.Warn("postgres: configured embedding dimensions differ from database; run --re-embed",
			zap.Int("configured", dims), zap.Int("database", recorded))
	}
	return s, nil
}

// Backend returns "postgres".
func (s *Store) Backend() string { return "postgres" }

// Persistent is always true.
func (s *Store) Persistent() bool { return true }

// DSN is the connection string, used by pg_dump based backups.
func (s *Store) DSN() string { return s.dsn }

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *types.NotFoundError
	var ve *types.ValidationError
	var se *types.StoreError
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &se) {
		return err
	}
	return &types.StoreError{Op: "postgres: " + op, Err: err}
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return wrap(op, err)
	}
	if err = tx.Commit(); err != nil {
		return wrap(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ensureExist returns a NotFoundError for the first id with no row in table.
func ensureExist(ctx context.Context, q querier, table, kind string, ids []int64) error {
	ids = storage.UniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE id = ANY($1)", table), pq.Int64Array(ids))
	if err != nil {
		return fmt.Errorf("check %s ids: %w", kind, err)
	}
	defer rows.Close()

	found := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if !found[id] {
			return storage.NotFound(kind, id)
		}
	}
	return nil
}

func dimensions(ctx context.Context, q querier) (int, error) {
	var dims int
	err := q.QueryRowContext(ctx, "SELECT dimensions FROM embedding_meta WHERE id = 1").Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read embedding dimensions: %w", err)
	}
	return dims, nil
}

func checkDimensions(ctx context.Context, q querier, vec []float32) error {
	if vec == nil {
		return nil
	}
	dims, err := dimensions(ctx, q)
	if err != nil {
		return err
	}
	if dims > 0 && len(vec) != dims {
		return fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vec), dims)
	}
	return nil
}

// marshalMap encodes metadata as a JSON string; pq would send []byte as bytea.
func marshalMap(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMap(raw []byte) map[string]interface{} {
	if len(raw) == 0 || string(raw) == "{}" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func stringArray(s []string) pq.StringArray {
	if s == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(s)
}

func nilIfEmpty(s pq.StringArray) []string {
	if len(s) == 0 {
		return nil
	}
	return []string(s)
}
