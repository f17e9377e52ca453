// Package pgvector stores incidents in PostgreSQL using the pgvector extension.
package pgvector

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/store"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Config holds PostgreSQL settings.
type Config struct {
	DSN       string
	Table     string
	Dimension int
}

// Collection implements store.Collection on a single table.
type Collection struct {
	config Config
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// Open connects to PostgreSQL and ensures the extension and table exist.
func Open(ctx context.Context, cfg Config) (*Collection, error) {
	if cfg.Table == "" {
		cfg.Table = store.DefaultCollection
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	c := &Collection{config: cfg, logger: logging.GetLogger("store.pgvector")}

	// The vector type must exist before AfterConnect can register it, so the
	// extension is created over a plain connection first.
	bootstrap, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	_, err = bootstrap.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	_ = bootstrap.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	c.pool = pool

	if err := c.ensureSchema(ctx, false); err != nil {
		pool.Close()
		return nil, err
	}
	c.logger.Info("Using table %s (dimension %d)", cfg.Table, cfg.Dimension)
	return c, nil
}

func (c *Collection) ensureSchema(ctx context.Context, reset bool) error {
	if reset {
		if _, err := c.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", c.config.Table)); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  seq BIGSERIAL,
  id TEXT PRIMARY KEY,
  document TEXT NOT NULL,
  incident_id TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  actions_taken TEXT NOT NULL DEFAULT '',
  participants TEXT NOT NULL DEFAULT '',
  additional_info TEXT NOT NULL DEFAULT '',
  embedding VECTOR(%[2]d) NOT NULL
)`, c.config.Table, c.config.Dimension)
	if _, err := c.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Add implements store.Collection with a single pipelined batch.
func (c *Collection) Add(ctx context.Context, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, document, incident_id, description, actions_taken, participants, additional_info, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  document = EXCLUDED.document,
  incident_id = EXCLUDED.incident_id,
  description = EXCLUDED.description,
  actions_taken = EXCLUDED.actions_taken,
  participants = EXCLUDED.participants,
  additional_info = EXCLUDED.additional_info,
  embedding = EXCLUDED.embedding`, c.config.Table)

	batch := &pgx.Batch{}
	for _, r := range records {
		m := r.Metadata
		batch.Queue(query, r.ID, r.Document, m["incident_id"], m["description"], m["actions_taken"],
			m["participants"], m["additional_info"], pgvector.NewVector(r.Vector))
	}
	br := c.pool.SendBatch(ctx, batch)
	defer func() {
		_ = br.Close()
	}()
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to store record %s: %w", r.ID, err)
		}
	}
	return nil
}

// Count implements store.Collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", c.config.Table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Query implements store.Collection ordering by cosine distance (<=>).
func (c *Collection) Query(ctx context.Context, vector []float32, k int) ([]store.Hit, error) {
	if k <= 0 {
		return []store.Hit{}, nil
	}
	query := fmt.Sprintf(`
SELECT id, document, incident_id, description, actions_taken, participants, additional_info,
       (embedding <=> $1) AS distance
FROM %s
ORDER BY embedding <=> $1, seq
LIMIT $2`, c.config.Table)

	rows, err := c.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	hits := make([]store.Hit, 0, k)
	for rows.Next() {
		var (
			h                                                   store.Hit
			incidentID, description, actions, people, extraInfo string
		)
		if err := rows.Scan(&h.ID, &h.Document, &incidentID, &description, &actions, &people, &extraInfo, &h.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		h.Metadata = map[string]string{
			"incident_id":   incidentID,
			"description":   description,
			"actions_taken": actions,
			"participants":  people,
		}
		if extraInfo != "" {
			h.Metadata["additional_info"] = extraInfo
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	return hits, nil
}

// Reset implements store.Collection by dropping and recreating the table.
func (c *Collection) Reset(ctx context.Context) error {
	if err := c.ensureSchema(ctx, true); err != nil {
		return err
	}
	c.logger.Info("Reinitialized table %s", c.config.Table)
	return nil
}

// Purge implements store.Collection. The table is the only state.
func (c *Collection) Purge(ctx context.Context) error {
	return c.Reset(ctx)
}

// Close implements store.Collection.
func (c *Collection) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// Name implements store.Collection.
func (c *Collection) Name() string {
	return "pgvector"
}
