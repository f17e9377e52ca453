// Package falkordb stores incidents as graph nodes with a vector index in
// FalkorDB.
package falkordb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FalkorDB/falkordb-go/v2"

	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/store"
)

const (
	nodeLabel      = "Incident"
	vectorProperty = "embedding"
)

// Config holds connection settings for FalkorDB.
type Config struct {
	Addr         string
	Password     string
	GraphName    string
	Dimension    int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	QueryTimeout time.Duration
}

// DefaultConfig returns default connection settings.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		GraphName:    store.DefaultCollection,
		Dimension:    384,
		MaxRetries:   3,
		DialTimeout:  30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		PoolSize:     10,
		QueryTimeout: 30 * time.Second,
	}
}

// Collection implements store.Collection on a FalkorDB graph.
type Collection struct {
	config Config
	logger *logging.Logger
	db     *falkordb.FalkorDB
	graph  *falkordb.Graph
}

// New creates an unconnected collection.
func New(cfg Config) *Collection {
	d := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.GraphName == "" {
		cfg.GraphName = d.GraphName
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = d.Dimension
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = d.PoolSize
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = d.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	return &Collection{
		config: cfg,
		logger: logging.GetLogger("store.falkordb"),
	}
}

// Connect opens the connection and makes sure the indexes exist.
func (c *Collection) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to FalkorDB at %s (graph: %s)", c.config.Addr, c.config.GraphName)

	db, err := falkordb.FalkorDBNew(&falkordb.ConnectionOption{
		Addr:         c.config.Addr,
		Password:     c.config.Password,
		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
		PoolSize:     c.config.PoolSize,
		MaxRetries:   c.config.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create FalkorDB client: %w", err)
	}
	c.db = db
	c.graph = db.SelectGraph(c.config.GraphName)

	if _, err := c.query("RETURN 1", nil); err != nil {
		return fmt.Errorf("failed to reach FalkorDB: %w", err)
	}
	c.ensureSchema()
	return nil
}

// ensureSchema creates the id and vector indexes. Errors usually mean the
// index already exists and are only logged.
func (c *Collection) ensureSchema() {
	indexes := []string{
		fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.id)", nodeLabel),
		fmt.Sprintf("CREATE VECTOR INDEX FOR (n:%s) ON (n.%s) OPTIONS {dimension: %d, similarityFunction: 'cosine'}",
			nodeLabel, vectorProperty, c.config.Dimension),
	}
	for _, q := range indexes {
		if _, err := c.query(q, nil); err != nil {
			c.logger.Debug("Index creation skipped (may already exist): %v", err)
		}
	}
}

func (c *Collection) query(q string, params map[string]interface{}) (*falkordb.QueryResult, error) {
	if c.graph == nil {
		return nil, store.ErrNotConnected
	}
	var options *falkordb.QueryOptions
	if c.config.QueryTimeout > 0 {
		options = falkordb.NewQueryOptions().SetTimeout(int(c.config.QueryTimeout.Milliseconds()))
	}
	return c.graph.Query(q, params, options)
}

// upsertQuery merges a whole batch in one round trip.
var upsertQuery = fmt.Sprintf(
	"UNWIND $rows AS r MERGE (n:%s {id: r.id}) SET n.document = r.document, n.incident_id = r.incident_id, "+
		"n.description = r.description, n.actions_taken = r.actions_taken, "+
		"n.participants = r.participants, n.additional_info = r.additional_info, "+
		"n.%s = vecf32(r.vector)",
	nodeLabel, vectorProperty)

// Add implements store.Collection. The records are written with a single
// UNWIND ... MERGE statement keyed on id.
func (c *Collection) Add(ctx context.Context, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rows, err := c.batchRows(records)
	if err != nil {
		return err
	}
	if _, err := c.query(upsertQuery, map[string]interface{}{"rows": rows}); err != nil {
		return fmt.Errorf("failed to store batch of %d records starting at %s: %w", len(records), records[0].ID, err)
	}
	return nil
}

// batchRows converts records into UNWIND parameter rows.
func (c *Collection) batchRows(records []store.Record) ([]interface{}, error) {
	rows := make([]interface{}, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != c.config.Dimension {
			return nil, fmt.Errorf("record %s: vector has %d dimensions, index expects %d", r.ID, len(r.Vector), c.config.Dimension)
		}
		vector := make([]interface{}, len(r.Vector))
		for i, f := range r.Vector {
			vector[i] = float64(f)
		}
		rows = append(rows, map[string]interface{}{
			"id":              r.ID,
			"document":        r.Document,
			"incident_id":     r.Metadata["incident_id"],
			"description":     r.Metadata["description"],
			"actions_taken":   r.Metadata["actions_taken"],
			"participants":    r.Metadata["participants"],
			"additional_info": r.Metadata["additional_info"],
			"vector":          vector,
		})
	}
	return rows, nil
}

// Count implements store.Collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	res, err := c.query(fmt.Sprintf("MATCH (n:%s) RETURN count(n)", nodeLabel), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	if !res.Next() {
		return 0, nil
	}
	values := res.Record().Values()
	if len(values) == 0 {
		return 0, nil
	}
	return toInt(values[0]), nil
}

// Query implements store.Collection using db.idx.vector.queryNodes.
func (c *Collection) Query(ctx context.Context, vector []float32, k int) ([]store.Hit, error) {
	if k <= 0 {
		return []store.Hit{}, nil
	}
	n, err := c.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []store.Hit{}, nil
	}

	q := fmt.Sprintf(
		"CALL db.idx.vector.queryNodes('%s', '%s', %d, vecf32(%s)) YIELD node, score "+
			"RETURN node.id, node.document, node.incident_id, node.description, node.actions_taken, "+
			"node.participants, node.additional_info, score ORDER BY score ASC",
		nodeLabel, vectorProperty, k, vectorLiteral(vector))
	res, err := c.query(q, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	hits := make([]store.Hit, 0, k)
	for res.Next() {
		v := res.Record().Values()
		if len(v) < 8 {
			continue
		}
		meta := map[string]string{
			"incident_id":   toString(v[2]),
			"description":   toString(v[3]),
			"actions_taken": toString(v[4]),
			"participants":  toString(v[5]),
		}
		if extra := toString(v[6]); extra != "" {
			meta["additional_info"] = extra
		}
		hits = append(hits, store.Hit{
			Record: store.Record{
				ID:       toString(v[0]),
				Document: toString(v[1]),
				Metadata: meta,
			},
			Distance: toFloat(v[7]),
		})
	}
	return hits, nil
}

// Reset implements store.Collection by deleting the graph and recreating the
// indexes.
func (c *Collection) Reset(ctx context.Context) error {
	if c.graph == nil {
		return store.ErrNotConnected
	}
	if err := c.graph.Delete(); err != nil {
		// "empty key" means the graph was never created
		if !strings.Contains(err.Error(), "empty key") {
			return fmt.Errorf("failed to delete graph: %w", err)
		}
		c.logger.Debug("Graph '%s' does not exist, nothing to delete", c.config.GraphName)
	} else {
		c.logger.Info("Graph '%s' deleted", c.config.GraphName)
	}
	c.graph = c.db.SelectGraph(c.config.GraphName)
	c.ensureSchema()
	return nil
}

// Purge implements store.Collection. FalkorDB keeps no state outside the
// graph key, so it is the same as Reset.
func (c *Collection) Purge(ctx context.Context) error {
	return c.Reset(ctx)
}

// Close implements store.Collection.
func (c *Collection) Close() error {
	if c.db != nil && c.db.Conn != nil {
		c.logger.Info("Closing FalkorDB connection")
		return c.db.Conn.Close()
	}
	return nil
}

// Name implements store.Collection.
func (c *Collection) Name() string {
	return "falkordb"
}

// vectorLiteral formats v as a Cypher list literal.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
