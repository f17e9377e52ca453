// Package memory implements an in-process vector collection with optional
// JSON snapshots on disk.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/moolen/sleuth/internal/embedding"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/store"
)

// Collection is a brute-force cosine collection guarded by an RWMutex.
// Readers running concurrently with Add see either the old or the new
// record set for each batch, never a torn record.
type Collection struct {
	mu      sync.RWMutex
	records []store.Record
	index   map[string]int

	// path is the snapshot file; empty disables persistence.
	path   string
	logger *logging.Logger
}

// New creates an empty in-memory collection.
func New() *Collection {
	return &Collection{
		index:  make(map[string]int),
		logger: logging.GetLogger("store.memory"),
	}
}

// Open creates a collection persisted at path, loading any existing snapshot.
func Open(path string) (*Collection, error) {
	c := New()
	c.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Info("Created new collection at %s", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var records []store.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	for _, r := range records {
		c.put(r)
	}
	c.logger.Info("Loaded existing collection from %s (%d records)", path, len(records))
	return c, nil
}

func (c *Collection) put(r store.Record) {
	if i, ok := c.index[r.ID]; ok {
		c.records[i] = r
		return
	}
	c.index[r.ID] = len(c.records)
	c.records = append(c.records, r)
}

// Add implements store.Collection.
func (c *Collection) Add(ctx context.Context, records []store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record without id")
		}
		r.Vector = append([]float32(nil), r.Vector...)
		c.put(r)
	}
	return c.snapshot()
}

// Count implements store.Collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records), nil
}

// Query implements store.Collection.
func (c *Collection) Query(ctx context.Context, vector []float32, k int) ([]store.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := make([]store.Hit, 0, len(c.records))
	for _, r := range c.records {
		hits = append(hits, store.Hit{
			Record:   r,
			Distance: 1 - embedding.CosineSimilarity(vector, r.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset implements store.Collection.
func (c *Collection) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
	c.index = make(map[string]int)
	return c.snapshot()
}

// Purge implements store.Collection. The snapshot file is removed.
func (c *Collection) Purge(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
	c.index = make(map[string]int)
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	c.logger.Info("Deleted snapshot %s", c.path)
	return nil
}

// Close implements store.Collection.
func (c *Collection) Close() error {
	return nil
}

// Name implements store.Collection.
func (c *Collection) Name() string {
	return "memory"
}

// snapshot writes all records atomically. Callers hold c.mu.
func (c *Collection) snapshot() error {
	if c.path == "" {
		return nil
	}
	data, err := json.Marshal(c.records)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
