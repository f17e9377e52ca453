package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/sleuth/internal/embedding"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/store"
	"github.com/moolen/sleuth/internal/store/memory"
)

type countingEmbedder struct {
	embedding.Embedder
	calls int32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Embedder.Embed(ctx, texts)
}

func seed(t *testing.T, emb embedding.Embedder, incidents ...incident.Historical) *memory.Collection {
	t.Helper()
	coll := memory.New()
	docs := make([]string, len(incidents))
	for i, h := range incidents {
		docs[i] = h.Description
	}
	if len(docs) == 0 {
		return coll
	}
	vecs, err := emb.Embed(context.Background(), docs)
	require.NoError(t, err)
	records := make([]store.Record, len(incidents))
	for i, h := range incidents {
		records[i] = store.Record{ID: h.ID, Document: h.Description, Metadata: h.Metadata(), Vector: vecs[i]}
	}
	require.NoError(t, coll.Add(context.Background(), records))
	return coll
}

func TestIndex_QueryOrdersByDistance(t *testing.T) {
	emb := embedding.NewHashing(256)
	coll := seed(t, emb,
		incident.Historical{ID: "INC1", Description: "printer out of toner on floor 3", ActionsTaken: "replaced toner"},
		incident.Historical{ID: "INC2", Description: "disk full on database server", ActionsTaken: "cleaned logs"},
		incident.Historical{ID: "INC3", Description: "disk full on web server", ActionsTaken: "rotated logs"},
	)
	idx, err := NewIndex(coll, emb)
	require.NoError(t, err)

	got, err := idx.Query(context.Background(), "disk full on database server", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "INC2", got[0].Incident.ID)
	assert.Equal(t, "cleaned logs", got[0].Incident.ActionsTaken)
	assert.Equal(t, 0, got[0].Rank)
	assert.Equal(t, 1, got[1].Rank)
	assert.LessOrEqual(t, got[0].Distance, got[1].Distance)
}

func TestIndex_QueryEmptyCollection(t *testing.T) {
	emb := embedding.NewHashing(16)
	idx, err := NewIndex(memory.New(), emb)
	require.NoError(t, err)

	got, err := idx.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndex_QueryDefaultK(t *testing.T) {
	emb := embedding.NewHashing(16)
	var incidents []incident.Historical
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		incidents = append(incidents, incident.Historical{ID: id, Description: "network outage " + id})
	}
	idx, err := NewIndex(seed(t, emb, incidents...), emb)
	require.NoError(t, err)

	got, err := idx.Query(context.Background(), "network outage", 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultK)
}

func TestIndex_EmbeddingFailure(t *testing.T) {
	emb := &countingEmbedder{Embedder: embedding.NewHashing(16), err: errors.New("quota exceeded")}
	idx, err := NewIndex(memory.New(), emb)
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), "vpn down", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestIndex_Cache(t *testing.T) {
	emb := &countingEmbedder{Embedder: embedding.NewHashing(16)}
	idx, err := NewIndex(memory.New(), emb, WithCache(CacheConfig{Size: 8, TTL: time.Minute}))
	require.NoError(t, err)

	ctx := context.Background()
	for _, q := range []string{"vpn down", "vpn   down", "dns timeouts"} {
		_, err := idx.Query(ctx, q, 3)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&emb.calls))

	stats, ok := idx.CacheStats()
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 2, stats.Misses)
	assert.Equal(t, 2, stats.Items)

	idx.ClearCache()
	_, err = idx.Query(ctx, "vpn down", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&emb.calls))
}

func TestIndex_CacheExpiry(t *testing.T) {
	emb := &countingEmbedder{Embedder: embedding.NewHashing(16)}
	idx, err := NewIndex(memory.New(), emb, WithCache(CacheConfig{Size: 8, TTL: time.Nanosecond}))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = idx.Query(ctx, "vpn down", 3)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = idx.Query(ctx, "vpn down", 3)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&emb.calls))
	stats, _ := idx.CacheStats()
	assert.EqualValues(t, 1, stats.Expired)
}

func TestIndex_CacheDisabled(t *testing.T) {
	idx, err := NewIndex(memory.New(), embedding.NewHashing(16), WithCache(CacheConfig{Size: 0}))
	require.NoError(t, err)
	_, ok := idx.CacheStats()
	assert.False(t, ok)
}
