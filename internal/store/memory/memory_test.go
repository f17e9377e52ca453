package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/sleuth/internal/store"
)

func rec(id string, v ...float32) store.Record {
	return store.Record{ID: id, Document: "doc " + id, Metadata: map[string]string{"incident_id": id}, Vector: v}
}

func TestCollection_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.Add(ctx, []store.Record{
		rec("far", 0, 1),
		rec("near", 1, 0.1),
		rec("exact", 1, 0),
	}))

	hits, err := c.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "exact", hits[0].ID)
	assert.Equal(t, "near", hits[1].ID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-9)
}

func TestCollection_EmptyQuery(t *testing.T) {
	hits, err := New().Query(context.Background(), []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCollection_AddReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.Add(ctx, []store.Record{rec("a", 1, 0), rec("b", 0, 1)}))
	require.NoError(t, c.Add(ctx, []store.Record{rec("a", 0, 1)}))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := c.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", hits[0].ID, "ties keep insertion order")
}

func TestCollection_RejectsEmptyID(t *testing.T) {
	assert.Error(t, New().Add(context.Background(), []store.Record{{Vector: []float32{1}}}))
}

func TestCollection_Reset(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.NoError(t, c.Add(ctx, []store.Record{rec("a", 1)}))
	require.NoError(t, c.Reset(ctx))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.Add(ctx, []store.Record{rec("b", 1)}))
	n, _ = c.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestCollection_Snapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "incidents.json")

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Add(ctx, []store.Record{rec("INC1", 1, 0)}))

	reopened, err := Open(path)
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := reopened.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "INC1", hits[0].Metadata["incident_id"])

	require.NoError(t, reopened.Purge(ctx))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := Open(path)
	assert.Error(t, err)
}
