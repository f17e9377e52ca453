package falkordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/sleuth/internal/store"
)

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", vectorLiteral(nil))
	assert.Equal(t, "[1,-0.5,0.25]", vectorLiteral([]float32{1, -0.5, 0.25}))
}

func TestValueConversions(t *testing.T) {
	assert.Equal(t, "", toString(nil))
	assert.Equal(t, "42", toString(int64(42)))
	assert.Equal(t, 7, toInt(int64(7)))
	assert.Equal(t, 0, toInt("7"))
	assert.InDelta(t, 0.125, toFloat("0.125"), 1e-9)
	assert.InDelta(t, 0.5, toFloat(float32(0.5)), 1e-9)
}

func TestNew_AppliesDefaults(t *testing.T) {
	c := New(Config{Dimension: 8})
	assert.Equal(t, "localhost:6379", c.config.Addr)
	assert.Equal(t, store.DefaultCollection, c.config.GraphName)
	assert.Equal(t, 8, c.config.Dimension)
	assert.Equal(t, "falkordb", c.Name())
}

func TestCollection_NotConnected(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	_, err := c.Count(ctx)
	assert.ErrorIs(t, err, store.ErrNotConnected)
	assert.ErrorIs(t, c.Reset(ctx), store.ErrNotConnected)
	require.NoError(t, c.Close())
}

func TestCollection_AddRejectsWrongDimension(t *testing.T) {
	c := New(Config{Dimension: 4})
	err := c.Add(context.Background(), []store.Record{{ID: "INC1", Vector: []float32{1, 2}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 4")
}

func TestCollection_AddWritesOneStatementPerBatch(t *testing.T) {
	c := New(Config{Dimension: 2})
	records := []store.Record{
		{ID: "1", Document: "disk full", Vector: []float32{1, 0}, Metadata: map[string]string{"incident_id": "1", "participants": "ops"}},
		{ID: "2", Document: "vpn down", Vector: []float32{0, 0.5}, Metadata: map[string]string{"incident_id": "2"}},
	}

	rows, err := c.batchRows(records)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]interface{})
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "ops", first["participants"])
	assert.Equal(t, []interface{}{1.0, 0.0}, first["vector"])
	assert.Equal(t, []interface{}{0.0, 0.5}, rows[1].(map[string]interface{})["vector"])

	assert.Contains(t, upsertQuery, "UNWIND $rows AS r MERGE (n:")
	assert.Contains(t, upsertQuery, "vecf32(r.vector)")

	assert.ErrorIs(t, c.Add(context.Background(), records), store.ErrNotConnected)
	assert.NoError(t, c.Add(context.Background(), nil))
}
