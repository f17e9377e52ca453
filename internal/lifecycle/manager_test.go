package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func component(j *journal, name string, startErr error) *Func {
	return &Func{
		ComponentName: name,
		StartFunc: func(context.Context) error {
			if startErr != nil {
				return startErr
			}
			j.add("start " + name)
			return nil
		},
		StopFunc: func(context.Context) error {
			j.add("stop " + name)
			return nil
		},
	}
}

func TestManager_DependencyOrder(t *testing.T) {
	j := &journal{}
	store := component(j, "store", nil)
	watcher := component(j, "watcher", nil)
	api := component(j, "api", nil)

	m := NewManager()
	require.NoError(t, m.Register(store))
	require.NoError(t, m.Register(watcher))
	require.NoError(t, m.Register(api, store, watcher))
	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsRunning(api))

	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, m.IsRunning(api))
	assert.Equal(t, []string{
		"start store", "start watcher", "start api",
		"stop api", "stop watcher", "stop store",
	}, j.list())
}

func TestManager_RegisterValidation(t *testing.T) {
	m := NewManager()
	a := &Func{ComponentName: "a"}
	assert.Error(t, m.Register(nil))
	assert.Error(t, m.Register(&Func{}))
	assert.Error(t, m.Register(a, &Func{ComponentName: "unregistered"}))
	require.NoError(t, m.Register(a))
	assert.Error(t, m.Register(a), "duplicate")
}

func TestManager_RollbackOnStartFailure(t *testing.T) {
	j := &journal{}
	store := component(j, "store", nil)
	api := component(j, "api", errors.New("address already in use"))

	m := NewManager()
	require.NoError(t, m.Register(store))
	require.NoError(t, m.Register(api, store))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api")
	assert.Equal(t, []string{"start store", "stop store"}, j.list())
	assert.False(t, m.IsRunning(store))
}

func TestManager_ShutdownTimeout(t *testing.T) {
	slow := &Func{
		ComponentName: "slow",
		StopFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	m := NewManager()
	m.SetShutdownTimeout(20 * time.Millisecond)
	require.NoError(t, m.Register(slow))
	require.NoError(t, m.Start(context.Background()))

	start := time.Now()
	assert.NoError(t, m.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, m.IsRunning(slow))
}
