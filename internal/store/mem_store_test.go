package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_HashSetGetDelete(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	_, ok, err := m.HashGetAll(ctx, "task:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.HashSet(ctx, "task:1", map[string]string{"status": "PENDING", "service": "svc"}))
	require.NoError(t, m.HashSet(ctx, "task:1", map[string]string{"status": "QUEUED"}))

	fields, ok, err := m.HashGetAll(ctx, "task:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "QUEUED", fields["status"])
	assert.Equal(t, "svc", fields["service"])

	require.NoError(t, m.HashDelete(ctx, "task:1", "service"))
	fields, _, err = m.HashGetAll(ctx, "task:1")
	require.NoError(t, err)
	assert.NotContains(t, fields, "service")

	// Deleting an absent field or key is not an error.
	require.NoError(t, m.HashDelete(ctx, "task:1", "service"))
	require.NoError(t, m.HashDelete(ctx, "task:none", "service"))
}

func TestMemStore_ListFIFO(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	n, err := m.LLen(ctx, "queue:svc")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, m.RPush(ctx, "queue:svc", "a", "b"))
	require.NoError(t, m.RPush(ctx, "queue:svc", "c"))

	n, err = m.LLen(ctx, "queue:svc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"a", "b", "c"} {
		v, ok, err := m.LPop(ctx, "queue:svc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}

	_, ok, err := m.LPop(ctx, "queue:svc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStore_BLPop_TimesOutEmpty(t *testing.T) {
	m := NewMemStore()
	_, _, ok, err := m.BLPop(context.Background(), []string{"queue:svc"}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStore_BLPop_WokenByPush(t *testing.T) {
	m := NewMemStore()
	ctx := context.Background()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = m.RPush(ctx, "queue:svc", "task-1")
	}()

	key, v, ok, err := m.BLPop(ctx, []string{"queue:svc"}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "queue:svc", key)
	assert.Equal(t, "task-1", v)
}

func TestMemStore_BLPop_RespectsContextCancellation(t *testing.T) {
	m := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, _, err := m.BLPop(ctx, []string{"queue:svc"}, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemStore_RunScript_RequiresRegisteredHandler(t *testing.T) {
	m := NewMemStore()
	_, err := m.RunScript(context.Background(), Script{Name: "nope"}, nil, nil)
	require.Error(t, err)
}

func TestMemStore_RunScript_RunsHandlerAndWakesWaiters(t *testing.T) {
	m := NewMemStore()
	m.RegisterScript("push", func(m *MemStore, keys []string, args []string) ([]string, error) {
		m.HashSetLocked(keys[0], map[string]string{"status": args[0]})
		m.RPushLocked(keys[1], args[1])
		return []string{"OK"}, nil
	})
	ctx := context.Background()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = m.RunScript(ctx, Script{Name: "push"}, []string{"task:1", "queue:svc"}, []string{"QUEUED", "task-1"})
	}()

	// A blocked pop must observe the enqueue a script performs.
	_, v, ok, err := m.BLPop(ctx, []string{"queue:svc"}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "task-1", v)

	fields, ok, err := m.HashGetAll(ctx, "task:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "QUEUED", fields["status"])
}
