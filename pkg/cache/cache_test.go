package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New[string]()

	c.Set("k1", "v1", time.Minute)

	v, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New[int]()

	c.Set("k1", 42, 10*time.Millisecond)

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Get("k1")
	assert.False(t, ok, "entry should have expired")
	assert.Equal(t, 0, c.Len(), "expired entry should be pruned on read")
}

func TestCacheOverwriteRefreshesTTL(t *testing.T) {
	c := New[string]()

	c.Set("k1", "old", 10*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	c.Set("k1", "new", time.Minute)
	time.Sleep(10 * time.Millisecond)

	v, ok := c.Get("k1")
	assert.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c := New[string]()
	calls := 0

	producer := func() (string, error) {
		calls++
		return "computed", nil
	}

	v, err := c.GetOrCompute("k1", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, "computed", v)

	v, err = c.GetOrCompute("k1", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, "computed", v)
	assert.Equal(t, 1, calls, "second call should hit the cache")
}

func TestGetOrComputeError(t *testing.T) {
	c := New[string]()

	_, err := c.GetOrCompute("k1", time.Minute, func() (string, error) {
		return "", errors.New("producer failed")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len(), "failed computation should not be cached")
}

func TestGetOrComputeConcurrent(t *testing.T) {
	c := New[int]()

	var producerCalls int32
	const callers = 20

	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute("shared", time.Minute, func() (int, error) {
				atomic.AddInt32(&producerCalls, 1)
				return 7, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&producerCalls), int32(1),
		"producer should be invoked at least once")
	for i, v := range results {
		assert.Equal(t, 7, v, "caller %d should observe a computed value", i)
	}
}

func TestSweeperPrunesExpiredEntries(t *testing.T) {
	c := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Set("short", 1, 5*time.Millisecond)
	c.Set("long", 2, time.Minute)

	c.StartSweeper(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Len() == 1
	}, time.Second, 5*time.Millisecond, "sweeper should prune the expired entry")

	v, ok := c.Get("long")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
