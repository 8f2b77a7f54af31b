package container

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMemoizes(t *testing.T) {
	var calls atomic.Int32
	var c Cache

	resolve := func(context.Context) (string, error) {
		calls.Add(1)
		return "folder-1", nil
	}

	for range 3 {
		id, err := c.Resolve(context.Background(), resolve)
		require.NoError(t, err)
		assert.Equal(t, "folder-1", id)
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestConcurrentFirstResolveCollapses(t *testing.T) {
	var calls atomic.Int32
	var c Cache

	release := make(chan struct{})
	resolve := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "folder-1", nil
	}

	const n = 16

	var wg sync.WaitGroup
	results := make([]string, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.Resolve(context.Background(), resolve)
			assert.NoError(t, err)
			results[i] = id
		}()
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent first calls must collapse into one create")
	for _, id := range results {
		assert.Equal(t, "folder-1", id)
	}
}

func TestFailureIsNotMemoized(t *testing.T) {
	var calls atomic.Int32
	var c Cache

	resolve := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("transient")
		}

		return "folder-1", nil
	}

	_, err := c.Resolve(context.Background(), resolve)
	require.Error(t, err)

	id, err := c.Resolve(context.Background(), resolve)
	require.NoError(t, err)
	assert.Equal(t, "folder-1", id)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResetForcesReresolve(t *testing.T) {
	var calls atomic.Int32
	var c Cache

	resolve := func(context.Context) (string, error) {
		calls.Add(1)
		return "folder-1", nil
	}

	_, err := c.Resolve(context.Background(), resolve)
	require.NoError(t, err)

	c.Reset()

	_, err = c.Resolve(context.Background(), resolve)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
