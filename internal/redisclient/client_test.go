package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires TEST_REDIS_ADDR")
	}

	client, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIdempotencyKey(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := uuid.NewString()

	val, err := client.GetIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, client.SetIdempotencyKey(ctx, key, "order-1", time.Minute))

	val, err = client.GetIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "order-1", val)
}

func TestLock_OnlyOwnerReleases(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := uuid.NewString()

	token, ok, err := client.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = client.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.ReleaseLock(ctx, key, "someone-else"))
	_, ok, err = client.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.ReleaseLock(ctx, key, token))
	_, ok, err = client.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
