//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestRedisLocker exercises SET NX and the token-checked release against a real server.
func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	locker, err := NewRedis(ctx, RedisConfig{Addr: endpoint})
	require.NoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })

	release, err := locker.Acquire(ctx, "full-run", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "full-run", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "full-run", time.Minute)
	require.NoError(t, err)
}
