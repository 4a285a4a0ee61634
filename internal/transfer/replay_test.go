package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisReplayGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := NewRedisReplayGuard(client, time.Minute)
	ctx := context.Background()

	ok, err := guard.Reserve(ctx, "qrpay_a", 42)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("replay:v1:qrpay_a:42"))

	ok, err = guard.Reserve(ctx, "qrpay_a", 42)
	require.NoError(t, err)
	require.False(t, ok, "second reservation of the same nonce must fail")

	ok, err = guard.Reserve(ctx, "qrpay_b", 42)
	require.NoError(t, err)
	require.True(t, ok, "nonces are scoped per sender")

	require.NoError(t, guard.Release(ctx, "qrpay_a", 42))
	ok, err = guard.Reserve(ctx, "qrpay_a", 42)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = guard.Reserve(ctx, "qrpay_a", 42)
	require.NoError(t, err)
	require.True(t, ok, "reservation expires after the ttl")
}

func TestRedisReplayGuardUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisReplayGuard(client, time.Minute).Reserve(context.Background(), "qrpay_a", 1)
	require.Error(t, err)
}

func TestMemoryReplayGuard(t *testing.T) {
	guard := NewMemoryReplayGuard(16, 50*time.Millisecond)
	ctx := context.Background()

	ok, err := guard.Reserve(ctx, "qrpay_a", 7)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = guard.Reserve(ctx, "qrpay_a", 7)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, guard.Release(ctx, "qrpay_a", 7))
	ok, err = guard.Reserve(ctx, "qrpay_a", 7)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, err := guard.Reserve(ctx, "qrpay_a", 7)
		return err == nil && ok
	}, time.Second, 10*time.Millisecond)
}
