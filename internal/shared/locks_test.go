package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLockClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestDocumentLockerAcquireRelease(t *testing.T) {
	client, _ := newLockClient(t)
	locker := NewDocumentLocker(client, time.Minute)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "recon", 42)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "recon", 42)
	require.ErrorIs(t, err, ErrLockHeld)

	// A different document, or the same id in another module, is unaffected.
	other, err := locker.Acquire(ctx, "recon", 43)
	require.NoError(t, err)
	require.NoError(t, other(ctx))
	whtRelease, err := locker.Acquire(ctx, "wht", 42)
	require.NoError(t, err)
	require.NoError(t, whtRelease(ctx))

	require.NoError(t, release(ctx))
	release, err = locker.Acquire(ctx, "recon", 42)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestDocumentLockerReleaseAfterExpiry(t *testing.T) {
	client, srv := newLockClient(t)
	locker := NewDocumentLocker(client, time.Second)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "recon", 7)
	require.NoError(t, err)

	// Lease expires and another writer takes over; the stale release must
	// not steal the new lease.
	srv.FastForward(2 * time.Second)
	second, err := locker.Acquire(ctx, "recon", 7)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "recon", 7)
	require.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, second(ctx))
}

func TestDocumentLockKey(t *testing.T) {
	require.Equal(t, "recon:document:42:lock", DocumentLockKey("recon", 42))
}
