package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DocumentLockKey builds redis keys for per-document critical sections.
// Mutating a document recomputes and replaces all derived fields, so two
// concurrent writers on the same identity would lose one append.
func DocumentLockKey(module string, documentID int64) string {
	return fmt.Sprintf("%s:document:%d:lock", module, documentID)
}

// DocumentLocker serializes writers per document identity using redis leases.
type DocumentLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDocumentLocker constructs a DocumentLocker.
func NewDocumentLocker(client *redis.Client, ttl time.Duration) *DocumentLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DocumentLocker{client: client, ttl: ttl}
}

// Acquire takes the lease for module/documentID and returns a release func.
// Returns ErrLockHeld when another writer owns the lease.
func (l *DocumentLocker) Acquire(ctx context.Context, module string, documentID int64) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("document locker not initialised")
	}
	key := DocumentLockKey(module, documentID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire document lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	release := func(ctx context.Context) error {
		current, err := l.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if current != token {
			// Lease expired and was re-acquired by someone else.
			return nil
		}
		return l.client.Del(ctx, key).Err()
	}
	return release, nil
}
