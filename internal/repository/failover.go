package repository

import (
	"context"
	"sync/atomic"
	"time"

	"ddalti/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCache uses primary until it errors, then serves from fallback and retries
// primary once per recoveryInterval.
type FailoverCache struct {
	primary   domain.KVCache
	fallback  domain.KVCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

var _ domain.KVCache = (*FailoverCache)(nil)

func NewFailoverCache(primary, fallback domain.KVCache, logger *zerolog.Logger) *FailoverCache {
	return &FailoverCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	last := time.Unix(0, r.lastCheck.Load())
	return r.now().Sub(last) > recoveryInterval
}

func (r *FailoverCache) markDown(err error, op string) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Str("op", op).Msg("primary cache failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverCache) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("primary cache recovered")
	}
}

func (r *FailoverCache) Get(ctx context.Context, key string) (string, bool, error) {
	if r.usePrimary() {
		val, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			r.markUp()
			return val, ok, nil
		}
		r.markDown(err, "get")
	}
	return r.fallback.Get(ctx, key)
}

func (r *FailoverCache) Set(ctx context.Context, key, value string) error {
	if r.usePrimary() {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err, "set")
	}
	return r.fallback.Set(ctx, key, value)
}

func (r *FailoverCache) MarkSeen(ctx context.Context, set, key string) (bool, error) {
	if r.usePrimary() {
		added, err := r.primary.MarkSeen(ctx, set, key)
		if err == nil {
			r.markUp()
			return added, nil
		}
		r.markDown(err, "mark_seen")
	}
	return r.fallback.MarkSeen(ctx, set, key)
}

// Forget clears key on both sides, since MarkSeen may have landed on either.
func (r *FailoverCache) Forget(ctx context.Context, set, key string) error {
	if r.usePrimary() {
		if err := r.primary.Forget(ctx, set, key); err != nil {
			r.markDown(err, "forget")
		} else {
			r.markUp()
		}
	}
	return r.fallback.Forget(ctx, set, key)
}
