package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rfq-workers/internal/common/logger"
	"rfq-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "rfq:contract:"

// CachedLookup is a cache-aside decorator keeping found contract records in Redis.
// Misses are not cached. Cache failures degrade to the underlying lookup.
type CachedLookup struct {
	next   Lookup
	client redis.UniversalClient
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedLookup(next Lookup, client redis.UniversalClient, ttl time.Duration, log logger.Logger) *CachedLookup {
	return &CachedLookup{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "contract-cache"}),
	}
}

func (l *CachedLookup) Lookup(ctx context.Context, stackID string) (*models.ContractRecord, error) {
	key := cacheKeyPrefix + stackID

	data, err := l.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec models.ContractRecord
		if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil {
			return &rec, nil
		}
		l.logger.Warn("discarding undecodable cached contract", map[string]interface{}{"stackId": stackID})
	case !errors.Is(err, redis.Nil):
		l.logger.Warn("contract cache read failed", map[string]interface{}{"stackId": stackID, "error": err})
	}

	rec, err := l.next.Lookup(ctx, stackID)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(rec); err == nil {
		if err := l.client.Set(ctx, key, encoded, l.ttl).Err(); err != nil {
			l.logger.Warn("contract cache write failed", map[string]interface{}{"stackId": stackID, "error": err})
		}
	}
	return rec, nil
}
