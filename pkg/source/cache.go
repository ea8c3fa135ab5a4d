package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rowbridge-io/platform/pkg/common/logger"
)

// DetailCache keeps product detail lookups warm between runs so that
// recurring exports of overlapping order windows do not refetch the
// same products every fire. A nil cache is a no-op.
type DetailCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDetailCache(client *redis.Client, ttl time.Duration) *DetailCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DetailCache{client: client, ttl: ttl}
}

func (c *DetailCache) GetMany(ctx context.Context, ids []int64) map[int64]Product {
	hits := make(map[int64]Product)
	if c == nil || c.client == nil || len(ids) == 0 {
		return hits
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKey(id))
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Log.WithError(err).Warn("Detail cache read failed")
		return hits
	}
	for i, raw := range values {
		text, ok := raw.(string)
		if !ok {
			continue
		}
		var product Product
		if err := json.Unmarshal([]byte(text), &product); err != nil {
			continue
		}
		hits[ids[i]] = product
	}
	return hits
}

func (c *DetailCache) PutMany(ctx context.Context, products map[int64]Product) {
	if c == nil || c.client == nil || len(products) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for id, product := range products {
		data, err := json.Marshal(product)
		if err != nil {
			continue
		}
		pipe.Set(ctx, cacheKey(id), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Log.WithError(err).Warn("Detail cache write failed")
	}
}

func cacheKey(id int64) string {
	return fmt.Sprintf("product:detail:%d", id)
}
