package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/go-orderledger/internal/catalog"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of *redis.Client the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// absentMarker caches a confirmed miss so undeliverable pairs are not re-read every checkout.
const absentMarker = "-"

// CachedAvailability is a read-through redis cache in front of an AvailabilityReader.
// Redis failures are logged and fall through to the backing reader.
type CachedAvailability struct {
	next        AvailabilityReader
	client      RedisClient
	ttl         time.Duration
	serviceName string
}

func NewCachedAvailability(next AvailabilityReader, client RedisClient, serviceName string, ttl time.Duration) *CachedAvailability {
	return &CachedAvailability{next: next, client: client, ttl: ttl, serviceName: serviceName}
}

// NewRedisClient connects to addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (c *CachedAvailability) GenerateKey(productID, pincode string) string {
	return fmt.Sprintf("%s:availability:%s:%s", c.serviceName, productID, pincode)
}

func (c *CachedAvailability) GetAvailability(ctx context.Context, productID, pincode string) (*catalog.Availability, error) {
	key := c.GenerateKey(productID, pincode)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && raw == absentMarker:
		return nil, nil
	case err == nil:
		var a catalog.Availability
		if jerr := json.Unmarshal([]byte(raw), &a); jerr == nil {
			return &a, nil
		}
		slog.WarnContext(ctx, "discarding undecodable availability cache entry", "key", key)
	case err != redis.Nil:
		slog.WarnContext(ctx, "availability cache read failed", "key", key, "error", err)
	}

	a, err := c.next.GetAvailability(ctx, productID, pincode)
	if err != nil {
		return nil, err
	}

	value := absentMarker
	if a != nil {
		b, merr := json.Marshal(a)
		if merr != nil {
			return a, nil
		}
		value = string(b)
	}
	if serr := c.client.Set(ctx, key, value, c.ttl).Err(); serr != nil {
		slog.WarnContext(ctx, "availability cache write failed", "key", key, "error", serr)
	}
	return a, nil
}
