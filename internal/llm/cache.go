package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"newsdigest/internal/logger"
)

const embeddingCachePrefix = "newsdigest:embed:"

// CachedEmbedder memoizes embeddings in Redis. Cache failures are logged
// and never fail the call.
type CachedEmbedder struct {
	next   Embedder
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewCachedEmbedder connects to redisURL and wraps next
func NewCachedEmbedder(ctx context.Context, next Embedder, redisURL string, ttl time.Duration) (*CachedEmbedder, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}

	client := redis.NewClient(opt)
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewCachedEmbedderWithClient(next, client, ttl), nil
}

// NewCachedEmbedderWithClient wraps next using an existing client
func NewCachedEmbedderWithClient(next Embedder, client *redis.Client, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, client: client, ttl: ttl, log: logger.Get()}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text, model string, dims int) ([]float64, error) {
	key := embeddingCacheKey(text, model, dims)

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var embedding []float64
		if err := json.Unmarshal(cached, &embedding); err == nil && len(embedding) > 0 {
			return embedding, nil
		}
		c.log.Warn("Discarding unreadable cached embedding", "key", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("Embedding cache lookup failed", "error", err)
	}

	embedding, err := c.next.Embed(ctx, text, model, dims)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(embedding); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn("Embedding cache write failed", "error", err)
		}
	}
	return embedding, nil
}

// Close closes the Redis connection
func (c *CachedEmbedder) Close() error {
	return c.client.Close()
}

func embeddingCacheKey(text, model string, dims int) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(dims)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return embeddingCachePrefix + hex.EncodeToString(h.Sum(nil))
}
