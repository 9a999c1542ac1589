package embeddings

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/logutil"
)

// WithQueryCache wraps p so repeated text queries skip the model.
// Image embeddings are never cached.
func WithQueryCache(p Provider, size int, ttl time.Duration) Provider {
	if p == nil || size <= 0 || ttl <= 0 {
		return p
	}
	return &cachedProvider{
		Provider: p,
		cache:    expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type cachedProvider struct {
	Provider
	cache *expirable.LRU[string, []float32]
}

func (c *cachedProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := c.Model().String() + "\x00" + text
	if cached, ok := c.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("query embedding cache hit", zap.String("model", c.Model().String()))
		return cloneVector(cached), nil
	}
	v, err := c.Provider.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(v))
	return v, nil
}

func cloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
