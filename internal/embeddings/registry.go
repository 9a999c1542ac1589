package embeddings

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/logutil"
)

// Key identifies one constructed model instance.
type Key struct {
	Device string
	Model  Identity
}

// Factory constructs a provider for key. It may be slow (model load).
type Factory func(ctx context.Context, key Key) (Provider, error)

// Registry caches providers by (device, model). Construction is lazy and
// happens at most once per key even under concurrent first use.
type Registry struct {
	factory Factory

	mu    sync.Mutex
	cache map[Key]Provider
}

// NewRegistry returns an empty registry backed by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, cache: make(map[Key]Provider)}
}

// NewConfigRegistry returns a registry whose providers share cfg apart from
// the model identity and device carried by the key. Each constructed provider
// is passed through wrap, in order.
func NewConfigRegistry(cfg *Config, wrap ...func(Provider) Provider) *Registry {
	return NewRegistry(func(_ context.Context, key Key) (Provider, error) {
		c := *cfg
		if !key.Model.IsZero() {
			c.Model = key.Model
		}
		p, err := NewFromConfig(&c, key.Device)
		if err != nil {
			return nil, err
		}
		for _, w := range wrap {
			p = w(p)
		}
		return p, nil
	})
}

// Get returns the cached provider for key, constructing it on first use.
func (r *Registry) Get(ctx context.Context, key Key) (Provider, error) {
	key.Device = ResolveDevice(key.Device)

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[key]; ok {
		return p, nil
	}
	logutil.GetLogger(ctx).Info("loading embedding model",
		zap.String("model", key.Model.String()),
		zap.String("device", key.Device),
	)
	p, err := r.factory(ctx, key)
	if err != nil {
		return nil, err
	}
	r.cache[key] = p
	return p, nil
}
