package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/merlian/merlian/internal/config"
)

// Identity names the model that produced a set of vectors.
type Identity struct {
	Name    string `json:"name"`
	Variant string `json:"variant,omitempty"`
}

func (i Identity) String() string {
	if i.Variant == "" {
		return i.Name
	}
	return i.Name + "/" + i.Variant
}

// IsZero reports whether no model is named.
func (i Identity) IsZero() bool {
	return i.Name == ""
}

// Provider maps images and text into the same unit-normalised vector space.
//
// Implementations must be deterministic for the same input and model, and must
// return vectors with an L2 norm of 1.
type Provider interface {
	Model() Identity
	Dim() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, path string) ([]float32, error)
}

// Config contains the resolved embeddings configuration.
type Config struct {
	Provider string
	Model    Identity
	APIKey   string
	BaseURL  string
}

// ConfigFrom converts the yaml section into a provider Config.
func ConfigFrom(c config.EmbeddingsConfig) *Config {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8009"
	}
	return &Config{
		Provider: c.Provider,
		Model:    Identity{Name: c.Model, Variant: c.Variant},
		APIKey:   c.APIKey,
		BaseURL:  baseURL,
	}
}

// ResolveDevice maps "auto" and empty values to a concrete device name.
func ResolveDevice(device string) string {
	switch d := strings.ToLower(strings.TrimSpace(device)); d {
	case "", "auto":
		return "cpu"
	default:
		return d
	}
}

// NewFromConfig returns an embeddings provider bound to device.
func NewFromConfig(cfg *Config, device string) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embeddings config is nil")
	}
	if cfg.Provider == "" {
		return nil, fmt.Errorf("embeddings provider is not configured (set embeddings.provider)")
	}
	if cfg.Model.IsZero() {
		return nil, fmt.Errorf("embeddings model is not configured (set embeddings.model)")
	}
	switch cfg.Provider {
	case "clip-http":
		return NewCLIPHTTP(cfg, ResolveDevice(device)), nil
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", cfg.Provider)
	}
}
