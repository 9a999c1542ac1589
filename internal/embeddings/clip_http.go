package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

const maxImageBytes = 64 << 20

type clipHTTPProvider struct {
	model   Identity
	device  string
	apiKey  string
	baseURL string
	client  *http.Client
	dim     atomic.Int64
}

// NewCLIPHTTP constructs a provider backed by a local CLIP inference service.
//
// It uses the REST endpoints:
//
//	POST {baseURL}/embed/text   {"model": "...", "pretrained": "...", "device": "...", "text": "..."}
//	POST {baseURL}/embed/image  {"model": "...", "pretrained": "...", "device": "...", "image_b64": "..."}
//
// both answering {"embedding": [...]}.
func NewCLIPHTTP(cfg *Config, device string) Provider {
	return &clipHTTPProvider{
		model:   cfg.Model,
		device:  device,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *clipHTTPProvider) Model() Identity {
	return p.model
}

func (p *clipHTTPProvider) Dim() int {
	return int(p.dim.Load())
}

func (p *clipHTTPProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	return p.post(ctx, "/embed/text", map[string]any{"text": text})
}

func (p *clipHTTPProvider) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("cannot read image %s: %w", path, err)
	}
	if len(raw) > maxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes", path, maxImageBytes)
	}
	return p.post(ctx, "/embed/image", map[string]any{"image_b64": base64.StdEncoding.EncodeToString(raw)})
}

func (p *clipHTTPProvider) post(ctx context.Context, endpoint string, body map[string]any) ([]float32, error) {
	body["model"] = p.model.Name
	body["pretrained"] = p.model.Variant
	body["device"] = p.device

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embeddings request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("cannot parse embeddings response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("embeddings response missing embedding")
	}

	out := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		out[i] = float32(v)
	}
	if d := p.dim.Load(); d != 0 && int(d) != len(out) {
		return nil, fmt.Errorf("embedding dim changed: got %d want %d", len(out), d)
	}
	p.dim.Store(int64(len(out)))
	return NormalizeL2(out), nil
}
