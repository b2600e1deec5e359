package llm

import (
	"context"
	"sync"
	"time"

	"codeframe/internal/config"
	"codeframe/internal/shared/logging"
)

// Router dispenses providers by purpose. Distinct purposes may route to
// different models; providers are built lazily and cached per model.
type Router struct {
	cfg     *config.RuntimeConfig
	logger  logging.Logger
	build   func(model string) Provider
	usage   *UsageTracker
	mu      sync.Mutex
	clients map[string]Provider
}

// NewRouter builds a Router over the runtime configuration. A custom factory
// replaces the default HTTP client construction, for tests and alternate
// backends.
func NewRouter(cfg *config.RuntimeConfig, logger logging.Logger, factory func(model string) Provider) *Router {
	r := &Router{
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		usage:   NewUsageTracker(),
		clients: map[string]Provider{},
	}
	if factory == nil {
		factory = func(model string) Provider {
			return NewRetryClient(NewOpenAIClient(ClientConfig{
				Model:   model,
				APIKey:  cfg.APIKey,
				BaseURL: cfg.BaseURL,
				Timeout: cfg.RequestTimeout(),
				Logger:  r.logger,
			}), r.logger)
		}
	}
	r.build = factory
	return r
}

// Usage returns the router's accumulated usage tracker.
func (r *Router) Usage() *UsageTracker { return r.usage }

// ProviderFor returns the provider handling a purpose.
func (r *Router) ProviderFor(purpose string) Provider {
	model := r.cfg.ModelFor(purpose)
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.clients[model]; ok {
		return p
	}
	p := r.build(model)
	r.clients[model] = p
	return p
}

// Complete routes one completion call by purpose, applying the request
// timeout and configured defaults, and records usage against the purpose.
func (r *Router) Complete(ctx context.Context, purpose string, req CompletionRequest) (*CompletionResponse, error) {
	if req.Temperature == 0 {
		req.Temperature = r.cfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = r.cfg.MaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout())
	defer cancel()

	start := time.Now()
	resp, err := r.ProviderFor(purpose).Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	r.usage.Record(purpose, resp.Usage)
	r.logger.Debug("llm: purpose=%s model=%s tokens=%d elapsed=%s",
		purpose, r.cfg.ModelFor(purpose), resp.Usage.TotalTokens, time.Since(start).Round(time.Millisecond))
	return resp, nil
}

// UsageTracker accumulates token usage per purpose and in total.
type UsageTracker struct {
	mu        sync.Mutex
	total     TokenUsage
	byPurpose map[string]TokenUsage
}

// NewUsageTracker returns an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{byPurpose: map[string]TokenUsage{}}
}

// Record adds one call's usage under a purpose.
func (t *UsageTracker) Record(purpose string, usage TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.Add(usage)
	u := t.byPurpose[purpose]
	u.Add(usage)
	t.byPurpose[purpose] = u
}

// Total returns the accumulated usage across all purposes.
func (t *UsageTracker) Total() TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByPurpose returns a copy of the per-purpose breakdown.
func (t *UsageTracker) ByPurpose() map[string]TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TokenUsage, len(t.byPurpose))
	for k, v := range t.byPurpose {
		out[k] = v
	}
	return out
}
