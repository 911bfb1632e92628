package unifiedllm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client holds registered provider adapters, routes requests by provider
// identifier, and applies middleware.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// HasProviders reports whether at least one adapter is registered.
func (c *Client) HasProviders() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.providers) > 0
}

// DefaultProvider returns the provider used when a request names none.
func (c *Client) DefaultProvider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider
}

// resolveProvider determines which provider adapter to use for a request.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through middleware to the resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LoggingMiddleware logs every completion with its latency and token usage.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("llm completion failed", append(fields, zap.Error(err))...)
			return nil, err
		}
		logger.Debug("llm completion",
			append(fields,
				zap.String("finish_reason", resp.FinishReason.Reason),
				zap.Int("tool_calls", len(resp.ToolCallsFromResponse())),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
			)...)
		return resp, nil
	}
}

// ProviderSettings carries what NewClientFromSettings needs to build one
// adapter per configured provider.
type ProviderSettings struct {
	Provider    string
	Model       string
	Temperature float64
	MaxRetries  int

	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// NewClientFromSettings registers an adapter for every provider with an API
// key. The provider named by s.Provider becomes the default. A client with no
// providers is returned (not an error) so callers can report the model as
// unavailable instead of failing at startup.
func NewClientFromSettings(ctx context.Context, s ProviderSettings, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := DefaultRetryPolicy()
	policy.MaxRetries = s.MaxRetries
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Info("retrying llm call", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}

	c := NewClient(
		WithDefaultProvider(s.Provider),
		WithMiddleware(LoggingMiddleware(logger), RetryMiddleware(policy)),
	)

	modelFor := func(provider string) string {
		if provider == s.Provider {
			return s.Model
		}
		return ""
	}

	if s.GeminiAPIKey != "" {
		adapter, err := NewGenAIAdapter(ctx, s.GeminiAPIKey,
			WithGenAIModel(modelFor("gemini")),
			WithGenAITemperature(s.Temperature))
		if err != nil {
			logger.Warn("gemini adapter unavailable", zap.Error(err))
		} else {
			c.RegisterProvider("gemini", adapter)
		}
	}

	for provider, key := range map[string]string{"openai": s.OpenAIAPIKey, "anthropic": s.AnthropicAPIKey} {
		if key == "" {
			continue
		}
		adapter, err := NewGollmAdapter(provider, key,
			WithModel(modelFor(provider)),
			WithTemperature(s.Temperature))
		if err != nil {
			logger.Warn("gollm adapter unavailable", zap.String("provider", provider), zap.Error(err))
			continue
		}
		c.RegisterProvider(provider, adapter)
	}

	return c
}
