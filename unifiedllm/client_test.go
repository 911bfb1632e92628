package unifiedllm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	requests []Request
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:       "test_resp",
			Model:    "test-model",
			Provider: name,
			Message: Message{
				Role:    RoleAssistant,
				Content: []ContentPart{TextPart(text)},
			},
			FinishReason: FinishReason{Reason: "stop"},
			Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Text())
	assert.Equal(t, "test-provider", resp.Provider)
	require.Len(t, mock.requests, 1)
	assert.Equal(t, "test-provider", mock.requests[0].Provider)
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	gemini := newMockAdapter("gemini", "Gemini response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("gemini", gemini),
		WithDefaultProvider("openai"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		Messages: []Message{UserMessage("Hi")},
		Provider: "gemini",
	})
	require.NoError(t, err)
	assert.Equal(t, "Gemini response", resp.Text())

	resp, err = client.Complete(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []Message{UserMessage("Hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "OpenAI response", resp.Text())
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.True(t, IsUnavailable(err))
	assert.False(t, client.HasProviders())
}

func TestClientUnregisteredDefault(t *testing.T) {
	client := NewClient(
		WithProvider("openai", newMockAdapter("openai", "x")),
		WithDefaultProvider("gemini"),
	)
	_, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), `"gemini"`)
}

func TestClientMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(label string) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			order = append(order, label+"-before")
			resp, err := next(ctx, req)
			order = append(order, label+"-after")
			return resp, err
		}
	}

	client := NewClient(
		WithProvider("p", newMockAdapter("p", "ok")),
		WithMiddleware(mw("first"), mw("second")),
	)
	_, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"first-before", "second-before", "second-after", "first-after"}, order)
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	client.RegisterProvider("gemini", newMockAdapter("gemini", "hi"))

	assert.True(t, client.HasProviders())
	assert.Equal(t, "gemini", client.DefaultProvider())
}

func TestClientAutoSingleProviderDefault(t *testing.T) {
	client := NewClient(WithProvider("only", newMockAdapter("only", "x")))
	assert.Equal(t, "only", client.DefaultProvider())
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	ok := newMockAdapter("p", "ok")
	client := NewClient(WithProvider("p", ok), WithMiddleware(LoggingMiddleware(logger)))
	_, err := client.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("Hi")}})
	require.NoError(t, err)

	entries := logs.FilterMessage("llm completion").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "p", entries[0].ContextMap()["provider"])
	assert.EqualValues(t, 30, entries[0].ContextMap()["total_tokens"])

	failing := &mockAdapter{name: "p", err: errors.New("boom")}
	client = NewClient(WithProvider("p", failing), WithMiddleware(LoggingMiddleware(logger)))
	_, err = client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("llm completion failed").Len())
}

func TestNewClientFromSettingsWithoutKeys(t *testing.T) {
	client := NewClientFromSettings(context.Background(), ProviderSettings{Provider: "gemini"}, nil)
	assert.False(t, client.HasProviders())

	_, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	assert.True(t, IsUnavailable(err))
}
