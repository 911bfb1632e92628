// Package unifiedllm provides a provider-agnostic LLM client with native tool
// calling. Gemini is served by the google.golang.org/genai SDK; OpenAI and
// Anthropic are served through github.com/teilomillet/gollm.
//
// # Architecture
//
//   - Provider layer: ProviderAdapter and the shared message types
//   - Utilities: Retry, RetryMiddleware, error classification
//   - Client: provider routing and middleware (logging, retries)
//
// # Quick Start
//
//	client := unifiedllm.NewClientFromSettings(ctx, unifiedllm.ProviderSettings{
//	    Provider:     "gemini",
//	    GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
//	}, logger)
//
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	    ToolDefs: []unifiedllm.ToolDefinition{sendCommand},
//	})
//	for _, call := range resp.ToolCallsFromResponse() {
//	    cmd, _ := call.StringArg("cmd")
//	    ...
//	}
//
// A client with no configured provider still constructs; every Complete then
// fails with a ConfigurationError, which IsUnavailable reports as true.
package unifiedllm
