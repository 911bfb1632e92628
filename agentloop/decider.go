package agentloop

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/martinemde/termagent/unifiedllm"
)

const (
	sendCommandTool = "send_command"
	commandArg      = "cmd"
)

var (
	// ErrDecisionUnavailable means no engine could be reached at all.
	ErrDecisionUnavailable = errors.New("decision engine unavailable")
	// ErrDecisionFailed means the engine was reached but the call failed.
	ErrDecisionFailed = errors.New("decision failed")
)

// DecisionError wraps an engine failure.
type DecisionError struct {
	Cause error
}

func (e *DecisionError) Error() string {
	if e.Cause == nil {
		return ErrDecisionFailed.Error()
	}
	return ErrDecisionFailed.Error() + ": " + e.Cause.Error()
}

func (e *DecisionError) Unwrap() error { return e.Cause }

// Is matches ErrDecisionFailed.
func (e *DecisionError) Is(target error) bool { return target == ErrDecisionFailed }

// Decider produces the next Decision for a conversation.
type Decider interface {
	Decide(ctx context.Context, history []Message) (DecisionMessage, error)
}

// Completer is the part of unifiedllm.Client the decider uses.
type Completer interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// LLMDecider asks a language model which commands to run next.
type LLMDecider struct {
	client       Completer
	provider     string
	model        string
	systemPrompt string
	temperature  *float64
	logger       *zap.Logger
}

// DeciderOption configures an LLMDecider.
type DeciderOption func(*LLMDecider)

// WithModel selects the provider and model. Empty values use the client
// defaults.
func WithModel(provider, model string) DeciderOption {
	return func(d *LLMDecider) {
		d.provider = provider
		d.model = model
	}
}

// WithSystemPrompt replaces the system instruction.
func WithSystemPrompt(prompt string) DeciderOption {
	return func(d *LLMDecider) { d.systemPrompt = prompt }
}

// WithDeciderTemperature sets the sampling temperature.
func WithDeciderTemperature(t float64) DeciderOption {
	return func(d *LLMDecider) { d.temperature = &t }
}

// WithDeciderLogger sets the logger.
func WithDeciderLogger(logger *zap.Logger) DeciderOption {
	return func(d *LLMDecider) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewLLMDecider creates a decider on top of client.
func NewLLMDecider(client Completer, opts ...DeciderOption) *LLMDecider {
	d := &LLMDecider{
		client:       client,
		systemPrompt: BuildSystemPrompt(DefaultEnvironment("")),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("decider")
	return d
}

// Available reports whether the client has at least one provider.
func (d *LLMDecider) Available() bool {
	if d.client == nil {
		return false
	}
	if p, ok := d.client.(interface{ HasProviders() bool }); ok {
		return p.HasProviders()
	}
	return true
}

// SendCommandTool is the single tool advertised to the model.
func SendCommandTool() unifiedllm.ToolDefinition {
	return unifiedllm.ToolDefinition{
		Name:        sendCommandTool,
		Description: "Run one command in the persistent shell session and return its combined output.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				commandArg: map[string]interface{}{
					"type":        "string",
					"description": "The command to run.",
				},
			},
			"required": []string{commandArg},
		},
	}
}

// Decide sends the conversation to the model and maps tool calls to Actions.
func (d *LLMDecider) Decide(ctx context.Context, history []Message) (DecisionMessage, error) {
	if !d.Available() {
		return DecisionMessage{}, ErrDecisionUnavailable
	}

	req := unifiedllm.Request{
		Model:       d.model,
		Provider:    d.provider,
		Messages:    append([]unifiedllm.Message{unifiedllm.SystemMessage(d.systemPrompt)}, toLLMMessages(history)...),
		ToolDefs:    []unifiedllm.ToolDefinition{SendCommandTool()},
		ToolChoice:  &unifiedllm.ToolChoice{Mode: "auto"},
		Temperature: d.temperature,
	}

	resp, err := d.client.Complete(ctx, req)
	if err != nil {
		if unifiedllm.IsUnavailable(err) {
			return DecisionMessage{}, fmt.Errorf("%w: %w", ErrDecisionUnavailable, err)
		}
		return DecisionMessage{}, &DecisionError{Cause: err}
	}

	decision := DecisionMessage{
		Text:  resp.Text(),
		Usage: resp.Usage,
	}
	seen := make(map[string]bool)
	for _, tc := range resp.ToolCallsFromResponse() {
		id := tc.ID
		if id == "" || seen[id] {
			id = "call_" + uuid.NewString()[:8]
		}
		seen[id] = true
		cmd, ok := tc.StringArg(commandArg)
		if tc.Name != sendCommandTool || !ok {
			d.logger.Warn("malformed tool call",
				zap.String("tool", tc.Name),
				zap.ByteString("arguments", tc.Arguments))
		}
		decision.Actions = append(decision.Actions, Action{ID: id, Command: cmd})
	}
	return decision, nil
}
