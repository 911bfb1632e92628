package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/termagent/unifiedllm"
)

type fakeCompleter struct {
	resp     *unifiedllm.Response
	err      error
	requests []unifiedllm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func toolResponse(text string, calls ...unifiedllm.ContentPart) *unifiedllm.Response {
	msg := unifiedllm.AssistantMessage(text)
	msg.Content = append(msg.Content, calls...)
	return &unifiedllm.Response{Message: msg}
}

func cmdArgs(cmd string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"cmd": cmd})
	return b
}

func TestDecideMapsToolCalls(t *testing.T) {
	fc := &fakeCompleter{resp: toolResponse("Listing.",
		unifiedllm.ToolCallPart("call_1", "send_command", cmdArgs("ls -la")),
		unifiedllm.ToolCallPart("call_2", "send_command", cmdArgs("pwd")),
	)}
	d := NewLLMDecider(fc, WithModel("gemini", "gemini-2.5-flash"), WithDeciderTemperature(0.1))

	decision, err := d.Decide(context.Background(), []Message{NewHuman("what is here")})
	require.NoError(t, err)
	assert.Equal(t, "Listing.", decision.Text)
	assert.Equal(t, []Action{{ID: "call_1", Command: "ls -la"}, {ID: "call_2", Command: "pwd"}}, decision.Actions)

	require.Len(t, fc.requests, 1)
	req := fc.requests[0]
	assert.Equal(t, "gemini", req.Provider)
	assert.Equal(t, "gemini-2.5-flash", req.Model)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.1, *req.Temperature, 1e-9)
	assert.Equal(t, "auto", req.ToolChoice.Mode)
	require.Len(t, req.ToolDefs, 1)
	assert.Equal(t, "send_command", req.ToolDefs[0].Name)
	assert.Equal(t, unifiedllm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, unifiedllm.RoleUser, req.Messages[1].Role)
}

func TestDecideFillsMissingAndDuplicateIDs(t *testing.T) {
	fc := &fakeCompleter{resp: toolResponse("",
		unifiedllm.ToolCallPart("", "send_command", cmdArgs("a")),
		unifiedllm.ToolCallPart("dup", "send_command", cmdArgs("b")),
		unifiedllm.ToolCallPart("dup", "send_command", cmdArgs("c")),
	)}
	decision, err := NewLLMDecider(fc).Decide(context.Background(), []Message{NewHuman("x")})
	require.NoError(t, err)
	require.Len(t, decision.Actions, 3)

	assert.True(t, strings.HasPrefix(decision.Actions[0].ID, "call_"))
	assert.Equal(t, "dup", decision.Actions[1].ID)
	assert.NotEqual(t, "dup", decision.Actions[2].ID)
}

func TestDecideMalformedArgumentsGiveEmptyCommand(t *testing.T) {
	fc := &fakeCompleter{resp: toolResponse("",
		unifiedllm.ToolCallPart("c1", "send_command", json.RawMessage(`{"cmd": 42}`)),
	)}
	decision, err := NewLLMDecider(fc).Decide(context.Background(), []Message{NewHuman("x")})
	require.NoError(t, err)
	require.Len(t, decision.Actions, 1)
	assert.Empty(t, decision.Actions[0].Command)
}

func TestDecideErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"configuration", &unifiedllm.ConfigurationError{SDKError: unifiedllm.SDKError{Message: "no provider"}}, true},
		{"authentication", unifiedllm.ErrorFromStatusCode(401, "bad key", "gemini", "", nil), true},
		{"network", &unifiedllm.NetworkError{SDKError: unifiedllm.SDKError{Message: "dial tcp"}}, true},
		{"rate limit", unifiedllm.ErrorFromStatusCode(429, "slow down", "gemini", "", nil), false},
		{"server", unifiedllm.ErrorFromStatusCode(500, "boom", "gemini", "", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewLLMDecider(&fakeCompleter{err: tt.err})
			_, err := d.Decide(context.Background(), []Message{NewHuman("x")})
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrDecisionUnavailable))
			assert.Equal(t, !tt.unavailable, errors.Is(err, ErrDecisionFailed))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecideWithoutProviders(t *testing.T) {
	d := NewLLMDecider(unifiedllm.NewClient())
	assert.False(t, d.Available())

	_, err := d.Decide(context.Background(), []Message{NewHuman("x")})
	assert.ErrorIs(t, err, ErrDecisionUnavailable)
}

func TestToLLMMessages(t *testing.T) {
	history := []Message{
		NewHuman("list"),
		NewDecision(DecisionMessage{Text: "ok", Actions: []Action{{ID: "c1", Command: "ls"}}}),
		NewActionResult("c1", "a.txt", false),
		NewDecision(DecisionMessage{Text: "One file."}),
	}

	msgs := toLLMMessages(history)
	require.Len(t, msgs, 4)
	assert.Equal(t, unifiedllm.RoleUser, msgs[0].Role)
	assert.Equal(t, unifiedllm.RoleAssistant, msgs[1].Role)

	calls := msgs[1].ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, "send_command", calls[0].Name)
	assert.JSONEq(t, `{"cmd":"ls"}`, string(calls[0].Arguments))

	assert.Equal(t, unifiedllm.RoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "One file.", msgs[3].TextContent())
}

func TestBuildSystemPrompt(t *testing.T) {
	p := BuildSystemPrompt(Environment{Platform: "windows", Interpreter: `C:\Windows\System32\powershell.exe`, WorkDir: `C:\work`})
	assert.Contains(t, p, "Windows operating system")
	assert.Contains(t, p, "PowerShell session")
	assert.Contains(t, p, `C:\work`)

	p = BuildSystemPrompt(Environment{Platform: "linux", Interpreter: "/bin/bash"})
	assert.Contains(t, p, "linux operating system")
	assert.Contains(t, p, "persistent bash session")
	assert.Contains(t, p, "send_command")
}
