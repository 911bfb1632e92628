package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martinemde/termagent/agentloop"
	"github.com/martinemde/termagent/shell"
)

// stepDecider runs each listed command once, then answers.
type stepDecider struct {
	mu       sync.Mutex
	commands []string
	answer   string
	err      error
}

func (d *stepDecider) Decide(_ context.Context, history []agentloop.Message) (agentloop.DecisionMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return agentloop.DecisionMessage{}, d.err
	}
	if len(d.commands) > 0 {
		cmd := d.commands[0]
		d.commands = d.commands[1:]
		return agentloop.DecisionMessage{Actions: []agentloop.Action{{ID: "call_" + cmd, Command: cmd}}}, nil
	}
	return agentloop.DecisionMessage{Text: d.answer}, nil
}

type echoExecutor struct{}

func (echoExecutor) Send(_ context.Context, command string) (string, error) {
	if command == "fail" {
		return "", shell.ErrSessionTimeout
	}
	return "output of " + command, nil
}

type fakeShell struct {
	restarts int
	err      error
}

func (f *fakeShell) Status() shell.Status {
	return shell.Status{Alive: true, PID: 42, Interpreter: "bash", StartedAt: time.Now().Add(-time.Minute)}
}

func (f *fakeShell) Restart() error {
	f.restarts++
	return f.err
}

func newTestServer(t *testing.T, d agentloop.Decider, opts Options) (*Server, *agentloop.Agent, *fakeShell) {
	t.Helper()
	loop := agentloop.NewLoop(d, echoExecutor{}, agentloop.DefaultLoopConfig(), zap.NewNop())
	agent := agentloop.NewAgent(loop, zap.NewNop())
	sh := &fakeShell{}
	return New(agent, sh, opts, zap.NewNop()), agent, sh
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestChat(t *testing.T) {
	srv, agent, _ := newTestServer(t, &stepDecider{commands: []string{"ls"}, answer: "Two files."}, Options{})

	w := do(t, srv, http.MethodPost, "/api/chat", `{"message":"list files"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Two files.", body["response"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, agentloop.DefaultConversationID, body["conversation_id"])

	assert.Len(t, agent.History(""), 4)
}

func TestChatValidation(t *testing.T) {
	srv, agent, _ := newTestServer(t, &stepDecider{answer: "ok"}, Options{MaxMessageLength: 5})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `nope`, "No JSON data provided"},
		{"missing", `{}`, "No message provided"},
		{"blank", `{"message":"   "}`, "No message provided"},
		{"too long", `{"message":"abcdef"}`, "Message too long"},
		{"bad conversation", `{"message":"hi","conversation_id":"` + strings.Repeat("x", 200) + `"}`, "Invalid conversation_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["error"])
		})
	}
	assert.Empty(t, agent.History(""))
}

func TestChatCountsRunesNotBytes(t *testing.T) {
	srv, _, _ := newTestServer(t, &stepDecider{answer: "ok"}, Options{MaxMessageLength: 5})
	w := do(t, srv, http.MethodPost, "/api/chat", `{"message":"héllo"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatEngineUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t, &stepDecider{err: agentloop.ErrDecisionUnavailable}, Options{})

	w := do(t, srv, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Error: AI model is not available", body["response"])
}

func TestChatDecisionFailed(t *testing.T) {
	srv, _, _ := newTestServer(t, &stepDecider{err: &agentloop.DecisionError{Cause: errors.New("boom")}}, Options{})

	w := do(t, srv, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Error processing request: boom", decode(t, w)["response"])
}

func TestStream(t *testing.T) {
	srv, agent, _ := newTestServer(t, &stepDecider{commands: []string{"ls", "fail"}, answer: "Done."}, Options{})

	w := do(t, srv, http.MethodPost, "/api/stream", `{"message":"go","conversation_id":"abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSuffix(w.Body.String(), "\n\n"), "\n\n")
	var events []agentloop.Event
	for _, frame := range frames {
		require.True(t, strings.HasPrefix(frame, "data: "), frame)
		var ev agentloop.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}

	require.Len(t, events, 6)
	assert.Equal(t, "output of ls", events[1].Content)
	assert.Equal(t, "Error executing command 'fail': command timed out", events[3].Content)
	assert.Equal(t, "Done.", events[4].Content)
	assert.Equal(t, agentloop.EventEnd, events[5].Type)

	assert.Len(t, agent.History("abc"), 6)
}

func TestStreamValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, &stepDecider{answer: "ok"}, Options{})
	w := do(t, srv, http.MethodPost, "/api/stream", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClear(t *testing.T) {
	srv, agent, _ := newTestServer(t, &stepDecider{answer: "ok"}, Options{})
	do(t, srv, http.MethodPost, "/api/chat", `{"message":"one","conversation_id":"a"}`)
	do(t, srv, http.MethodPost, "/api/chat", `{"message":"two","conversation_id":"b"}`)

	w := do(t, srv, http.MethodPost, "/api/clear", `{"conversation_id":"a"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Conversation history cleared", decode(t, w)["message"])
	assert.Empty(t, agent.History("a"))
	assert.Len(t, agent.History("b"), 2)

	w = do(t, srv, http.MethodPost, "/api/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, agent.History("b"))
}

func TestStatusAndHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, &stepDecider{answer: "ok"}, Options{Provider: "gemini"})

	w := do(t, srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "Terminal Agent API is running (gemini)", body["message"])
	components := body["components"].(map[string]any)
	assert.Equal(t, true, components["shell"])
	assert.Equal(t, true, components["decision_engine"])
	sh := body["shell"].(map[string]any)
	assert.EqualValues(t, 42, sh["pid"])
	assert.Equal(t, "1 minute ago", sh["uptime"])

	w = do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, map[string]any{"status": "healthy"}, decode(t, w))
}

func TestRestart(t *testing.T) {
	srv, _, sh := newTestServer(t, &stepDecider{answer: "ok"}, Options{})

	w := do(t, srv, http.MethodPost, "/api/session/restart", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sh.restarts)

	sh.err = errors.New("no bash")
	w = do(t, srv, http.MethodPost, "/api/session/restart", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, &stepDecider{answer: "ok"}, Options{})
	w := do(t, srv, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Endpoint not found", decode(t, w)["error"])
}

func TestCORS(t *testing.T) {
	srv, _, _ := newTestServer(t, &stepDecider{answer: "ok"}, Options{EnableCORS: true, AllowedOrigins: []string{"http://ui.local"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://ui.local")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://ui.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	srv, _, _ = newTestServer(t, &stepDecider{answer: "ok"}, Options{EnableCORS: true, AllowedOrigins: []string{"*"}})
	w = do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
