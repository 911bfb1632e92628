package main

import (
	"bytes"
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/termagent/agentloop"
)

type recordingAgent struct {
	requests []string
}

func (r *recordingAgent) Stream(_ context.Context, _ string, text string) iter.Seq[agentloop.Event] {
	r.requests = append(r.requests, text)
	return func(yield func(agentloop.Event) bool) {
		events := []agentloop.Event{
			{Type: agentloop.EventMessage, Kind: agentloop.KindDecision, Content: "running " + text},
			{Type: agentloop.EventMessage, Kind: agentloop.KindActionResult, Content: "out-" + text},
			{Type: agentloop.EventEnd},
		}
		for _, ev := range events {
			if !yield(ev) {
				return
			}
		}
	}
}

func TestRunChatUntilExit(t *testing.T) {
	agent := &recordingAgent{}
	var out bytes.Buffer

	err := runChat(context.Background(), agent, "", strings.NewReader("ls\n\npwd\nexit\nnever\n"), &out, newChatStyles())
	require.NoError(t, err)

	assert.Equal(t, []string{"ls", "pwd"}, agent.requests)
	assert.Contains(t, out.String(), "running ls")
	assert.Contains(t, out.String(), "out-pwd")
	assert.NotContains(t, out.String(), "never")
}

func TestRunChatStopsAtEOF(t *testing.T) {
	agent := &recordingAgent{}
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), agent, "", strings.NewReader("date"), &out, newChatStyles()))
	assert.Equal(t, []string{"date"}, agent.requests)
}

func TestRenderEventError(t *testing.T) {
	var out bytes.Buffer
	renderEvent(&out, newChatStyles(), agentloop.Event{Type: agentloop.EventError, Content: "boom"})
	assert.Contains(t, out.String(), "Error: boom")
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "chat"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}
