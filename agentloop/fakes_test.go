package agentloop

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/martinemde/termagent/shell"
)

func TestMain(m *testing.M) {
	// genai's opencensus dependency starts its stats worker in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type decideFunc func(history []Message) (DecisionMessage, error)

// scriptedDecider replays steps in order and repeats the last one.
type scriptedDecider struct {
	mu        sync.Mutex
	steps     []decideFunc
	calls     int
	histories [][]Message
}

func newScriptedDecider(steps ...decideFunc) *scriptedDecider {
	return &scriptedDecider{steps: steps}
}

func (d *scriptedDecider) Decide(_ context.Context, history []Message) (DecisionMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshot := make([]Message, len(history))
	copy(snapshot, history)
	d.histories = append(d.histories, snapshot)
	i := d.calls
	if i >= len(d.steps) {
		i = len(d.steps) - 1
	}
	d.calls++
	return d.steps[i](history)
}

func (d *scriptedDecider) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func answer(text string) decideFunc {
	return func([]Message) (DecisionMessage, error) {
		return DecisionMessage{Text: text}, nil
	}
}

func run(text string, commands ...string) decideFunc {
	return func(history []Message) (DecisionMessage, error) {
		d := DecisionMessage{Text: text}
		for i, cmd := range commands {
			d.Actions = append(d.Actions, Action{ID: fmt.Sprintf("call_%d_%d", len(history), i), Command: cmd})
		}
		return d, nil
	}
}

func fail(err error) decideFunc {
	return func([]Message) (DecisionMessage, error) {
		return DecisionMessage{}, err
	}
}

// fakeExecutor answers commands from a table. Unknown commands echo back.
type fakeExecutor struct {
	mu       sync.Mutex
	outputs  map[string]string
	errors   map[string]error
	hooks    map[string]func()
	commands []string
	ctxErrs  []error
}

var _ shell.Executor = (*fakeExecutor)(nil)

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		outputs: make(map[string]string),
		errors:  make(map[string]error),
		hooks:   make(map[string]func()),
	}
}

func (e *fakeExecutor) Send(ctx context.Context, command string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	if hook, ok := e.hooks[command]; ok {
		hook()
	}
	e.ctxErrs = append(e.ctxErrs, ctx.Err())
	if err, ok := e.errors[command]; ok {
		return "", err
	}
	if out, ok := e.outputs[command]; ok {
		return out, nil
	}
	return "ran " + command, nil
}

func (e *fakeExecutor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func kinds(msgs []Message) []MessageKind {
	out := make([]MessageKind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text()
	}
	return out
}
