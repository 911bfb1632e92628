package agentloop

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/martinemde/termagent/unifiedllm"
)

// MessageKind discriminates between message variants.
type MessageKind string

const (
	KindHuman        MessageKind = "human"
	KindDecision     MessageKind = "decision"
	KindActionResult MessageKind = "action_result"
)

// Message is a single entry in a conversation. Exactly one of the variant
// pointers is set, matching Kind.
type Message struct {
	Kind         MessageKind          `json:"kind"`
	Timestamp    time.Time            `json:"timestamp"`
	Human        *HumanMessage        `json:"human,omitempty"`
	Decision     *DecisionMessage     `json:"decision,omitempty"`
	ActionResult *ActionResultMessage `json:"action_result,omitempty"`
}

// HumanMessage holds operator input.
type HumanMessage struct {
	Text string `json:"text"`
}

// DecisionMessage holds one decision cycle's output. No actions means the
// run is over.
type DecisionMessage struct {
	Text    string           `json:"text"`
	Actions []Action         `json:"actions,omitempty"`
	Usage   unifiedllm.Usage `json:"usage"`
}

// Action is one requested command. IDs are unique within their Decision.
type Action struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

// ActionResultMessage answers one Action of the preceding Decision.
type ActionResultMessage struct {
	ActionID string `json:"action_id"`
	Text     string `json:"text"`
	IsError  bool   `json:"is_error,omitempty"`
}

// NewHuman creates a human Message.
func NewHuman(text string) Message {
	return Message{
		Kind:      KindHuman,
		Timestamp: time.Now(),
		Human:     &HumanMessage{Text: text},
	}
}

// NewDecision creates a decision Message.
func NewDecision(d DecisionMessage) Message {
	return Message{
		Kind:      KindDecision,
		Timestamp: time.Now(),
		Decision:  &d,
	}
}

// NewActionResult creates an action result Message.
func NewActionResult(actionID, text string, isError bool) Message {
	return Message{
		Kind:      KindActionResult,
		Timestamp: time.Now(),
		ActionResult: &ActionResultMessage{
			ActionID: actionID,
			Text:     text,
			IsError:  isError,
		},
	}
}

// Text returns the message text regardless of its kind.
func (m Message) Text() string {
	switch m.Kind {
	case KindHuman:
		if m.Human != nil {
			return m.Human.Text
		}
	case KindDecision:
		if m.Decision != nil {
			return m.Decision.Text
		}
	case KindActionResult:
		if m.ActionResult != nil {
			return m.ActionResult.Text
		}
	}
	return ""
}

// IsTerminal reports whether m is a Decision that requests no actions.
func (m Message) IsTerminal() bool {
	return m.Kind == KindDecision && m.Decision != nil && len(m.Decision.Actions) == 0
}

// sameText compares texts the way echo suppression does.
func sameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// toLLMMessages converts the conversation into provider messages. Actions
// become send_command tool calls and results become tool results.
func toLLMMessages(history []Message) []unifiedllm.Message {
	var messages []unifiedllm.Message
	for _, m := range history {
		switch m.Kind {
		case KindHuman:
			if m.Human != nil {
				messages = append(messages, unifiedllm.UserMessage(m.Human.Text))
			}
		case KindDecision:
			if m.Decision != nil {
				msg := unifiedllm.AssistantMessage(m.Decision.Text)
				for _, a := range m.Decision.Actions {
					args, _ := json.Marshal(map[string]string{commandArg: a.Command})
					msg.Content = append(msg.Content, unifiedllm.ToolCallPart(a.ID, sendCommandTool, args))
				}
				messages = append(messages, msg)
			}
		case KindActionResult:
			if m.ActionResult != nil {
				messages = append(messages, unifiedllm.ToolResultMessage(
					m.ActionResult.ActionID, sendCommandTool, m.ActionResult.Text, m.ActionResult.IsError))
			}
		}
	}
	return messages
}
