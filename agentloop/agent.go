package agentloop

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Fallback texts for synchronous replies.
const (
	NoResponseText = "No response generated"
	EchoText       = "(No additional response generated by AI.)"
)

// ErrStreamConsumed is reported when a stream is ranged a second time.
var ErrStreamConsumed = errors.New("stream already consumed")

// Reply is the result of a synchronous Chat.
type Reply struct {
	ConversationID string  `json:"conversation_id"`
	Text           string  `json:"response"`
	Outcome        Outcome `json:"outcome"`
	Steps          int     `json:"steps"`
}

// Status summarizes the agent for health reporting.
type Status struct {
	DecisionEngineAvailable bool     `json:"decision_engine_available"`
	Budget                  int      `json:"budget"`
	Conversations           []string `json:"conversations"`
}

// Agent runs the loop against per-conversation stores. Runs on the same
// conversation are serialized; different conversations run independently.
type Agent struct {
	loop          *Loop
	decider       Decider
	conversations *Conversations
	logger        *zap.Logger
}

// NewAgent creates an agent around loop.
func NewAgent(loop *Loop, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		loop:          loop,
		decider:       loop.decider,
		conversations: NewConversations(),
		logger:        logger.Named("agent"),
	}
}

// Conversations exposes the per-conversation stores.
func (a *Agent) Conversations() *Conversations { return a.conversations }

// Chat runs one request to completion and returns the final text.
func (a *Agent) Chat(ctx context.Context, conversationID, text string) (Reply, error) {
	conv := a.conversations.Get(conversationID)
	conv.run.Lock()
	defer conv.run.Unlock()

	history, gen := conv.Store.Snapshot()
	history = append(history, NewHuman(text))

	res, err := a.loop.Run(ctx, history, nil)
	if err != nil {
		a.logger.Warn("run aborted", zap.String("conversation_id", conv.ID), zap.Error(err))
		return Reply{ConversationID: conv.ID}, err
	}
	a.commit(conv, gen, res)

	return Reply{
		ConversationID: conv.ID,
		Text:           replyText(res.Final, text),
		Outcome:        res.Outcome,
		Steps:          res.Steps,
	}, nil
}

// Stream returns a lazy sequence of events for one request. Nothing runs
// until the sequence is ranged, and it can be ranged only once. Messages
// whose text repeats the request are not yielded. If the consumer stops
// early no further decisions are made and nothing is committed.
func (a *Agent) Stream(ctx context.Context, conversationID, text string) iter.Seq[Event] {
	var used atomic.Bool
	return func(yield func(Event) bool) {
		if used.Swap(true) {
			yield(errorEvent(ErrStreamConsumed))
			return
		}

		conv := a.conversations.Get(conversationID)
		conv.run.Lock()
		defer conv.run.Unlock()

		history, gen := conv.Store.Snapshot()
		history = append(history, NewHuman(text))

		observe := func(m Message) bool {
			if sameText(m.Text(), text) {
				return true
			}
			return yield(messageEvent(m))
		}

		res, err := a.loop.Run(ctx, history, observe)
		switch {
		case errors.Is(err, ErrStopped):
			a.logger.Info("stream consumer left", zap.String("conversation_id", conv.ID))
			return
		case err != nil:
			a.logger.Warn("stream run aborted", zap.String("conversation_id", conv.ID), zap.Error(err))
			yield(errorEvent(err))
			return
		}
		a.commit(conv, gen, res)
		yield(endEvent())
	}
}

// Clear empties a conversation. A run in progress on it finishes but its
// result is discarded.
func (a *Agent) Clear(conversationID string) {
	if conv, ok := a.conversations.Lookup(conversationID); ok {
		conv.Store.Clear()
	}
}

// ClearAll empties every conversation.
func (a *Agent) ClearAll() {
	a.conversations.ClearAll()
}

// History returns a copy of a conversation.
func (a *Agent) History(conversationID string) []Message {
	conv, ok := a.conversations.Lookup(conversationID)
	if !ok {
		return nil
	}
	return conv.Store.Messages()
}

// Status reports engine availability and known conversations.
func (a *Agent) Status() Status {
	available := true
	if d, ok := a.decider.(interface{ Available() bool }); ok {
		available = d.Available()
	}
	return Status{
		DecisionEngineAvailable: available,
		Budget:                  a.loop.Budget(),
		Conversations:           a.conversations.IDs(),
	}
}

func (a *Agent) commit(conv *Conversation, gen uint64, res Result) {
	if !conv.Store.CommitIf(gen, res.Conversation) {
		a.logger.Info("conversation cleared during run, result dropped",
			zap.String("conversation_id", conv.ID))
		return
	}
	a.logger.Debug("run committed",
		zap.String("conversation_id", conv.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("steps", res.Steps),
		zap.Int("appended", len(res.Appended)))
}

func replyText(final, input string) string {
	if strings.TrimSpace(final) == "" {
		return NoResponseText
	}
	if sameText(final, input) {
		return EchoText
	}
	return final
}
