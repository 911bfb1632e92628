package agentloop

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/martinemde/termagent/shell"
)

// DefaultBudget is the maximum number of decision cycles per run.
const DefaultBudget = 35

// Texts of the Decisions synthesized when the engine fails.
const (
	unavailableText   = "Error: AI model is not available"
	decisionErrPrefix = "Error processing request: "
)

// ErrStopped is returned when the observer asks the loop to stop.
var ErrStopped = errors.New("agentloop: observer stopped the run")

// Outcome says how a run ended.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	OutcomeUnavailable     Outcome = "unavailable"
	OutcomeDecisionFailed  Outcome = "decision_failed"
)

// Result is the outcome of one run. Conversation is the full working copy
// and Appended the messages the run added to it. The caller commits.
type Result struct {
	Conversation []Message
	Appended     []Message
	Final        string
	Outcome      Outcome
	Steps        int
}

// LoopConfig holds the limits of a run.
type LoopConfig struct {
	Budget         int
	MaxOutputChars int
	MaxOutputLines int
	LoopWindow     int
}

// DefaultLoopConfig returns the default limits.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Budget:         DefaultBudget,
		MaxOutputChars: DefaultMaxOutputChars,
		MaxOutputLines: DefaultMaxOutputLines,
		LoopWindow:     DefaultLoopWindow,
	}
}

// Loop alternates decisions and command dispatch until a Decision requests
// no actions or the budget runs out.
type Loop struct {
	decider  Decider
	executor shell.Executor
	config   LoopConfig
	logger   *zap.Logger
}

// NewLoop creates a loop. A non-positive budget uses DefaultBudget.
func NewLoop(decider Decider, executor shell.Executor, cfg LoopConfig, logger *zap.Logger) *Loop {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		decider:  decider,
		executor: executor,
		config:   cfg,
		logger:   logger.Named("loop"),
	}
}

// Budget returns the maximum number of decision cycles per run.
func (l *Loop) Budget() int { return l.config.Budget }

// Run drives history to a terminal Decision. observe, when non-nil, sees
// each appended message before the next decision cycle; returning false
// stops the run with ErrStopped. A done ctx stops the run with ctx.Err()
// before the next decision or the next action in a batch. Commands already
// sent are never interrupted.
func (l *Loop) Run(ctx context.Context, history []Message, observe func(Message) bool) (Result, error) {
	conv := make([]Message, len(history), len(history)+8)
	copy(conv, history)
	start := len(conv)

	emit := func(m Message) error {
		conv = append(conv, m)
		if observe != nil && !observe(m) {
			return ErrStopped
		}
		return nil
	}
	result := func(final string, outcome Outcome, steps int) Result {
		return Result{
			Conversation: conv,
			Appended:     conv[start:],
			Final:        final,
			Outcome:      outcome,
			Steps:        steps,
		}
	}

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		decision, err := l.decider.Decide(ctx, conv)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			text, outcome := synthesize(err)
			l.logger.Error("decision failed", zap.Int("step", step), zap.Error(err))
			if emitErr := emit(NewDecision(DecisionMessage{Text: text})); emitErr != nil {
				return Result{}, emitErr
			}
			return result(text, outcome, step), nil
		}

		if err := emit(NewDecision(decision)); err != nil {
			return Result{}, err
		}
		if len(decision.Actions) == 0 {
			return result(decision.Text, OutcomeCompleted, step), nil
		}

		for i, action := range decision.Actions {
			// The first action of a batch is already committed to by the
			// decision; later ones are not started once ctx is done.
			if i > 0 {
				if err := ctx.Err(); err != nil {
					return Result{}, err
				}
			}
			if err := emit(l.dispatch(ctx, action)); err != nil {
				return Result{}, err
			}
		}

		if DetectLoop(conv, l.config.LoopWindow) {
			l.logger.Warn("repeated commands detected",
				zap.Int("window", l.config.LoopWindow),
				zap.Int("step", step))
		}

		if step >= l.config.Budget {
			l.logger.Warn("step budget exhausted", zap.Int("budget", l.config.Budget))
			return result(decision.Text, OutcomeBudgetExhausted, step), nil
		}
	}
}

// dispatch runs one action. The send is detached from ctx so a departing
// client cannot leave the shell mid-command.
func (l *Loop) dispatch(ctx context.Context, action Action) Message {
	output, err := l.executor.Send(context.WithoutCancel(ctx), action.Command)
	if err != nil {
		l.logger.Warn("command failed",
			zap.String("action_id", action.ID),
			zap.String("command", action.Command),
			zap.Error(err))
		return NewActionResult(action.ID,
			fmt.Sprintf("Error executing command '%s': %v", action.Command, err), true)
	}
	l.logger.Debug("command executed",
		zap.String("action_id", action.ID),
		zap.String("command", action.Command),
		zap.Int("output_bytes", len(output)))
	return NewActionResult(action.ID,
		TruncateCommandOutput(output, l.config.MaxOutputChars, l.config.MaxOutputLines), false)
}

func synthesize(err error) (string, Outcome) {
	if errors.Is(err, ErrDecisionUnavailable) {
		return unavailableText, OutcomeUnavailable
	}
	var de *DecisionError
	if errors.As(err, &de) && de.Cause != nil {
		err = de.Cause
	}
	return decisionErrPrefix + err.Error(), OutcomeDecisionFailed
}
