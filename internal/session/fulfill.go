// Package session drives user turns: it asks the model for commands, runs
// them against the conversation's variables, and retries within a fixed
// budget of model calls until a function replies to the user.
//
// Architecture:
//
//	Request → Ingest → Prompt → LLM → Extract → Evaluate → (retry | Response)
//
// Turns of one conversation are serialized; different conversations run
// concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat2edit/internal/eval"
	"chat2edit/internal/llm"
	"chat2edit/internal/logging"
	"chat2edit/internal/observability"
	"chat2edit/internal/prompt"
	"chat2edit/internal/provider"
	"chat2edit/internal/types"
	"chat2edit/internal/value"
)

// FulfillConfig bounds a turn.
type FulfillConfig struct {
	// MaxPromptAttempts is the total number of model calls one turn may make.
	MaxPromptAttempts int

	// HelperPrompt is sent after an unreadable answer. Empty disables the
	// re-prompt and ends the attempt instead.
	HelperPrompt string

	// OmitExemplarsAfter leaves exemplars out once the history window holds
	// this many cycles. Zero keeps them.
	OmitExemplarsAfter int

	// Locale selects the exemplar set.
	Locale string
}

// DefaultFulfillConfig returns the defaults.
func DefaultFulfillConfig() FulfillConfig {
	return FulfillConfig{
		MaxPromptAttempts: 4,
		Locale:            "en",
	}
}

// Fulfiller runs the prompt/execute loop for one turn at a time.
type Fulfiller struct {
	client    llm.Client
	evaluator *eval.Evaluator
	assembler *prompt.Assembler
	config    FulfillConfig
	metrics   *observability.Metrics
	audit     *logging.AuditLogger
}

// NewFulfiller creates a fulfiller. metrics may be nil.
func NewFulfiller(client llm.Client, evaluator *eval.Evaluator, cfg FulfillConfig, metrics *observability.Metrics) *Fulfiller {
	if cfg.MaxPromptAttempts < 1 {
		cfg.MaxPromptAttempts = 1
	}
	logging.Session("Creating new Fulfiller (max attempts %d, helper prompt %v)", cfg.MaxPromptAttempts, cfg.HelperPrompt != "")
	return &Fulfiller{
		client:    client,
		evaluator: evaluator,
		assembler: prompt.NewAssembler(),
		config:    cfg,
		metrics:   metrics,
		audit:     logging.Audit(),
	}
}

// WithAudit returns a copy that writes audit events to a.
func (f *Fulfiller) WithAudit(a *logging.AuditLogger) *Fulfiller {
	out := *f
	out.audit = a
	return &out
}

// Config returns the fulfiller's configuration.
func (f *Fulfiller) Config() FulfillConfig { return f.config }

// Provider returns the provider the evaluator calls into.
func (f *Fulfiller) Provider() provider.Provider { return f.evaluator.Provider() }

// Prompt renders the prompt the model would see for request after history.
func (f *Fulfiller) Prompt(history []*types.ChatCycle, request types.Message) string {
	cycle := &types.ChatCycle{Request: request}
	return f.assembler.Assemble(f.input(history, cycle))
}

func (f *Fulfiller) input(history []*types.ChatCycle, current *types.ChatCycle) prompt.Input {
	p := f.evaluator.Provider()
	in := prompt.Input{
		Functions: p.Functions().Functions(),
		Cycles:    append(append([]*types.ChatCycle(nil), history...), current),
	}
	if f.config.OmitExemplarsAfter <= 0 || len(history) < f.config.OmitExemplarsAfter {
		in.Exemplars = p.Exemplars(f.config.Locale)
	}
	return in
}

// Fulfill answers request. It returns the chat cycle even when no function
// replied; the caller reports that as a failed turn. The returned error is
// reserved for host faults and cancellation.
func (f *Fulfiller) Fulfill(ctx context.Context, history []*types.ChatCycle, vars *value.Context, request types.Message) (*types.ChatCycle, error) {
	start := time.Now()
	cycle := &types.ChatCycle{ID: uuid.NewString(), Request: request}
	f.audit.TurnStart(cycle.ID, request.Text)
	logging.Session("Turn %s: %q with %d history cycles", cycle.ID, request.Text, len(history))

	attempts := 0
	for attempts < f.config.MaxPromptAttempts && cycle.Response == nil {
		if err := ctx.Err(); err != nil {
			f.audit.TurnEnd(cycle.ID, false, attempts, time.Since(start))
			return cycle, fmt.Errorf("turn cancelled: %w", err)
		}

		messages := []string{f.assembler.Assemble(f.input(history, cycle))}
		pc := &types.PromptCycle{}
		cycle.PromptCycles = append(cycle.PromptCycles, pc)

		answer, outcome := f.ask(ctx, cycle.ID, pc, messages, &attempts)
		if outcome == callFailed {
			break
		}
		if outcome == unreadable {
			// Start over with a fresh prompt while budget remains.
			continue
		}

		pc.Thinking = answer.Thinking
		pc.Commands = answer.Lines()
		res, err := f.evaluator.RunSource(ctx, answer.Commands, vars)
		if err != nil {
			if errors.Is(err, eval.ErrHostFatal) {
				f.audit.HostFatal(cycle.ID, err)
			}
			f.audit.TurnEnd(cycle.ID, false, attempts, time.Since(start))
			return cycle, err
		}
		pc.Exec = res
		f.metrics.RecordStatements(string(res.Status), len(res.RenderedCommands()))

		if res.Status == types.StatusError {
			f.audit.CommandError(cycle.ID, attempts, res.FailedCommand, res.Text)
		}
		logging.SessionDebug("Turn %s attempt %d: %s (%s)", cycle.ID, attempts, res.Status, res.Text)

		if res.Response != nil {
			if err := cycle.SetResponse(*res.Response); err != nil {
				return cycle, err
			}
		}
	}

	f.audit.TurnEnd(cycle.ID, cycle.Responded(), attempts, time.Since(start))
	logging.Session("Turn %s finished: responded=%v calls=%d in %v", cycle.ID, cycle.Responded(), attempts, time.Since(start))
	return cycle, nil
}

type askOutcome int

const (
	answered askOutcome = iota
	unreadable
	callFailed
)

// ask calls the model until it gives a readable answer or the budget runs
// out. Every call counts against attempts, failed ones included. Without a
// helper prompt an unreadable answer ends the attempt at once.
func (f *Fulfiller) ask(ctx context.Context, cycleID string, pc *types.PromptCycle, messages []string, attempts *int) (prompt.Answer, askOutcome) {
	for *attempts < f.config.MaxPromptAttempts {
		callStart := time.Now()
		raw, err := f.client.Generate(ctx, messages)
		*attempts++
		d := time.Since(callStart)
		pc.LLMDurations = append(pc.LLMDurations, d)
		f.metrics.RecordLLMCall(d, err)
		f.audit.LLMCall(cycleID, *attempts, raw, d, err)

		if err != nil {
			logging.SessionWarn("Turn %s: model call %d failed: %v", cycleID, *attempts, err)
			pc.Errors = append(pc.Errors, err.Error())
			return prompt.Answer{}, callFailed
		}
		pc.Answers = append(pc.Answers, raw)

		answer, err := prompt.Extract(raw)
		if err == nil {
			return answer, answered
		}
		f.metrics.RecordFormatError()
		f.audit.AnswerFormatError(cycleID, *attempts, raw, err)
		pc.Errors = append(pc.Errors, err.Error())
		logging.SessionDebug("Turn %s: unreadable answer on call %d: %v", cycleID, *attempts, err)

		if f.config.HelperPrompt == "" {
			return prompt.Answer{}, unreadable
		}
		messages = append(messages, raw, f.config.HelperPrompt)
	}
	return prompt.Answer{}, unreadable
}
