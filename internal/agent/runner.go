package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gantryml/gantry/internal/chat"
)

// PlanHeader delimits the numbered plan in model output.
const PlanHeader = "Plan:"

// ErrNoPlan is returned when the model's output contains no parseable
// plan steps.
var ErrNoPlan = errors.New("no plan steps in model output")

// Generator is the slice of the generation layer the runner needs.
type Generator interface {
	Chat(ctx context.Context, prompt, modelID string, history []chat.Entry) (string, error)
}

// Plan is a parsed task plan awaiting execution.
type Plan struct {
	Prompt   string   // the original user task
	Preamble string   // model prose preceding the plan header
	Steps    []string
}

// Runner drives the plan-then-execute loop: one generation call produces a
// numbered plan, a second call executes it, and both turns are appended to
// the conversation history.
type Runner struct {
	gen    Generator
	model  string
	logger *slog.Logger
}

// NewRunner creates a Runner generating with the given model.
func NewRunner(gen Generator, modelID string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{gen: gen, model: modelID, logger: logger}
}

// Plan asks the model for a numbered plan for prompt and parses it.
// history gives the model conversational context but is not modified.
func (r *Runner) Plan(ctx context.Context, prompt string, history []chat.Entry) (*Plan, error) {
	out, err := r.gen.Chat(ctx, planPrompt(prompt), r.model, history)
	if err != nil {
		return nil, fmt.Errorf("generating plan: %w", err)
	}

	steps := ParsePlan(PlanHeader, out)
	if len(steps) == 0 {
		r.logger.Warn("model output contained no plan", "model", r.model)
		return nil, ErrNoPlan
	}
	r.logger.Info("parsed plan", "model", r.model, "steps", len(steps))

	return &Plan{
		Prompt:   prompt,
		Preamble: strings.TrimSpace(ResponsePrefix(PlanHeader, out)),
		Steps:    steps,
	}, nil
}

// Execute runs the plan through the model and returns the final output,
// the parsed execution trace, and history extended with the task exchange.
func (r *Runner) Execute(ctx context.Context, plan *Plan, history []chat.Entry) (string, []TracePart, []chat.Entry, error) {
	out, err := r.gen.Chat(ctx, executePrompt(plan), r.model, history)
	if err != nil {
		return "", nil, nil, fmt.Errorf("executing plan: %w", err)
	}

	trace := ParseExecutionTrace(out)
	updated := append(history, chat.Exchange(plan.Prompt, out)...)
	r.logger.Info("executed plan", "model", r.model, "trace_parts", len(trace))
	return out, trace, updated, nil
}

func planPrompt(prompt string) string {
	return "Create a step by step plan to accomplish the task below. " +
		"Reply with a short rationale followed by the header \"" + PlanHeader + "\" " +
		"and a numbered list of steps, one per line.\n" +
		"Task: " + prompt
}

func executePrompt(plan *Plan) string {
	var b strings.Builder
	b.WriteString("Execute the plan provided below. ")
	b.WriteString("The plan was created by an AI Planning Assistant. ")
	fmt.Fprintf(&b, "The original task request by the human user was %q.\n", plan.Prompt)
	if plan.Preamble != "" {
		fmt.Fprintf(&b, "The response of the planning agent was %q,\n", plan.Preamble)
	}
	b.WriteString("followed by the plan listed below.\n")
	b.WriteString(PlanHeader + "\n")
	b.WriteString(strings.Join(plan.Steps, " "))
	return b.String()
}
