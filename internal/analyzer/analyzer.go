// Package analyzer hosts the tool-calling chat loop shared by the insight
// scheduler (C8) and the cron runner (C9): both need an external chat model
// to reason over a prompt with SQL-over-Store and schema tools available,
// and both need every tool call observed so its caller can turn it into
// events. The loop itself is a plain Generate/WithTools round-trip against
// eino's model.ToolCallingChatModel rather than the teacher's heavier ADK
// Runner (internal/agent), which is built for a conversational, streaming,
// persona-driven assistant and does not fit a headless scheduled batch job.
package analyzer

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/agentflow/agentflow/internal/models"
)

// Usage accumulates token consumption across every Generate call in a run.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCall is one observed tool invocation, for callers that want to turn
// it into tool.start/tool.end events (the cron runner) or just log it (the
// insight scheduler).
type ToolCall struct {
	Name   string
	Input  string
	Output string
	Err    error
}

// ToolCallback is invoked synchronously after each tool call resolves.
type ToolCallback func(ToolCall)

// Result is the outcome of a Run: the full message transcript, the final
// assistant text, and accumulated usage — matching the Analyzer external
// interface in spec.md §6 (`run(prompt, tools[], callback) → {messages[],
// usage?, model?}`).
type Result struct {
	Messages  []*schema.Message
	FinalText string
	Usage     Usage
}

// Runner drives a bounded tool-calling loop against a single chat model.
type Runner struct {
	Model         model.ToolCallingChatModel
	MaxIterations int
}

// New builds a Runner with a default of 15 iterations if maxIterations <= 0,
// matching the cron runner's spec'd bound (§4.9).
func New(m model.ToolCallingChatModel, maxIterations int) *Runner {
	if maxIterations <= 0 {
		maxIterations = 15
	}
	return &Runner{Model: m, MaxIterations: maxIterations}
}

// Run executes messages against the model, dispatching any tool calls the
// model requests against tools by name, until the model stops requesting
// tools or MaxIterations is exhausted. onToolCall may be nil.
func (r *Runner) Run(ctx context.Context, messages []*schema.Message, tools []tool.InvokableTool, onToolCall ToolCallback) (Result, error) {
	bound := r.Model
	byName := make(map[string]tool.InvokableTool, len(tools))

	if len(tools) > 0 {
		infos := make([]*schema.ToolInfo, 0, len(tools))
		for _, t := range tools {
			info, err := t.Info(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("analyzer: tool info: %w", err)
			}
			infos = append(infos, info)
			byName[info.Name] = t
		}

		withTools, err := r.Model.WithTools(infos)
		if err != nil {
			return Result{}, fmt.Errorf("analyzer: bind tools: %w", err)
		}
		bound = withTools
	}

	var usage Usage
	var finalText string

	for i := 0; i < r.MaxIterations; i++ {
		msg, err := bound.Generate(ctx, messages)
		if err != nil {
			return Result{Messages: messages, Usage: usage}, fmt.Errorf("analyzer: generate: %w", models.HandleError(err))
		}
		messages = append(messages, msg)
		accumulate(&usage, msg)

		if len(msg.ToolCalls) == 0 {
			finalText = msg.Content
			break
		}

		for _, tc := range msg.ToolCalls {
			t, ok := byName[tc.Function.Name]
			var output string
			var runErr error
			if !ok {
				runErr = fmt.Errorf("analyzer: unknown tool %q", tc.Function.Name)
			} else {
				output, runErr = t.InvokableRun(ctx, tc.Function.Arguments)
			}
			if runErr != nil {
				output = "error: " + runErr.Error()
			}
			if onToolCall != nil {
				onToolCall(ToolCall{Name: tc.Function.Name, Input: tc.Function.Arguments, Output: output, Err: runErr})
			}

			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    output,
				ToolCallID: tc.ID,
			})
		}
	}

	return Result{Messages: messages, FinalText: finalText, Usage: usage}, nil
}

func accumulate(u *Usage, msg *schema.Message) {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return
	}
	u.InputTokens += msg.ResponseMeta.Usage.PromptTokens
	u.OutputTokens += msg.ResponseMeta.Usage.CompletionTokens
}
