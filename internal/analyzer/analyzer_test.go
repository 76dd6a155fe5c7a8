package analyzer

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// fakeModel replays a fixed sequence of responses, one per Generate call.
type fakeModel struct {
	responses []*schema.Message
	calls     int
}

func (f *fakeModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	msg := f.responses[f.calls]
	f.calls++
	return msg, nil
}

func (f *fakeModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	panic("not used")
}

func (f *fakeModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

var _ model.ToolCallingChatModel = (*fakeModel)(nil)

type echoTool struct{ name string }

func (e *echoTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: e.name, Desc: "echoes its input"}, nil
}

func (e *echoTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	return "echo:" + argumentsInJSON, nil
}

func TestRun_NoToolCallsReturnsImmediately(t *testing.T) {
	m := &fakeModel{responses: []*schema.Message{
		{Role: schema.Assistant, Content: "done"},
	}}
	r := New(m, 5)

	result, err := r.Run(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalText != "done" {
		t.Fatalf("expected final text 'done', got %q", result.FinalText)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages (user + assistant), got %d", len(result.Messages))
	}
}

func TestRun_DispatchesToolCallThenFinishes(t *testing.T) {
	m := &fakeModel{responses: []*schema.Message{
		{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{
				{ID: "tc-1", Function: schema.FunctionCall{Name: "echo", Arguments: `{"x":1}`}},
			},
		},
		{Role: schema.Assistant, Content: "final"},
	}}
	r := New(m, 5)

	var seen []ToolCall
	result, err := r.Run(context.Background(), []*schema.Message{{Role: schema.User, Content: "go"}},
		[]tool.InvokableTool{&echoTool{name: "echo"}},
		func(tc ToolCall) { seen = append(seen, tc) })
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalText != "final" {
		t.Fatalf("expected final text 'final', got %q", result.FinalText)
	}
	if len(seen) != 1 || seen[0].Output != `echo:{"x":1}` {
		t.Fatalf("unexpected tool callback trace: %+v", seen)
	}

	// the tool result message must be fed back with role=Tool and the
	// matching ToolCallID.
	var foundToolMsg bool
	for _, msg := range result.Messages {
		if msg.Role == schema.Tool && msg.ToolCallID == "tc-1" {
			foundToolMsg = true
		}
	}
	if !foundToolMsg {
		t.Fatal("expected a tool-role message carrying the tool call id")
	}
}

func TestRun_UnknownToolProducesErrorOutputButContinues(t *testing.T) {
	m := &fakeModel{responses: []*schema.Message{
		{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{
				{ID: "tc-1", Function: schema.FunctionCall{Name: "missing", Arguments: "{}"}},
			},
		},
		{Role: schema.Assistant, Content: "final"},
	}}
	r := New(m, 5)

	result, err := r.Run(context.Background(), []*schema.Message{{Role: schema.User, Content: "go"}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalText != "final" {
		t.Fatalf("expected run to continue to completion, got %q", result.FinalText)
	}
}

func TestRun_StopsAtMaxIterations(t *testing.T) {
	loop := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "tc-1", Function: schema.FunctionCall{Name: "echo", Arguments: "{}"}},
		},
	}
	m := &fakeModel{responses: []*schema.Message{loop, loop, loop}}
	r := New(m, 3)

	result, err := r.Run(context.Background(), []*schema.Message{{Role: schema.User, Content: "go"}},
		[]tool.InvokableTool{&echoTool{name: "echo"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalText != "" {
		t.Fatalf("expected no final text when the loop is cut off mid tool-call, got %q", result.FinalText)
	}
	if m.calls != 3 {
		t.Fatalf("expected exactly MaxIterations Generate calls, got %d", m.calls)
	}
}

func TestUsageAccumulatesAcrossIterations(t *testing.T) {
	m := &fakeModel{responses: []*schema.Message{
		{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{
				{ID: "tc-1", Function: schema.FunctionCall{Name: "missing", Arguments: "{}"}},
			},
			ResponseMeta: &schema.ResponseMeta{
				Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5},
			},
		},
		{Role: schema.Assistant, Content: "done", ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 3, CompletionTokens: 2},
		}},
	}}
	r := New(m, 5)

	result, err := r.Run(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Usage.InputTokens != 13 || result.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected usage: %+v", result.Usage)
	}
}
