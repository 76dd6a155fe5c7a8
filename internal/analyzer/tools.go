package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// QueryStore is the subset of *store.Store the SQL tool needs. Kept as a
// narrow interface so the analyzer package never imports internal/store.
type QueryStore interface {
	Query(sqlText string) ([]map[string]any, error)
}

// sqlTool adapts QueryStore.Query to eino's tool.InvokableTool, the same
// Info/InvokableRun shape the teacher's WasmTool uses for its own native
// tool registry (internal/plugins/tool.go).
type sqlTool struct {
	store QueryStore
}

// NewSQLTool grants an analyzer run-only SQL access over the store (§4.8
// step 4, §4.9's "SQL tool over Store").
func NewSQLTool(store QueryStore) tool.InvokableTool {
	return &sqlTool{store: store}
}

func (t *sqlTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "query_store",
		Desc: "Run a read-only SELECT statement against the sessions/events store and return the matching rows as JSON.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"sql": {
				Type:     schema.String,
				Desc:     "A single SELECT statement. No INSERT/UPDATE/DELETE/DDL.",
				Required: true,
			},
		}),
	}, nil
}

func (t *sqlTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("query_store: parse arguments: %w", err)
	}

	rows, err := t.store.Query(args.SQL)
	if err != nil {
		return "", fmt.Errorf("query_store: %w", err)
	}

	out, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("query_store: marshal result: %w", err)
	}
	return string(out), nil
}

var _ tool.InvokableTool = (*sqlTool)(nil)

// schemaTool returns the store's table layout verbatim, so the analyzer can
// form valid SELECT statements without guessing column names.
type schemaTool struct {
	text string
}

// NewSchemaTool grants an analyzer a fixed-text schema-introspection tool
// (§4.8 step 4, §4.9's "schema tool").
func NewSchemaTool(schemaText string) tool.InvokableTool {
	return &schemaTool{text: schemaText}
}

func (t *schemaTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "describe_schema",
		Desc: "Return the store's table layout (columns and types) so query_store statements can be written correctly.",
	}, nil
}

func (t *schemaTool) InvokableRun(_ context.Context, _ string, _ ...tool.Option) (string, error) {
	return t.text, nil
}

var _ tool.InvokableTool = (*schemaTool)(nil)
