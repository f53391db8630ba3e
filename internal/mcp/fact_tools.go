package mcp

import (
	"context"
	"fmt"
	"time"

	"wayfinder-mcp-server/internal/mangle"
)

type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query against recorded transitions.

Recorded predicates:
- tool_state(ToolID, State, Ms)
- tool_blocker(ToolID, Blocker)
- context_change(From, To, Ms)
- navigation_step(RunID, From, To, Tool, Outcome)   Outcome is "ok" or a reason
- navigation_result(RunID, Target, Status, Reason)

Derived predicates: ever_blocked, visited_context, observed_route, failed_step,
flaky_tool, failed_navigation.

EXAMPLES:
- failed_step(Run, "open-settings", Why).
- observed_route("global", To).

Returns: {results: [{Var: value}], count}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"query": stringProp("Mangle atom ending with a period"),
	}, "query")
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

type ReadFactsTool struct {
	engine *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read the most recent recorded facts, optionally for one predicate and time window.`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"predicate": stringProp("Predicate to read (default: all)"),
		"since_ms":  integerProp("Only facts recorded after this Unix time in milliseconds"),
		"limit":     integerProp("Maximum number of facts (default 50)"),
	})
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	predicate := getStringArg(args, "predicate")

	var facts []mangle.Fact
	switch since := getIntArg(args, "since_ms", 0); {
	case predicate != "" && since > 0:
		facts = t.engine.QueryTemporal(predicate, time.UnixMilli(int64(since)), time.Time{})
	case predicate != "":
		facts = t.engine.FactsByPredicate(predicate)
	default:
		facts = t.engine.Facts()
		if since > 0 {
			cutoff := time.UnixMilli(int64(since))
			filtered := facts[:0]
			for _, f := range facts {
				if f.Timestamp.After(cutoff) {
					filtered = append(filtered, f)
				}
			}
			facts = filtered
		}
	}
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return map[string]interface{}{"facts": facts, "count": len(facts)}, nil
}

type EvaluateRuleTool struct {
	engine *mangle.Engine
}

func (t *EvaluateRuleTool) Name() string { return "evaluate-rule" }
func (t *EvaluateRuleTool) Description() string {
	return `Evaluate the program and return every fact of a predicate, derived or recorded.`
}
func (t *EvaluateRuleTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"predicate": stringProp("Predicate name, e.g. flaky_tool"),
	}, "predicate")
}
func (t *EvaluateRuleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	facts, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"predicate": predicate, "facts": facts, "count": len(facts)}, nil
}

type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add Mangle declarations and rules to the running program.

EXAMPLE:
  Decl busy_tool(ToolID).
  busy_tool(T) :- tool_blocker(T, "busy").

Then evaluate-rule with predicate busy_tool.`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"rule": stringProp("Mangle source"),
	}, "rule")
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return failure(err), nil
	}
	return map[string]interface{}{"success": true}, nil
}
