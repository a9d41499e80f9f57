package policyrule

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
)

// CELRule is an optional, expression-based Rule: a CEL boolean expression
// evaluated against the entity (flattened to a map via JSON) and the
// caller-supplied evaluation context. It slots in alongside the built-in
// TTL and tag-access rules as just another pluggable Rule implementation.
//
// The expression sees two top-level variables: "entity" (a dynamic map
// produced by marshaling the entity through encoding/json) and "context"
// (the caller-supplied map[string]any, copied as-is). A non-boolean result
// or a runtime evaluation error fails closed: Passed is false. Compile
// errors are returned by NewCELRule instead.
type CELRule struct {
	name   string
	desc   string
	prio   int32
	source string
	prg    cel.Program
}

var celEnv = func() *cel.Env {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("entity", types.DynType),
			decls.NewVariable("context", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		panic(fmt.Sprintf("policyrule: failed to build CEL environment: %v", err))
	}
	return env
}()

// NewCELRule compiles source into a reusable rule. Compilation errors are
// returned immediately rather than deferred to first evaluation.
func NewCELRule(name, description string, priority int32, source string) (*CELRule, error) {
	ast, issues := celEnv.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policyrule: CEL compilation failed: %w", issues.Err())
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policyrule: CEL program construction failed: %w", err)
	}
	return &CELRule{name: name, desc: description, prio: priority, source: source, prg: prg}, nil
}

func (r *CELRule) Name() string        { return r.name }
func (r *CELRule) Description() string { return r.desc }
func (r *CELRule) Priority() int32     { return r.prio }
func (r *CELRule) TypeID() TypeID      { return TypeCELRule }

func (r *CELRule) Evaluate(entity any, evalContext map[string]any) EvaluationResult {
	entityMap, err := toDynamicMap(entity)
	if err != nil {
		return EvaluationResult{Passed: false, Reason: fmt.Sprintf("entity not representable for CEL: %v", err)}
	}
	if evalContext == nil {
		evalContext = map[string]any{}
	}
	out, _, err := r.prg.Eval(map[string]any{"entity": entityMap, "context": evalContext})
	if err != nil {
		return EvaluationResult{Passed: false, Reason: fmt.Sprintf("CEL evaluation error: %v", err)}
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return EvaluationResult{Passed: false, Reason: "CEL expression did not evaluate to a boolean"}
	}
	if allowed {
		return EvaluationResult{Passed: true}
	}
	return EvaluationResult{Passed: false, Reason: fmt.Sprintf("denied by CEL rule %q", r.name), Actions: []string{"DENY"}}
}

func toDynamicMap(entity any) (any, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type celRuleWire struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int32  `json:"priority"`
	Source      string `json:"source"`
}

func (r *CELRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(celRuleWire{Name: r.name, Description: r.desc, Priority: r.prio, Source: r.source})
}

// DecodeCELRule reconstructs and recompiles a CELRule from its persisted
// source expression.
func DecodeCELRule(raw json.RawMessage) (Rule, error) {
	var w celRuleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode CEL rule: %w", err)
	}
	return NewCELRule(w.Name, w.Description, w.Priority, w.Source)
}
