package policyrule

import (
	"encoding/json"
	"fmt"
)

// TagAccessRule is the default access-control policy: when the evaluation
// context carries an acting "role", the entity's tags are checked against
// the engine's tag->role table (TagAccessDecision). With no role present
// in the context, the rule passes — it has nothing to check — leaving
// role-aware access decisions to PolicyEngine.ValidateAccess, which calls
// the same TagAccessDecision directly.
type TagAccessRule struct {
	name              string
	desc              string
	prio              int32
	perms             TagPermissions
	defaultWhenNoTags bool
}

// NewTagAccessRule constructs the default tag-access policy against perms,
// the engine's shared tag->role table.
func NewTagAccessRule(perms TagPermissions, defaultWhenNoTags bool) *TagAccessRule {
	return &TagAccessRule{
		name:              "builtin-tag-access",
		desc:              "grants or denies based on entity tags and the acting role",
		prio:              90,
		perms:             perms,
		defaultWhenNoTags: defaultWhenNoTags,
	}
}

func (r *TagAccessRule) Name() string        { return r.name }
func (r *TagAccessRule) Description() string { return r.desc }
func (r *TagAccessRule) Priority() int32     { return r.prio }
func (r *TagAccessRule) TypeID() TypeID      { return TypeTagAccessRule }

func (r *TagAccessRule) Evaluate(entity any, evalContext map[string]any) EvaluationResult {
	role, _ := evalContext["role"].(string)
	if role == "" {
		return EvaluationResult{Passed: true, Reason: "no role in evaluation context"}
	}
	if TagAccessDecision(entity, r.perms, role, r.defaultWhenNoTags) {
		return EvaluationResult{Passed: true}
	}
	return EvaluationResult{
		Passed:  false,
		Reason:  fmt.Sprintf("role %q is not permitted by entity tags", role),
		Actions: []string{"DENY"},
	}
}

type tagAccessRuleWire struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Priority          int32  `json:"priority"`
	DefaultWhenNoTags bool   `json:"default_when_no_tags"`
}

func (r *TagAccessRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(tagAccessRuleWire{
		Name: r.name, Description: r.desc, Priority: r.prio,
		DefaultWhenNoTags: r.defaultWhenNoTags,
	})
}

// DecodeTagAccessRule reconstructs a TagAccessRule bound to perms, the
// target engine's live tag->role table.
func DecodeTagAccessRule(raw json.RawMessage, perms TagPermissions) (Rule, error) {
	var w tagAccessRuleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode tag access rule: %w", err)
	}
	rule := NewTagAccessRule(perms, w.DefaultWhenNoTags)
	if w.Name != "" {
		rule.name = w.Name
	}
	rule.desc = w.Description
	rule.prio = w.Priority
	return rule, nil
}
