package policyrule

import (
	"encoding/json"
	"fmt"
	"time"
)

// TTLRule rejects entities whose embedded expiry has passed. Entities that
// don't implement Expirable are not subject to TTL and pass automatically.
type TTLRule struct {
	name  string
	desc  string
	prio  int32
	clock func() time.Time
}

// NewTTLRule constructs the default TTL policy. clock defaults to
// time.Now when nil; injecting a fixed clock keeps expiry checks
// deterministic in tests.
func NewTTLRule(clock func() time.Time) *TTLRule {
	if clock == nil {
		clock = time.Now
	}
	return &TTLRule{
		name:  "builtin-ttl",
		desc:  "rejects entities whose embedded expiry has passed",
		prio:  100,
		clock: clock,
	}
}

func (r *TTLRule) Name() string        { return r.name }
func (r *TTLRule) Description() string { return r.desc }
func (r *TTLRule) Priority() int32     { return r.prio }
func (r *TTLRule) TypeID() TypeID      { return TypeTTLRule }

func (r *TTLRule) Evaluate(entity any, _ map[string]any) EvaluationResult {
	expirable, ok := entity.(Expirable)
	if !ok {
		return EvaluationResult{Passed: true, Reason: "entity does not carry an expiry"}
	}
	expiresAt := expirable.ExpiresAt()
	if expiresAt.IsZero() {
		return EvaluationResult{Passed: true, Reason: "entity has no expiry set"}
	}
	if r.clock().After(expiresAt) {
		return EvaluationResult{
			Passed:  false,
			Reason:  fmt.Sprintf("entity expired at %s", expiresAt.Format(time.RFC3339)),
			Actions: []string{"DELETE"},
		}
	}
	return EvaluationResult{Passed: true}
}

// ttlRuleWire is the JSON persistence form: the rule carries no per-instance
// state beyond identity, since the clock is always the evaluating engine's.
type ttlRuleWire struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int32  `json:"priority"`
}

func (r *TTLRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ttlRuleWire{Name: r.name, Description: r.desc, Priority: r.prio})
}

// DecodeTTLRule reconstructs a TTLRule from its persisted form, wired to
// the given clock (normally time.Now, overridden only in tests).
func DecodeTTLRule(raw json.RawMessage, clock func() time.Time) (Rule, error) {
	var w ttlRuleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode ttl rule: %w", err)
	}
	rule := NewTTLRule(clock)
	if w.Name != "" {
		rule.name = w.Name
	}
	rule.desc = w.Description
	rule.prio = w.Priority
	return rule, nil
}
