package policyrule

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Envelope is the wire form of a persisted rule: a stable TypeID
// discriminator plus the rule's own JSON payload. This replaces the
// source system's language-qualified type-name reflection (see spec §9
// Design Notes) with an explicit, versioned registry keyed by a schema
// tag that is meaningful across independent implementations of this spec.
type Envelope struct {
	Type TypeID          `json:"type"`
	Rule json.RawMessage `json:"rule"`
}

// Decoder reconstructs a Rule from its envelope payload.
type Decoder func(raw json.RawMessage) (Rule, error)

// Registry maps TypeIDs to decoders so a persisted, polymorphic rule can
// be reconstructed without language reflection. An unknown TypeID is
// reported as an error to the caller, which (per the file log's reload
// protocol) truncates the ledger at that record rather than guessing.
type Registry struct {
	mu       sync.RWMutex
	decoders map[TypeID]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[TypeID]Decoder)}
}

// Register adds or replaces the decoder for a TypeID.
func (r *Registry) Register(t TypeID, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[t] = d
}

// Decode reconstructs the Rule named by envelope.Type.
func (r *Registry) Decode(envelope Envelope) (Rule, error) {
	r.mu.RLock()
	d, ok := r.decoders[envelope.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("policyrule: unknown rule type %q", envelope.Type)
	}
	return d(envelope.Rule)
}

// Encode wraps a Rule's own JSON marshaling with its TypeID discriminator.
func Encode(rule Rule) (Envelope, error) {
	payload, err := json.Marshal(rule)
	if err != nil {
		return Envelope{}, fmt.Errorf("policyrule: encode rule %q: %w", rule.Name(), err)
	}
	return Envelope{Type: rule.TypeID(), Rule: payload}, nil
}

// DefaultRegistry returns a Registry with decoders for every built-in rule
// type registered. perms and clock wire the decoded rules back to their
// owning engine's live tag table and clock.
func DefaultRegistry(perms TagPermissions, clock func() time.Time) *Registry {
	reg := NewRegistry()
	reg.Register(TypeTTLRule, func(raw json.RawMessage) (Rule, error) {
		return DecodeTTLRule(raw, clock)
	})
	reg.Register(TypeTagAccessRule, func(raw json.RawMessage) (Rule, error) {
		return DecodeTagAccessRule(raw, perms)
	})
	reg.Register(TypeCELRule, DecodeCELRule)
	return reg
}
