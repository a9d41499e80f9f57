// Package policyrule defines the PolicyRule model: the EvaluationResult
// and ValidationResult value types, the Rule interface implementations
// evaluate against, and the built-in rule types (TTL expiry, tag-based
// access control, and an optional CEL-expression rule). Rules are
// persisted polymorphically via a small discriminator registry instead of
// language-level type names or reflection (see Registry in registry.go).
package policyrule

import "time"

// EvaluationResult is the outcome of a single rule's Evaluate call.
type EvaluationResult struct {
	Passed  bool
	Reason  string
	Actions []string
}

// ValidationResult aggregates every registered rule's EvaluationResult for
// one entity.
type ValidationResult struct {
	IsValid       bool
	Results       []EvaluationResult
	FailureReason string
}

// TypeID is the stable, language-independent discriminator stored
// alongside a persisted rule so a loader (possibly in another
// implementation of this spec) can reconstruct the concrete rule without
// relying on a runtime type name.
type TypeID string

const (
	TypeTTLRule       TypeID = "acorndb.policy.ttl.v1"
	TypeTagAccessRule TypeID = "acorndb.policy.tag_access.v1"
	TypeCELRule       TypeID = "acorndb.policy.cel.v1"
)

// Rule is the capability every policy — built-in or custom — must
// implement. Evaluate never errors: an unevaluable entity simply fails
// the rule with an explanatory reason, matching spec §7's "verification
// failures produce false/failed results, never throw" discipline.
type Rule interface {
	Name() string
	Description() string
	Priority() int32
	TypeID() TypeID
	Evaluate(entity any, evalContext map[string]any) EvaluationResult
}

// Taggable is the optional capability an entity exposes to participate in
// tag-based access control.
type Taggable interface {
	Tags() map[string]struct{}
}

// Expirable is the optional capability an entity exposes to participate in
// TTL enforcement. Entities that don't implement Expirable are exempt from
// TTL enforcement.
type Expirable interface {
	ExpiresAt() time.Time
}

// TagPermissions resolves which roles a tag grants access to. Engines
// implement this over their concurrent tag->role-set table.
type TagPermissions interface {
	RolesFor(tag string) (roles map[string]struct{}, ok bool)
}

// TagAccessDecision implements the pure matching rule behind both the
// TagAccessRule policy and PolicyEngine.ValidateAccess (spec P9): with no
// tags, fall back to defaultWhenNoTags; with tags, grant access iff some
// tag maps to a role set containing role or the wildcard "*".
func TagAccessDecision(entity any, perms TagPermissions, role string, defaultWhenNoTags bool) bool {
	taggable, ok := entity.(Taggable)
	if !ok {
		return defaultWhenNoTags
	}
	tags := taggable.Tags()
	if len(tags) == 0 {
		return defaultWhenNoTags
	}
	for tag := range tags {
		roles, found := perms.RolesFor(tag)
		if !found {
			continue
		}
		if _, ok := roles[role]; ok {
			return true
		}
		if _, ok := roles["*"]; ok {
			return true
		}
	}
	return false
}
