// Package policyengine implements PolicyEngine: the base policy
// registration, evaluation, tag-based access control, TTL enforcement,
// and evaluation-result cache. Policies are pluggable, priority-ordered
// policyrule.Rule instances held in a concurrent RWMutex-guarded map,
// with an optional evaluation-result cache backed by an in-memory or
// Redis implementation.
package policyengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acorndb/policygov/pkg/metrics"
	"github.com/acorndb/policygov/pkg/policyerr"
	"github.com/acorndb/policygov/pkg/policyrule"
)

// Options configures a PolicyEngine at construction. The zero value
// disables caching and defaults default-access to false.
type Options struct {
	EnforceAll              bool
	DefaultAccessWhenNoTags bool
	EnableEvaluationCache   bool
	EvaluationCacheTTL      time.Duration
}

// PolicyEngine registers named, prioritized policyrule.Rule instances and
// evaluates them against entities, with tag-based access control and an
// optional evaluation-result cache.
type PolicyEngine struct {
	mu       sync.RWMutex
	policies map[string]policyrule.Rule

	tagMu    sync.RWMutex
	tagRoles map[string]map[string]struct{}

	policyVersion uint64 // atomic

	cache    EvaluationCache
	opts     Options
	clock    func() time.Time
	hooks    *metrics.Hooks
	logger   *slog.Logger
}

// New constructs a PolicyEngine and registers the default TTL and
// tag-access policies. clock defaults to time.Now, cache defaults to an
// in-memory cache when caching is enabled and cache is nil, logger
// defaults to slog.Default().
func New(opts Options, cache EvaluationCache, clock func() time.Time, hooks *metrics.Hooks, logger *slog.Logger) *PolicyEngine {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EnableEvaluationCache && cache == nil {
		cache = NewMemoryCache()
	}
	e := &PolicyEngine{
		policies: make(map[string]policyrule.Rule),
		tagRoles: make(map[string]map[string]struct{}),
		cache:    cache,
		opts:     opts,
		clock:    clock,
		hooks:    hooks,
		logger:   logger.With("component", "policyengine"),
	}

	_ = e.RegisterPolicy(policyrule.NewTTLRule(clock))
	_ = e.RegisterPolicy(policyrule.NewTagAccessRule(e, opts.DefaultAccessWhenNoTags))
	return e
}

// RolesFor satisfies policyrule.TagPermissions over the engine's live tag
// table.
func (e *PolicyEngine) RolesFor(tag string) (map[string]struct{}, bool) {
	e.tagMu.RLock()
	defer e.tagMu.RUnlock()
	roles, ok := e.tagRoles[tag]
	return roles, ok
}

// GrantRole adds role to tag's permitted-role set, creating the tag entry
// if needed. "*" grants any role.
func (e *PolicyEngine) GrantRole(tag, role string) {
	e.tagMu.Lock()
	defer e.tagMu.Unlock()
	set, ok := e.tagRoles[tag]
	if !ok {
		set = make(map[string]struct{})
		e.tagRoles[tag] = set
	}
	set[role] = struct{}{}
}

// RevokeRole removes role from tag's permitted-role set.
func (e *PolicyEngine) RevokeRole(tag, role string) {
	e.tagMu.Lock()
	defer e.tagMu.Unlock()
	if set, ok := e.tagRoles[tag]; ok {
		delete(set, role)
	}
}

// RegisterPolicy adds or replaces a policy by name, bumps policy_version,
// and clears the evaluation cache.
func (e *PolicyEngine) RegisterPolicy(rule policyrule.Rule) error {
	if rule == nil {
		return policyerr.NewInvalidArgument("rule", "must not be nil")
	}
	e.mu.Lock()
	e.policies[rule.Name()] = rule
	e.mu.Unlock()
	e.bumpVersionAndClearCache()
	return nil
}

// UnregisterPolicy removes a policy by name, bumps policy_version, and
// clears the evaluation cache. A missing name is a no-op.
func (e *PolicyEngine) UnregisterPolicy(name string) {
	e.mu.Lock()
	delete(e.policies, name)
	e.mu.Unlock()
	e.bumpVersionAndClearCache()
}

func (e *PolicyEngine) bumpVersionAndClearCache() {
	atomic.AddUint64(&e.policyVersion, 1)
	if e.cache != nil {
		_ = e.cache.InvalidateAll(context.Background())
	}
}

func (e *PolicyEngine) orderedPolicies() []policyrule.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]policyrule.Rule, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	return out
}

// EntityIdentity is implemented by entities that want a stable identity
// string folded into the evaluation-cache key; entities that don't
// implement it fall back to their Go %v rendering, which is adequate for
// tests and small fixed entity sets but not recommended for production
// use with large/unstable struct literals.
type EntityIdentity interface {
	PolicyEntityID() string
}

// Validate evaluates every registered policy against entity in descending
// priority order, honoring the evaluation cache when enabled.
func (e *PolicyEngine) Validate(ctx context.Context, entity any) policyrule.ValidationResult {
	if entity == nil {
		return policyrule.ValidationResult{IsValid: false, FailureReason: "Entity is null"}
	}

	version := atomic.LoadUint64(&e.policyVersion)
	var cacheKey string
	if e.opts.EnableEvaluationCache && e.cache != nil {
		cacheKey = e.cacheKeyFor(entity, version)
		if cached, ok := e.cache.Get(ctx, cacheKey, version, e.clock()); ok {
			e.hooks.RecordEvalCacheHit(ctx)
			return cached
		}
		e.hooks.RecordEvalCacheMiss(ctx)
	}

	_, results := e.evaluateOrdered(entity)
	allPassed := true
	for _, res := range results {
		if !res.Passed {
			allPassed = false
		}
	}
	out := policyrule.ValidationResult{IsValid: allPassed, Results: results}
	if !allPassed {
		out.FailureReason = firstFailureReason(results)
	}

	if e.opts.EnableEvaluationCache && e.cache != nil {
		expires := e.clock().Add(e.opts.EvaluationCacheTTL)
		_ = e.cache.Set(ctx, cacheKey, out, version, expires)
	}
	return out
}

// evaluateOrdered runs every registered policy against entity in a single
// priority-ordered pass, returning the policies alongside the results they
// produced so callers can attribute a result back to its rule by index
// without a second, independently-sorted call to orderedPolicies.
func (e *PolicyEngine) evaluateOrdered(entity any) ([]policyrule.Rule, []policyrule.EvaluationResult) {
	policies := e.orderedPolicies()
	results := make([]policyrule.EvaluationResult, len(policies))
	for i, p := range policies {
		results[i] = p.Evaluate(entity, nil)
	}
	return policies, results
}

func firstFailureReason(results []policyrule.EvaluationResult) string {
	for _, r := range results {
		if !r.Passed {
			return r.Reason
		}
	}
	return ""
}

// cacheKeyFor computes the evaluation-cache key: SHA-256 of
// type_name|entity_identity|policy_version, with sorted tags appended
// when the entity is Taggable.
func (e *PolicyEngine) cacheKeyFor(entity any, version uint64) string {
	identity := fmt.Sprintf("%v", entity)
	if ei, ok := entity.(EntityIdentity); ok {
		identity = ei.PolicyEntityID()
	}
	typeName := fmt.Sprintf("%T", entity)

	parts := []string{typeName, identity, strconv.FormatUint(version, 10)}
	if taggable, ok := entity.(policyrule.Taggable); ok {
		tags := taggable.Tags()
		if len(tags) > 0 {
			sorted := make([]string, 0, len(tags))
			for t := range tags {
				sorted = append(sorted, t)
			}
			sort.Strings(sorted)
			parts = append(parts, strings.Join(sorted, ","))
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ApplyPolicies evaluates every policy and executes each EvaluationResult's
// actions: REDACT fields (via the optional Redactable capability), DELETE
// is a caller-visible no-op here, DENY fails with PolicyViolation (always,
// or only when EnforceAll is set alongside a general failure), WARN logs.
func (e *PolicyEngine) ApplyPolicies(ctx context.Context, entity any) (policyrule.ValidationResult, error) {
	if entity == nil {
		return policyrule.ValidationResult{IsValid: false, FailureReason: "Entity is null"}, nil
	}

	policies, results := e.evaluateOrdered(entity)
	allPassed := true
	for i, res := range results {
		if !res.Passed {
			allPassed = false
		}
		for _, action := range res.Actions {
			if err := e.runAction(ctx, entity, policies[i].Name(), res, action); err != nil {
				return policyrule.ValidationResult{}, err
			}
		}
	}

	out := policyrule.ValidationResult{IsValid: allPassed, Results: results}
	if !allPassed {
		out.FailureReason = firstFailureReason(results)
	}

	if e.opts.EnforceAll && !out.IsValid {
		return out, policyerr.NewPolicyViolation("", out.FailureReason)
	}
	return out, nil
}

// Redactable lets an entity accept field redaction from REDACT:field
// actions; entities that don't implement it silently ignore REDACT.
type Redactable interface {
	RedactField(field string) bool
}

func (e *PolicyEngine) runAction(_ context.Context, entity any, policyName string, res policyrule.EvaluationResult, action string) error {
	verb, target, _ := strings.Cut(action, ":")
	switch verb {
	case "REDACT":
		if r, ok := entity.(Redactable); ok {
			r.RedactField(target)
		}
	case "DELETE":
		// Signaled to caller via the returned ValidationResult; no engine-side effect.
	case "DENY":
		return policyerr.NewPolicyViolation(policyName, res.Reason)
	case "WARN":
		e.logger.Warn("policy warning", "policy", policyName, "target", target, "reason", res.Reason)
	}
	return nil
}

// ValidateAccess implements the tag/role access decision directly
// against the engine's tag table.
func (e *PolicyEngine) ValidateAccess(entity any, role string) bool {
	if entity == nil {
		return true
	}
	if role == "" {
		return false
	}
	return policyrule.TagAccessDecision(entity, e, role, e.opts.DefaultAccessWhenNoTags)
}

// EnforceTTL evaluates only the built-in TTL rule against each entity and
// returns the per-entity results; the DELETE action of an expired entity
// is carried in its result, not executed here. Intended for background
// sweeps rather than the request path.
func (e *PolicyEngine) EnforceTTL(entities []any) []policyrule.EvaluationResult {
	e.mu.RLock()
	ttl, ok := e.policies["builtin-ttl"]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	out := make([]policyrule.EvaluationResult, len(entities))
	for i, entity := range entities {
		out[i] = ttl.Evaluate(entity, nil)
	}
	return out
}
