// Package governed implements GovernedPolicyEngine: the decorator that
// composes a PolicyLog, a Signer-backed chain, and a base PolicyEngine
// into bootstrap-verify-on-start, append-and-register, and
// verify-before-use semantics.
package governed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/acorndb/policygov/pkg/policyengine"
	"github.com/acorndb/policygov/pkg/policyerr"
	"github.com/acorndb/policygov/pkg/policylog"
	"github.com/acorndb/policygov/pkg/policyrule"
	"github.com/acorndb/policygov/pkg/seal"
)

// Engine is the subset of *policyengine.PolicyEngine GovernedPolicyEngine
// delegates to, kept as an interface so tests can substitute a fake.
type Engine interface {
	Validate(ctx context.Context, entity any) policyrule.ValidationResult
	ApplyPolicies(ctx context.Context, entity any) (policyrule.ValidationResult, error)
	ValidateAccess(entity any, role string) bool
	EnforceTTL(entities []any) []policyrule.EvaluationResult
	RegisterPolicy(rule policyrule.Rule) error
	UnregisterPolicy(name string)
}

// GovernedPolicyEngine wraps a base Engine with a PolicyLog so every
// evaluation is preceded by a (cached) chain-integrity check and every
// policy change goes through the audit trail.
type GovernedPolicyEngine struct {
	log    policylog.PolicyLog
	base   Engine
	logger *slog.Logger

	mu            sync.Mutex
	chainVerified bool
}

// New bootstraps a GovernedPolicyEngine: if verifyOnStart, the log's
// chain is verified immediately and construction fails with
// ChainIntegrityError if it is broken; every already-sealed policy is
// then loaded into base via RegisterPolicy.
func New(log policylog.PolicyLog, base Engine, verifyOnStart bool, logger *slog.Logger) (*GovernedPolicyEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GovernedPolicyEngine{log: log, base: base, logger: logger.With("component", "governed")}

	if verifyOnStart {
		result := log.VerifyChain(context.Background())
		if !result.IsValid {
			brokenAt := int64(-1)
			if result.BrokenAtIndex != nil {
				brokenAt = int64(*result.BrokenAtIndex)
			}
			return nil, policyerr.NewChainIntegrityError(brokenAt, result.Details)
		}
		g.chainVerified = true
	}

	for _, s := range log.GetAllSeals() {
		if err := base.RegisterPolicy(s.Policy()); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AppendPolicy signs, persists, and registers rule in one step: the only
// sanctioned way to add a policy under governance.
func (g *GovernedPolicyEngine) AppendPolicy(rule policyrule.Rule, effectiveAt time.Time) (*seal.PolicySeal, error) {
	s, err := g.log.Append(rule, effectiveAt)
	if err != nil {
		return nil, err
	}
	if err := g.base.RegisterPolicy(rule); err != nil {
		return nil, err
	}
	g.invalidateChainCache()
	return s, nil
}

// VerifyChain delegates to the log and records the result for
// ensureChainVerified's caching.
func (g *GovernedPolicyEngine) VerifyChain(ctx context.Context) policylog.ChainValidationResult {
	result := g.log.VerifyChain(ctx)
	g.mu.Lock()
	g.chainVerified = result.IsValid
	g.mu.Unlock()
	return result
}

// ensureChainVerified caches a successful verification; once it fails, it
// re-walks the chain on every subsequent call rather than serving a stale
// cached verdict, so a remediated chain is recognized as soon as it is
// fixed instead of only after an explicit reset.
func (g *GovernedPolicyEngine) ensureChainVerified(ctx context.Context) error {
	g.mu.Lock()
	verified := g.chainVerified
	g.mu.Unlock()
	if verified {
		return nil
	}

	result := g.log.VerifyChain(ctx)
	g.mu.Lock()
	g.chainVerified = result.IsValid
	g.mu.Unlock()

	if !result.IsValid {
		brokenAt := int64(-1)
		if result.BrokenAtIndex != nil {
			brokenAt = int64(*result.BrokenAtIndex)
		}
		return policyerr.NewChainIntegrityError(brokenAt, result.Details)
	}
	return nil
}

func (g *GovernedPolicyEngine) invalidateChainCache() {
	g.mu.Lock()
	g.chainVerified = false
	g.mu.Unlock()
}

// Validate verifies chain integrity (cached) before delegating.
func (g *GovernedPolicyEngine) Validate(ctx context.Context, entity any) (policyrule.ValidationResult, error) {
	if err := g.ensureChainVerified(ctx); err != nil {
		return policyrule.ValidationResult{}, err
	}
	return g.base.Validate(ctx, entity), nil
}

// ApplyPolicies verifies chain integrity (cached) before delegating.
func (g *GovernedPolicyEngine) ApplyPolicies(ctx context.Context, entity any) (policyrule.ValidationResult, error) {
	if err := g.ensureChainVerified(ctx); err != nil {
		return policyrule.ValidationResult{}, err
	}
	return g.base.ApplyPolicies(ctx, entity)
}

// ValidateAccess verifies chain integrity (cached) before delegating.
func (g *GovernedPolicyEngine) ValidateAccess(ctx context.Context, entity any, role string) (bool, error) {
	if err := g.ensureChainVerified(ctx); err != nil {
		return false, err
	}
	return g.base.ValidateAccess(entity, role), nil
}

// EnforceTTL verifies chain integrity (cached) before delegating.
func (g *GovernedPolicyEngine) EnforceTTL(ctx context.Context, entities []any) ([]policyrule.EvaluationResult, error) {
	if err := g.ensureChainVerified(ctx); err != nil {
		return nil, err
	}
	return g.base.EnforceTTL(entities), nil
}

// RegisterPolicy passes through to the base engine but is WARN-logged: it
// bypasses the audit trail. The sanctioned path is AppendPolicy.
func (g *GovernedPolicyEngine) RegisterPolicy(rule policyrule.Rule) error {
	g.logger.Warn("registering policy outside the audit trail", "policy", rule.Name())
	return g.base.RegisterPolicy(rule)
}

// UnregisterPolicy passes through to the base engine but is WARN-logged,
// for the same reason as RegisterPolicy.
func (g *GovernedPolicyEngine) UnregisterPolicy(name string) {
	g.logger.Warn("unregistering policy outside the audit trail", "policy", name)
	g.base.UnregisterPolicy(name)
}
