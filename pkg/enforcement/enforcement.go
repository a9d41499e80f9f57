// Package enforcement implements PolicyEnforcement: a transform stage for
// an external byte-in/byte-out storage pipeline that runs policy
// evaluation on every read/write and re-verifies chain integrity first,
// with an explicit verified/unverified state machine and
// PolicyViolation/ChainIntegrityError propagation.
package enforcement

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/acorndb/policygov/pkg/policyengine"
	"github.com/acorndb/policygov/pkg/policyerr"
	"github.com/acorndb/policygov/pkg/policylog"
)

// ChainState is the pipeline stage's local verification state machine.
type ChainState int

const (
	StateUnverified ChainState = iota
	StateVerifying
	StateVerified
	StateInvalid
)

// Deserializer turns pipeline bytes into an entity view for policy
// evaluation. A nil Deserializer means the stage evaluates the raw bytes
// themselves (most policies simply won't match anything interesting in
// that case, which is an acceptable degraded mode — deserialization is
// optional).
type Deserializer func(data []byte) (any, error)

// Options configures a PolicyEnforcement stage.
type Options struct {
	ThrowOnViolation       bool
	ReturnNullOnTTLExpired bool
}

// PolicyEnforcement is the pipeline stage itself. It is safe for
// concurrent use: chain-state transitions are serialized by mu, and the
// underlying engine/log are expected to be independently concurrency-safe.
type PolicyEnforcement struct {
	log          policylog.PolicyLog // nil disables chain verification
	engine       *policyengine.PolicyEngine
	deserializer Deserializer
	opts         Options
	logger       *slog.Logger

	mu    sync.Mutex
	state ChainState
}

// New constructs a PolicyEnforcement stage. log may be nil to skip chain
// verification entirely (an external collaborator's choice, not this
// package's default).
func New(log policylog.PolicyLog, engine *policyengine.PolicyEngine, deserializer Deserializer, opts Options, logger *slog.Logger) *PolicyEnforcement {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyEnforcement{
		log:          log,
		engine:       engine,
		deserializer: deserializer,
		opts:         opts,
		logger:       logger.With("component", "enforcement"),
		state:        StateUnverified,
	}
}

// OnWrite runs the enforcement pipeline on data being written.
func (p *PolicyEnforcement) OnWrite(ctx context.Context, data []byte) ([]byte, error) {
	return p.run(ctx, data, false)
}

// OnRead runs the enforcement pipeline on data being read.
func (p *PolicyEnforcement) OnRead(ctx context.Context, data []byte) ([]byte, error) {
	return p.run(ctx, data, true)
}

func (p *PolicyEnforcement) run(ctx context.Context, data []byte, isRead bool) ([]byte, error) {
	traceID := uuid.New().String()
	logger := p.logger.With("trace_id", traceID)

	if p.log != nil {
		if err := p.verifyChainIntegrity(ctx); err != nil {
			logger.Error("chain integrity check failed", "error", err)
			return nil, err
		}
	}

	entity, err := p.deserialize(data)
	if err != nil {
		logger.Warn("deserialize failed, evaluating raw bytes", "error", err)
		entity = data
	}

	result := p.engine.Validate(ctx, entity)
	if result.IsValid {
		logger.Debug("policy evaluation passed")
		return data, nil
	}

	if p.opts.ThrowOnViolation {
		return nil, policyerr.NewPolicyViolation("", result.FailureReason)
	}
	if isRead && p.opts.ReturnNullOnTTLExpired && strings.Contains(strings.ToLower(result.FailureReason), "expired") {
		return []byte{}, nil
	}
	logger.Warn("policy evaluation failed, passing bytes through", "reason", result.FailureReason)
	return data, nil
}

func (p *PolicyEnforcement) deserialize(data []byte) (any, error) {
	if p.deserializer != nil {
		return p.deserializer(data)
	}
	return data, nil
}

// verifyChainIntegrity caches Verified/Invalid locally so repeated calls
// don't re-walk the chain until InvalidateChainCache resets state to
// Unverified.
func (p *PolicyEnforcement) verifyChainIntegrity(ctx context.Context) error {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	switch state {
	case StateVerified:
		return nil
	case StateInvalid:
		return policyerr.NewChainIntegrityError(-1, "chain previously failed verification; awaiting remediation")
	}

	p.mu.Lock()
	p.state = StateVerifying
	p.mu.Unlock()

	result := p.log.VerifyChain(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if result.IsValid {
		p.state = StateVerified
		return nil
	}
	p.state = StateInvalid
	brokenAt := int64(-1)
	if result.BrokenAtIndex != nil {
		brokenAt = int64(*result.BrokenAtIndex)
	}
	return policyerr.NewChainIntegrityError(brokenAt, result.Details)
}

// InvalidateChainCache resets the cached chain-verification state,
// forcing the next OnRead/OnWrite to re-walk the chain. Call this after
// an append so a newly sealed policy's chain state is recognized.
func (p *PolicyEnforcement) InvalidateChainCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateUnverified
}

// State returns the stage's current chain-verification state.
func (p *PolicyEnforcement) State() ChainState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// JSONDeserializer is a ready-made Deserializer for pipelines whose
// payloads are JSON objects; it decodes into a generic map so any Rule
// can inspect fields by name without knowing the concrete entity type.
func JSONDeserializer(data []byte) (any, error) {
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
