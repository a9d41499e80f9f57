// Package policylog implements PolicyLog: the append-only, hash-chained
// ledger of PolicySeal records, in both an in-memory and a file-backed
// variant sharing identical chain semantics, reader/writer lock
// discipline, and an injectable clock for deterministic tests.
package policylog

import (
	"context"
	"sync"
	"time"

	"github.com/acorndb/policygov/pkg/metrics"
	"github.com/acorndb/policygov/pkg/policyerr"
	"github.com/acorndb/policygov/pkg/policyrule"
	"github.com/acorndb/policygov/pkg/seal"
	"github.com/acorndb/policygov/pkg/signing"
)

// ChainValidationResult is the outcome of VerifyChain.
type ChainValidationResult struct {
	IsValid       bool
	BrokenAtIndex *uint32
	Details       string
}

// PolicyLog is the capability set shared by MemoryPolicyLog and
// FilePolicyLog.
type PolicyLog interface {
	Append(policy policyrule.Rule, effectiveAt time.Time) (*seal.PolicySeal, error)
	GetPolicyAt(t time.Time) (policyrule.Rule, bool)
	GetAllSeals() []*seal.PolicySeal
	VerifyChain(ctx context.Context) ChainValidationResult
	Count() uint32
}

// core holds the state and locking discipline shared by both variants;
// MemoryPolicyLog embeds it directly and FilePolicyLog wraps it with a
// persistence step in Append and a reload step in its constructor.
type core struct {
	mu    sync.RWMutex
	seals []*seal.PolicySeal

	signer        signing.Signer
	clock         func() time.Time
	rootChainHash []byte
	hooks         *metrics.Hooks

	chainValid *bool // cached VerifyChain memo; nil means unknown
}

func newCore(signer signing.Signer, clock func() time.Time, rootChainHash []byte, hooks *metrics.Hooks) *core {
	if clock == nil {
		clock = time.Now
	}
	return &core{signer: signer, clock: clock, rootChainHash: rootChainHash, hooks: hooks}
}

// append performs the shared steps of the append protocol (spec §4.4
// steps 2-4, 6-9); persist, if non-nil, is invoked between seal
// construction and the in-memory push so the file variant can fail the
// append (and leave memory untouched) when the write fails.
func (c *core) append(policy policyrule.Rule, effectiveAt time.Time, persist func(*seal.PolicySeal) error) (*seal.PolicySeal, error) {
	if effectiveAt.Location() != time.UTC {
		return nil, policyerr.NewInvalidArgument("effectiveAt", "must be UTC")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.clock()
	var previous *seal.PolicySeal
	if len(c.seals) > 0 {
		previous = c.seals[len(c.seals)-1]
	}

	s, err := seal.Create(policy, effectiveAt, previous, c.signer, c.rootChainHash)
	if err != nil {
		return nil, err
	}

	if persist != nil {
		if err := persist(s); err != nil {
			return nil, err
		}
	}

	c.seals = append(c.seals, s)
	c.chainValid = nil // invalidate chain-validation cache

	elapsed := c.clock().Sub(start).Seconds()
	c.hooks.RecordAppend(context.Background(), elapsed, int64(len(c.seals)))

	return s, nil
}

// getPolicyAt binary-searches for the largest index whose effective_at is
// <= t.
func (c *core) getPolicyAt(t time.Time) (policyrule.Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lo, hi := 0, len(c.seals)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if !c.seals[mid].EffectiveAt().After(t) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == -1 {
		return nil, false
	}
	return c.seals[best].Policy(), true
}

func (c *core) getAllSeals() []*seal.PolicySeal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*seal.PolicySeal, len(c.seals))
	copy(out, c.seals)
	return out
}

func (c *core) count() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint32(len(c.seals))
}

// verifyChain implements the upgradeable-read-lock protocol from spec
// §4.4: readers share the walk under RLock, and the only moment a write
// lock is taken is to memoize a successful result. A failed walk is never
// cached, so callers can retry after remediation without needing to clear
// a stale cache entry themselves.
func (c *core) verifyChain(ctx context.Context) ChainValidationResult {
	c.mu.RLock()
	if c.chainValid != nil && *c.chainValid {
		c.mu.RUnlock()
		c.hooks.RecordChainVerifyCacheHit(ctx)
		return ChainValidationResult{IsValid: true}
	}
	c.hooks.RecordChainVerifyCacheMiss(ctx)

	result := c.walkChainLocked()
	c.mu.RUnlock()

	if result.IsValid {
		c.mu.Lock()
		valid := true
		c.chainValid = &valid
		c.mu.Unlock()
	}
	return result
}

func (c *core) walkChainLocked() ChainValidationResult {
	expected := seal.ZeroHash[:]
	for i, s := range c.seals {
		if s.Index() != uint32(i) {
			return brokenAt(uint32(i), "Index mismatch")
		}
		if !s.PreviousHashMatches(expected) {
			return brokenAt(uint32(i), "PreviousHash mismatch")
		}
		if !s.VerifySignature(c.signer) {
			return brokenAt(uint32(i), "Signature verification failed")
		}
		expected = s.Signature()
	}
	return ChainValidationResult{IsValid: true}
}

func brokenAt(i uint32, details string) ChainValidationResult {
	return ChainValidationResult{IsValid: false, BrokenAtIndex: &i, Details: details}
}
