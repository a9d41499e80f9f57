package policylog

import (
	"context"
	"time"

	"github.com/acorndb/policygov/pkg/metrics"
	"github.com/acorndb/policygov/pkg/policyrule"
	"github.com/acorndb/policygov/pkg/seal"
	"github.com/acorndb/policygov/pkg/signing"
)

// MemoryPolicyLog is a PolicyLog whose seals live only in process memory;
// its chain is lost when the process exits.
type MemoryPolicyLog struct {
	*core
}

// NewMemoryPolicyLog constructs an empty in-memory log. clock defaults to
// time.Now when nil. hooks may be nil to disable metrics recording.
func NewMemoryPolicyLog(signer signing.Signer, clock func() time.Time, rootChainHash []byte, hooks *metrics.Hooks) *MemoryPolicyLog {
	return &MemoryPolicyLog{core: newCore(signer, clock, rootChainHash, hooks)}
}

func (l *MemoryPolicyLog) Append(policy policyrule.Rule, effectiveAt time.Time) (*seal.PolicySeal, error) {
	return l.core.append(policy, effectiveAt, nil)
}

func (l *MemoryPolicyLog) GetPolicyAt(t time.Time) (policyrule.Rule, bool) { return l.core.getPolicyAt(t) }
func (l *MemoryPolicyLog) GetAllSeals() []*seal.PolicySeal                { return l.core.getAllSeals() }
func (l *MemoryPolicyLog) VerifyChain(ctx context.Context) ChainValidationResult {
	return l.core.verifyChain(ctx)
}
func (l *MemoryPolicyLog) Count() uint32 { return l.core.count() }
