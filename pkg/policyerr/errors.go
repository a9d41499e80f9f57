// Package policyerr defines the error taxonomy shared by the policy
// governance core: invalid arguments, broken hash chains, policy
// violations, and missing key material. Every exported type here is a
// plain value implementing error; nothing in this package panics.
package policyerr

import "fmt"

// InvalidArgument signals malformed or out-of-contract input: nil rules,
// signers, proofs or data to sign, wrong-length keys/hashes, non-UTC timestamps, an effective_at earlier
// than the chain's previous seal.
type InvalidArgument struct {
	Field  string
	Reason string
}

func (e *InvalidArgument) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid argument: %s", e.Reason)
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// NewInvalidArgument constructs an InvalidArgument error.
func NewInvalidArgument(field, reason string) error {
	return &InvalidArgument{Field: field, Reason: reason}
}

// ChainIntegrityError signals a hash-chain that failed VerifyChain; the
// governed engine and the enforcement stage return it. Reloading a
// persisted log does not return it: the file log truncates at the first
// bad record instead. BrokenAtIndex is -1 when the break could not be
// localized to a single index.
type ChainIntegrityError struct {
	BrokenAtIndex int64
	Details       string
}

func (e *ChainIntegrityError) Error() string {
	if e.BrokenAtIndex < 0 {
		return fmt.Sprintf("chain integrity error: %s", e.Details)
	}
	return fmt.Sprintf("chain integrity error at index %d: %s", e.BrokenAtIndex, e.Details)
}

// NewChainIntegrityError constructs a ChainIntegrityError.
func NewChainIntegrityError(brokenAtIndex int64, details string) error {
	return &ChainIntegrityError{BrokenAtIndex: brokenAtIndex, Details: details}
}

// PolicyViolation signals that a policy evaluation failed under strict
// enforcement, or that a DENY action fired.
type PolicyViolation struct {
	PolicyName string
	Reason     string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.PolicyName, e.Reason)
}

// NewPolicyViolation constructs a PolicyViolation error.
func NewPolicyViolation(policyName, reason string) error {
	return &PolicyViolation{PolicyName: policyName, Reason: reason}
}

// KeyMaterialMissing signals that a signer instance was constructed
// verify-only (public key / hash only) and cannot produce signatures.
type KeyMaterialMissing struct {
	Algorithm string
}

func (e *KeyMaterialMissing) Error() string {
	return fmt.Sprintf("%s signer has no private key material to sign with", e.Algorithm)
}

// NewKeyMaterialMissing constructs a KeyMaterialMissing error.
func NewKeyMaterialMissing(algorithm string) error {
	return &KeyMaterialMissing{Algorithm: algorithm}
}
