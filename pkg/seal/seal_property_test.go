//go:build property
// +build property

package seal_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/acorndb/policygov/pkg/policyrule"
	"github.com/acorndb/policygov/pkg/seal"
	"github.com/acorndb/policygov/pkg/signing"
)

func namedRule(name string) policyrule.Rule {
	return policyrule.NewTagAccessRule(noopPerms{}, true)
}

type noopPerms struct{}

func (noopPerms) RolesFor(string) (map[string]struct{}, bool) { return nil, false }

// TestSealChainDeterminism: signing the same policy/time/predecessor twice
// produces identical signatures, so a seal's cryptographic identity is a
// pure function of its fields.
func TestSealChainDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("signing is deterministic for identical inputs", prop.ForAll(
		func(minutes int) bool {
			signer := signing.NewHashChainSigner()
			rule := namedRule("r")
			at := base.Add(time.Duration(minutes%10000) * time.Minute)

			s1, err1 := seal.Create(rule, at, nil, signer, nil)
			s2, err2 := seal.Create(rule, at, nil, signer, nil)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			sig1, sig2 := s1.Signature(), s2.Signature()
			if len(sig1) != len(sig2) {
				return false
			}
			for i := range sig1 {
				if sig1[i] != sig2[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 100000),
	))

	properties.TestingRun(t)
}

// TestSealChainLinksAlwaysVerify: a chain of N seals built in sequence
// always has every link's previous_hash matching its predecessor's
// signature and every signature verifying.
func TestSealChainLinksAlwaysVerify(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("chained seals always link and verify", prop.ForAll(
		func(n int) bool {
			n = n%20 + 1
			signer := signing.NewHashChainSigner()
			rule := namedRule("r")

			var prev *seal.PolicySeal
			at := base
			for i := 0; i < n; i++ {
				s, err := seal.Create(rule, at, prev, signer, nil)
				if err != nil {
					return false
				}
				if !s.VerifySignature(signer) {
					return false
				}
				if prev != nil && !s.PreviousHashMatches(prev.Signature()) {
					return false
				}
				prev = s
				at = at.Add(time.Minute)
			}
			return true
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestVerifySignature_RejectsAnyByteFlip: flipping any single byte of a
// seal's signature must break verification.
func TestVerifySignature_RejectsAnyByteFlip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("any signature byte flip is detected", prop.ForAll(
		func(byteIdx int) bool {
			signer := signing.NewHashChainSigner()
			rule := namedRule("r")
			s, err := seal.Create(rule, at, nil, signer, nil)
			if err != nil {
				return false
			}
			sig := s.Signature()
			idx := byteIdx % len(sig)
			if idx < 0 {
				idx = -idx
			}
			sig[idx] ^= 0x01

			tampered, err := seal.Reconstruct(s.Index(), s.EffectiveAt(), s.PreviousHash(), s.Policy(), s.RootChainHash(), sig)
			if err != nil {
				return false
			}
			return !tampered.VerifySignature(signer)
		},
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
