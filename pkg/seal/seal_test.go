package seal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acorndb/policygov/pkg/policyrule"
	"github.com/acorndb/policygov/pkg/signing"
)

func mustRule(t *testing.T, name string) policyrule.Rule {
	t.Helper()
	r := policyrule.NewTTLRule(nil)
	return r
}

func TestCreate_Genesis(t *testing.T) {
	signer := signing.NewHashChainSigner()
	rule := mustRule(t, "R1")
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := Create(rule, at, nil, signer, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), s.Index())
	assert.Equal(t, ZeroHash[:], s.PreviousHash())
	assert.True(t, s.VerifySignature(signer))
	assert.Len(t, s.Signature(), 32)
}

func TestCreate_ChainsToPrevious(t *testing.T) {
	signer := signing.NewHashChainSigner()
	rule := mustRule(t, "R1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s0, err := Create(rule, t0, nil, signer, nil)
	require.NoError(t, err)

	s1, err := Create(rule, t0.Add(time.Minute), s0, signer, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s1.Index())
	assert.Equal(t, s0.Signature(), s1.PreviousHash())
	assert.True(t, s1.PreviousHashMatches(s0.Signature()))
}

func TestCreate_RejectsNonMonotonicTime(t *testing.T) {
	signer := signing.NewHashChainSigner()
	rule := mustRule(t, "R1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s0, err := Create(rule, t0, nil, signer, nil)
	require.NoError(t, err)

	_, err = Create(rule, t0.Add(-time.Second), s0, signer, nil)
	assert.Error(t, err)
}

func TestVerifySignature_DetectsTamper(t *testing.T) {
	signer := signing.NewHashChainSigner()
	rule := mustRule(t, "R1")
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Create(rule, at, nil, signer, nil)
	require.NoError(t, err)
	assert.True(t, s.VerifySignature(signer))

	tampered, err := Reconstruct(s.Index(), s.EffectiveAt(), s.PreviousHash(), s.Policy(), s.RootChainHash(), []byte("not-the-real-signature-000000000"[:32]))
	require.NoError(t, err)
	assert.False(t, tampered.VerifySignature(signer))
}

func TestAccessors_ReturnDefensiveCopies(t *testing.T) {
	signer := signing.NewHashChainSigner()
	rule := mustRule(t, "R1")
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Create(rule, at, nil, signer, nil)
	require.NoError(t, err)

	ph := s.PreviousHash()
	ph[0] ^= 0xFF
	assert.NotEqual(t, ph, s.PreviousHash())

	sig := s.Signature()
	sig[0] ^= 0xFF
	assert.NotEqual(t, sig, s.Signature())
}

func TestReconstruct_RoundTripsWithoutResigning(t *testing.T) {
	signer := signing.NewHashChainSigner()
	rule := mustRule(t, "R1")
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	original, err := Create(rule, at, nil, signer, nil)
	require.NoError(t, err)

	rebuilt, err := Reconstruct(original.Index(), original.EffectiveAt(), original.PreviousHash(), original.Policy(), original.RootChainHash(), original.Signature())
	require.NoError(t, err)
	assert.True(t, rebuilt.VerifySignature(signer))
	assert.Equal(t, original.Signature(), rebuilt.Signature())
}

func TestCanonicalInput_DeterministicAcrossUnicodeForms(t *testing.T) {
	nfc := "é"       // é precomposed
	decomposed := "é" // e + combining acute, same grapheme

	signer := signing.NewHashChainSigner()
	ruleA := &stubRule{name: nfc, typeID: policyrule.TypeTTLRule}
	ruleB := &stubRule{name: decomposed, typeID: policyrule.TypeTTLRule}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sa, err := Create(ruleA, at, nil, signer, nil)
	require.NoError(t, err)
	sb, err := Create(ruleB, at, nil, signer, nil)
	require.NoError(t, err)

	assert.Equal(t, sa.Signature(), sb.Signature(), "NFC normalization should make equivalent Unicode forms hash identically")
}

type stubRule struct {
	name   string
	typeID policyrule.TypeID
}

func (r *stubRule) Name() string                    { return r.name }
func (r *stubRule) Description() string             { return "" }
func (r *stubRule) Priority() int32                 { return 0 }
func (r *stubRule) TypeID() policyrule.TypeID       { return r.typeID }
func (r *stubRule) Evaluate(any, map[string]any) policyrule.EvaluationResult {
	return policyrule.EvaluationResult{Passed: true}
}
