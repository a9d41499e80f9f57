package policylog

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/acorndb/policygov/pkg/metrics"
	"github.com/acorndb/policygov/pkg/policyerr"
	"github.com/acorndb/policygov/pkg/policyrule"
	"github.com/acorndb/policygov/pkg/seal"
	"github.com/acorndb/policygov/pkg/signing"
)

// fileRecord is the JSONL wire form of one persisted seal.
type fileRecord struct {
	Index         uint32             `json:"index"`
	EffectiveAt   time.Time          `json:"effective_at"`
	PreviousHash  string             `json:"previous_hash"`
	RootChainHash string             `json:"root_chain_hash"`
	Signature     string             `json:"signature"`
	Policy        policyrule.Envelope `json:"policy"`
}

// FilePolicyLog is a PolicyLog backed by an append-only JSONL file,
// reloaded (trust-on-load) at construction. Reload applies a
// truncate-at-first-corruption recovery pass: a malformed trailing record
// is treated as a torn write and dropped rather than failing the whole
// reload.
type FilePolicyLog struct {
	*core
	path     string
	registry *policyrule.Registry
	logger   *slog.Logger
}

// NewFilePolicyLog opens (or creates) path and reloads any existing
// records, reconstructing seals via registry without re-signing them.
// Cryptographic correctness of the loaded chain is established later, on
// demand, by VerifyChain.
func NewFilePolicyLog(path string, signer signing.Signer, registry *policyrule.Registry, clock func() time.Time, rootChainHash []byte, hooks *metrics.Hooks, logger *slog.Logger) (*FilePolicyLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &FilePolicyLog{
		core:     newCore(signer, clock, rootChainHash, hooks),
		path:     path,
		registry: registry,
		logger:   logger.With("component", "policylog.file"),
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FilePolicyLog) reload() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("policylog: open %s: %w", l.path, err)
	}
	defer f.Close()

	var loaded []*seal.PolicySeal
	var acceptedLines [][]byte
	var truncated bool
	var prevSig [seal.HashSize]byte // zeros at genesis

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec fileRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			l.logger.Warn("truncating policy log at first corrupt record", "line", lineNo, "error", err)
			truncated = true
			break
		}

		policy, err := l.registry.Decode(rec.Policy)
		if err != nil {
			l.logger.Warn("truncating policy log: unknown policy type", "line", lineNo, "error", err)
			truncated = true
			break
		}

		previousHash, err := base64.StdEncoding.DecodeString(rec.PreviousHash)
		if err != nil || len(previousHash) != seal.HashSize {
			l.logger.Warn("truncating policy log: malformed previous_hash", "line", lineNo, "error", err)
			truncated = true
			break
		}
		if [seal.HashSize]byte(previousHash) != prevSig {
			l.logger.Warn("truncating policy log: previous_hash does not match prior record", "line", lineNo)
			truncated = true
			break
		}
		if rec.Index != uint32(len(loaded)) {
			l.logger.Warn("truncating policy log: index out of sequence", "line", lineNo)
			truncated = true
			break
		}

		var rootChainHash []byte
		if rec.RootChainHash != "" {
			rootChainHash, err = base64.StdEncoding.DecodeString(rec.RootChainHash)
			if err != nil {
				l.logger.Warn("truncating policy log: malformed root_chain_hash", "line", lineNo, "error", err)
				truncated = true
				break
			}
		}

		signature, err := base64.StdEncoding.DecodeString(rec.Signature)
		if err != nil {
			l.logger.Warn("truncating policy log: malformed signature", "line", lineNo, "error", err)
			truncated = true
			break
		}

		s, err := seal.Reconstruct(rec.Index, rec.EffectiveAt, previousHash, policy, rootChainHash, signature)
		if err != nil {
			l.logger.Warn("truncating policy log: reconstruct failed", "line", lineNo, "error", err)
			truncated = true
			break
		}

		loaded = append(loaded, s)
		accepted := make([]byte, len(line))
		copy(accepted, line)
		acceptedLines = append(acceptedLines, accepted)
		prevSig = seal.PreviousHashFor(signature)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("policylog: read %s: %w", l.path, err)
	}

	l.core.seals = loaded
	// The chain-validation memo stays unset, so the first VerifyChain walks
	// the reloaded seals and checks every signature.

	if truncated {
		if err := l.rewriteAcceptedPrefix(acceptedLines); err != nil {
			return fmt.Errorf("policylog: rewrite truncated %s: %w", l.path, err)
		}
	}
	return nil
}

// rewriteAcceptedPrefix replaces the on-disk file with exactly the accepted
// prefix of lines, per spec §4.4: "If any lines were rejected, rewrite the
// file with only accepted lines." Written to a temp file in the same
// directory and renamed into place so a crash mid-rewrite cannot leave a
// half-written ledger file.
func (l *FilePolicyLog) rewriteAcceptedPrefix(acceptedLines [][]byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".policylog-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, line := range acceptedLines {
		if _, err := w.Write(line); err != nil {
			tmp.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, l.path)
}

func (l *FilePolicyLog) Append(policy policyrule.Rule, effectiveAt time.Time) (*seal.PolicySeal, error) {
	return l.core.append(policy, effectiveAt, l.persist)
}

// persist serializes one JSONL record and appends it to the file with a
// single write, then flushes — per spec §4.4 step 5, the seal is not
// pushed into memory unless this succeeds.
func (l *FilePolicyLog) persist(s *seal.PolicySeal) error {
	envelope, err := policyrule.Encode(s.Policy())
	if err != nil {
		return fmt.Errorf("policylog: encode policy: %w", err)
	}
	rec := fileRecord{
		Index:         s.Index(),
		EffectiveAt:   s.EffectiveAt(),
		PreviousHash:  base64.StdEncoding.EncodeToString(s.PreviousHash()),
		RootChainHash: base64.StdEncoding.EncodeToString(s.RootChainHash()),
		Signature:     base64.StdEncoding.EncodeToString(s.Signature()),
		Policy:        envelope,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("policylog: marshal record: %w", err)
	}
	raw = append(raw, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return policyerr.NewInvalidArgument("path", fmt.Sprintf("cannot open policy log for append: %v", err))
	}
	defer f.Close()

	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("policylog: write record: %w", err)
	}
	return f.Sync()
}

func (l *FilePolicyLog) GetPolicyAt(t time.Time) (policyrule.Rule, bool) { return l.core.getPolicyAt(t) }
func (l *FilePolicyLog) GetAllSeals() []*seal.PolicySeal                 { return l.core.getAllSeals() }
func (l *FilePolicyLog) VerifyChain(ctx context.Context) ChainValidationResult {
	return l.core.verifyChain(ctx)
}
func (l *FilePolicyLog) Count() uint32 { return l.core.count() }
