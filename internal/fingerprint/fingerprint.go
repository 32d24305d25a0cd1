// Package fingerprint computes stable cross-scan identities for analyzer
// findings. The identity must survive harmless code movement (blank lines,
// unrelated edits) so the orchestrator never re-dispatches an issue it is
// already tracking under a shifted location.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ortelius/avr-backend/model"
)

// DigestHexLen is the length of the emitted hex digest. 24 hex chars is 96
// bits, wide enough to keep collision probability negligible at fleet scale.
const DigestHexLen = 24

// Tier identifies which fingerprinting strategy produced an identity,
// ordered from most to least stable.
type Tier int

const (
	// TierContent combines the analyzer-native content hash with the rule id.
	TierContent Tier = iota + 1
	// TierMessage combines rule id, file and the diagnostic message text.
	TierMessage
	// TierSnippet combines rule id, file and the whitespace-normalized
	// source line at the finding's location.
	TierSnippet
	// TierPosition is the last resort: rule id, file and line number.
	TierPosition
)

func (t Tier) String() string {
	switch t {
	case TierContent:
		return "content"
	case TierMessage:
		return "message"
	case TierSnippet:
		return "snippet"
	case TierPosition:
		return "position"
	}
	return "unknown"
}

// Fingerprint computes the stable identity for a finding. sourceLine is the
// raw source text at the finding's location when the repo snapshot is
// available, "" otherwise. Deterministic and pure; never fails: with all
// location data missing it still derives an identity from the rule id and
// whatever context exists.
func Fingerprint(f model.RawFinding, sourceLine string) string {
	fp, _ := FingerprintTier(f, sourceLine)
	return fp
}

// FingerprintTier is Fingerprint plus the tier that produced the identity.
// The first applicable tier wins.
func FingerprintTier(f model.RawFinding, sourceLine string) (string, Tier) {
	if f.PartialFingerprint != "" {
		return digest("content", f.RuleID, f.PartialFingerprint), TierContent
	}
	if f.Message != "" && f.File != "" {
		return digest("message", f.RuleID, f.File, f.Message), TierMessage
	}
	if norm := NormalizeLine(sourceLine); norm != "" && f.File != "" {
		return digest("snippet", f.RuleID, f.File, norm), TierSnippet
	}
	if f.File != "" && f.StartLine > 0 {
		return digest("position", f.RuleID, f.File, fmt.Sprintf("%d", f.StartLine)), TierPosition
	}
	// Fail closed: no usable location data at all.
	return digest("position", f.RuleID, f.File, f.Message), TierPosition
}

// NormalizeLine collapses all whitespace in a source line so the snippet
// tier is stable against re-indentation and blank-line insertion above the
// finding.
func NormalizeLine(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

func digest(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:])[:DigestHexLen]
}
