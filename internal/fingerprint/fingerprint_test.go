package fingerprint

import (
	"testing"

	"github.com/ortelius/avr-backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	f := model.RawFinding{
		RuleID:  "go/sql-injection",
		File:    "internal/db/query.go",
		Message: "query built from user input",
	}

	first := Fingerprint(f, "")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Fingerprint(f, ""))
	}
	require.Len(t, first, DigestHexLen)
}

func TestContentTierWins(t *testing.T) {
	f := model.RawFinding{
		RuleID:             "go/sql-injection",
		File:               "internal/db/query.go",
		StartLine:          42,
		Message:            "query built from user input",
		PartialFingerprint: "ab12cd34",
	}

	fp, tier := FingerprintTier(f, "db.Query(q)")
	assert.Equal(t, TierContent, tier)

	// Content-hash identity ignores file, line and message changes.
	moved := f
	moved.File = "internal/db/other.go"
	moved.StartLine = 400
	moved.Message = "different wording"
	movedFp, _ := FingerprintTier(moved, "")
	assert.Equal(t, fp, movedFp)
}

func TestMessageTier(t *testing.T) {
	f := model.RawFinding{
		RuleID:  "go/hardcoded-credentials",
		File:    "cmd/server/main.go",
		Message: "hardcoded password",
	}

	fp, tier := FingerprintTier(f, "")
	assert.Equal(t, TierMessage, tier)

	// Stable across line shifts, changes when the message itself changes.
	shifted := f
	shifted.StartLine = 99
	shiftedFp, _ := FingerprintTier(shifted, "")
	assert.Equal(t, fp, shiftedFp)

	reworded := f
	reworded.Message = "hardcoded API token"
	rewordedFp, _ := FingerprintTier(reworded, "")
	assert.NotEqual(t, fp, rewordedFp)
}

func TestSnippetTierStableUnderBlankLineInsertion(t *testing.T) {
	f := model.RawFinding{
		RuleID:    "go/weak-crypto",
		File:      "pkg/crypto/hash.go",
		StartLine: 10,
	}

	fp, tier := FingerprintTier(f, "  sum := md5.Sum(data)")
	require.Equal(t, TierSnippet, tier)

	// Blank lines inserted above shift the line number but not the snippet.
	shifted := f
	shifted.StartLine = 13
	shiftedFp, shiftedTier := FingerprintTier(shifted, "\tsum := md5.Sum(data)")
	assert.Equal(t, TierSnippet, shiftedTier)
	assert.Equal(t, fp, shiftedFp)

	// Editing the line itself breaks the identity.
	editedFp, _ := FingerprintTier(shifted, "sum := sha1.Sum(data)")
	assert.NotEqual(t, fp, editedFp)
}

func TestPositionTierFragileUnderLineShift(t *testing.T) {
	f := model.RawFinding{
		RuleID:    "go/weak-crypto",
		File:      "pkg/crypto/hash.go",
		StartLine: 10,
	}

	fp, tier := FingerprintTier(f, "")
	require.Equal(t, TierPosition, tier)

	shifted := f
	shifted.StartLine = 13
	shiftedFp, _ := FingerprintTier(shifted, "")
	assert.NotEqual(t, fp, shiftedFp)
}

func TestFailsClosedWithoutLocation(t *testing.T) {
	f := model.RawFinding{RuleID: "go/ssrf"}

	fp, tier := FingerprintTier(f, "")
	assert.Equal(t, TierPosition, tier)
	assert.Len(t, fp, DigestHexLen)

	// Still deterministic.
	assert.Equal(t, fp, Fingerprint(f, ""))
}

func TestNormalizeLine(t *testing.T) {
	assert.Equal(t, "a := b + c", NormalizeLine("   a :=\tb +  c  "))
	assert.Equal(t, "", NormalizeLine("   \t  "))
}
