package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCVSSScore(t *testing.T) {
	// CVSS:3.1 vector for a classic critical RCE
	score := CalculateCVSSScore("CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H")
	assert.InDelta(t, 9.8, score, 0.05)

	assert.Equal(t, 0.0, CalculateCVSSScore(""))
	assert.Equal(t, 0.0, CalculateCVSSScore("not-a-vector"))
}

func TestSeverityTierFromScore(t *testing.T) {
	assert.Equal(t, "critical", SeverityTierFromScore(9.8))
	assert.Equal(t, "high", SeverityTierFromScore(7.5))
	assert.Equal(t, "medium", SeverityTierFromScore(5.0))
	assert.Equal(t, "low", SeverityTierFromScore(2.1))
	assert.Equal(t, "low", SeverityTierFromScore(0))
}

func TestBasePURL(t *testing.T) {
	base, err := BasePURL("pkg:npm/lodash@4.17.20")
	assert.NoError(t, err)
	assert.Equal(t, "pkg:npm/lodash", base)

	base, err = BasePURL("pkg:golang/github.com/gin-gonic/gin@v1.9.0")
	assert.NoError(t, err)
	assert.Equal(t, "pkg:golang/github.com/gin-gonic/gin", base)

	_, err = BasePURL("not a purl")
	assert.Error(t, err)
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "https---github.com-acme-payments", SanitizeKey("https://github.com/acme/payments"))
	assert.Equal(t, "plain", SanitizeKey("  plain "))
}
