package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/model"
)

const registryYAML = `repos:
  - repo_url: https://github.com/acme/payments
    name: payments
    importance_score: 95
    max_sessions_per_cycle: 2
    cooldown_hours_schedule: [24, 72, 168]
    auto_dispatch: true
    tags: [tier-1]
  - repo_url: https://github.com/acme/docs
    name: docs
    importance_score: 10
    auto_dispatch: false
objectives:
  - name: zero-critical
    target_severity: critical
    target_count: 0
    priority: 1
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeRegistry(t, registryYAML))
	require.NoError(t, err)

	require.Len(t, reg.Repos, 2)
	assert.Equal(t, "payments", reg.Repos[0].Name)
	assert.Equal(t, 95, reg.Repos[0].ImportanceScore)
	assert.Equal(t, []int{24, 72, 168}, reg.Repos[0].CooldownHoursSchedule)
	assert.True(t, reg.Repos[0].AutoDispatch)
	assert.False(t, reg.Repos[1].AutoDispatch)

	require.Len(t, reg.Objectives, 1)
	assert.Equal(t, model.SeverityCritical, reg.Objectives[0].TargetSeverity)
}

func TestLoadRegistrySkipsInvalidEntries(t *testing.T) {
	mixed := `repos:
  - repo_url: https://github.com/acme/api
    name: api
    importance_score: 150
  - repo_url: https://github.com/acme/web
    name: web
    importance_score: 40
`
	reg, err := LoadRegistry(writeRegistry(t, mixed))
	require.NoError(t, err)

	require.Len(t, reg.Repos, 1)
	assert.Equal(t, "web", reg.Repos[0].Name)
	require.Len(t, reg.Skipped, 1)
	assert.Contains(t, reg.Skipped[0], "acme/api")
}

func TestLoadRegistryMissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestBootstrapUpserts(t *testing.T) {
	reg, err := LoadRegistry(writeRegistry(t, registryYAML))
	require.NoError(t, err)

	mem := store.NewMemory(10, 24)
	ctx := context.Background()
	require.NoError(t, Bootstrap(ctx, mem, reg, zap.NewNop().Sugar()))

	repos, err := mem.Repos(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 2)

	objectives, err := mem.Objectives(ctx)
	require.NoError(t, err)
	assert.Len(t, objectives, 1)

	// Re-running is idempotent.
	require.NoError(t, Bootstrap(ctx, mem, reg, zap.NewNop().Sugar()))
	repos, err = mem.Repos(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 2)
}
