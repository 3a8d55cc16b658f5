package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/nightfall-backend/internal/engine"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("NIGHTFALL_ADDR", ":9090")
	t.Setenv("NIGHTFALL_CAPACITY", "8")
	t.Setenv("NIGHTFALL_LLM_MODEL", "tiny")
	t.Setenv("NIGHTFALL_LLM_TIMEOUT", "5s")
	t.Setenv("NIGHTFALL_SEED", "7")
	t.Setenv("NIGHTFALL_LOG_DEV", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 8, cfg.Game.Rules.Capacity)
	assert.Equal(t, "tiny", cfg.LLM.Model)
	assert.Equal(t, "tiny", cfg.Game.AgentModel)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, uint64(7), cfg.Game.Seed)
	assert.True(t, cfg.DevLogging)
}

func TestLoad_BadEnvironmentReportsEveryKey(t *testing.T) {
	t.Setenv("NIGHTFALL_CAPACITY", "lots")
	t.Setenv("NIGHTFALL_LLM_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "NIGHTFALL_CAPACITY")
	assert.Contains(t, err.Error(), "NIGHTFALL_LLM_TIMEOUT")
}

func TestLoad_RulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	rules := `
capacity: 6
quota:
  harm_leaders: 1
  harm_accomplices: 0
  protectors: 1
name_pool: [Ash, Birch, Cedar, Elm, Fern, Hazel]
timings:
  night: 20s
  discussion: 2m
  stagger: 0s
`
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o600))
	t.Setenv("NIGHTFALL_RULES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	g := cfg.Game
	assert.Equal(t, 6, g.Rules.Capacity)
	assert.Equal(t, engine.Quota{HarmLeaders: 1, Protectors: 1}, g.Rules.Quota)
	assert.Len(t, g.NamePool, 6)
	assert.Equal(t, 20*time.Second, g.NightDuration)
	assert.Equal(t, 2*time.Minute, g.DiscussionDuration)
	// Untouched values keep their defaults.
	assert.Equal(t, 60*time.Second, g.VotingDuration)
	assert.Equal(t, 3*time.Second, g.Timing.MaxStagger)
}

func TestLoad_MissingRulesFile(t *testing.T) {
	t.Setenv("NIGHTFALL_RULES_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyRules_BadYAML(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.ApplyRules([]byte("capacity: [")))
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Game.Rules.Capacity = 2
	cfg.Game.VotingDuration = 0
	cfg.Game.MaxParallelRequests = 0
	cfg.Game.NamePool = []string{"Ash"}

	err := cfg.Validate()
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 4)
	assert.ErrorIs(t, err, engine.ErrRoleCountMismatch)
}

func TestValidate_CapacityBeyondDefaultNamePool(t *testing.T) {
	cfg := Default()
	cfg.Game.Rules.Capacity = 30

	err := cfg.Validate()
	require.ErrorIs(t, err, engine.ErrNamePoolTooSmall)
	assert.Len(t, multierr.Errors(err), 1)
}
