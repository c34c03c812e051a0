package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/tribunal/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tribunal.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
rubric: rubric.yml
synthesis:
  security_ceiling: 2
  dissent_threshold: 1
  score_unit: 0.5
stages:
  collect_timeout: 30s
  max_concurrency: 8
reviewers:
  Prosecutor:
    command: ["./judges/prosecutor", "--strict"]
    timeout: 1m
storage:
  redis_url: redis://localhost:6379/0
  namespace: ci
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rubric.yml", config.Rubric)
	assert.Equal(t, 2, config.Synthesis.SecurityCeiling)
	assert.Equal(t, 1, *config.Synthesis.DissentThreshold)
	assert.Equal(t, 0.5, config.Synthesis.ScoreUnit)
	assert.Equal(t, 30*time.Second, config.Stages.CollectTimeout)
	assert.Equal(t, DefaultStageTimeout, config.Stages.ReviewTimeout)
	assert.Equal(t, 8, config.Stages.MaxConcurrency)
	assert.Equal(t, []string{"./judges/prosecutor", "--strict"}, config.Reviewers["Prosecutor"].Command)
	assert.Equal(t, time.Minute, config.Reviewers["Prosecutor"].Timeout)
	assert.Equal(t, "ci", config.Storage.Namespace)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/tribunal.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
synthesis:
  - this is invalid
    yaml syntax
`)

	config, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_EnvOverridesRedisURL(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
storage:
  redis_url: redis://file:6379
`)
	t.Setenv(RedisURLEnv, "redis://env:6379/1")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://env:6379/1", config.Storage.RedisURL)
}

func TestValidate_AppliesDefaults(t *testing.T) {
	config := &TribunalConfig{Version: "1.0"}
	require.NoError(t, config.Validate())

	s := config.Synthesis
	assert.Equal(t, DefaultSecurityCeiling, s.SecurityCeiling)
	assert.Equal(t, DefaultDissentThreshold, *s.DissentThreshold)
	assert.Equal(t, DefaultUnsupportedWeight, *s.UnsupportedWeight)
	assert.Equal(t, audit.RoleTechLead, s.WeightedRole)
	assert.Equal(t, audit.WeightClassArchitecture, s.WeightedClass)
	assert.Equal(t, DefaultRoleWeight, s.RoleWeight)
	assert.Equal(t, DefaultScoreUnit, s.ScoreUnit)
	assert.Equal(t, DefaultNoEvidenceScore, s.NoEvidenceScore)
	assert.Equal(t, DefaultUnreviewedScore, s.UnreviewedScore)
	assert.Equal(t, DefaultMaxConcurrency, config.Stages.MaxConcurrency)
	assert.Equal(t, DefaultNamespace, config.Storage.Namespace)
}

func TestValidate_ExplicitZeroDissentThresholdKept(t *testing.T) {
	zero := 0
	config := &TribunalConfig{Version: "1.0", Synthesis: &SynthesisConfig{DissentThreshold: &zero}}
	require.NoError(t, config.Validate())
	assert.Equal(t, 0, *config.Synthesis.DissentThreshold)
}

func TestValidate_Errors(t *testing.T) {
	negative := -1
	tooHeavy := 1.5

	tests := []struct {
		name   string
		config TribunalConfig
		errMsg string
	}{
		{"unsupported version", TribunalConfig{Version: "2.0"}, "unsupported version: 2.0"},
		{"ceiling out of range", TribunalConfig{Version: "1.0", Synthesis: &SynthesisConfig{SecurityCeiling: 7}}, "security_ceiling must be within [1,5]"},
		{"negative dissent threshold", TribunalConfig{Version: "1.0", Synthesis: &SynthesisConfig{DissentThreshold: &negative}}, "dissent_threshold must be >= 0"},
		{"unsupported weight too high", TribunalConfig{Version: "1.0", Synthesis: &SynthesisConfig{UnsupportedWeight: &tooHeavy}}, "unsupported_weight must be within [0,1]"},
		{"unknown weighted role", TribunalConfig{Version: "1.0", Synthesis: &SynthesisConfig{WeightedRole: "Judge"}}, "synthesis.weighted_role"},
		{"unknown weighted class", TribunalConfig{Version: "1.0", Synthesis: &SynthesisConfig{WeightedClass: "critical"}}, "synthesis.weighted_class"},
		{"fallback out of range", TribunalConfig{Version: "1.0", Synthesis: &SynthesisConfig{UnreviewedScore: 9}}, "unreviewed_score must be within [1,5]"},
		{"bad concurrency", TribunalConfig{Version: "1.0", Stages: &StagesConfig{MaxConcurrency: -2}}, "max_concurrency must be >= 1"},
		{"negative timeout", TribunalConfig{Version: "1.0", Stages: &StagesConfig{CollectTimeout: -time.Second}}, "stage timeouts must be positive"},
		{"unknown reviewer role", TribunalConfig{Version: "1.0", Reviewers: map[string]ReviewerSpec{"Judge": {Command: []string{"x"}}}}, "unknown reviewer role"},
		{"reviewer without command", TribunalConfig{Version: "1.0", Reviewers: map[string]ReviewerSpec{"Defense": {}}}, "reviewer 'Defense': command is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.config
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		path := writeConfig(t, "version: \"1.0\"\nrubric: custom.yml\n")
		config, err := LoadOrDefault(path)
		require.NoError(t, err)
		assert.Equal(t, "custom.yml", config.Rubric)
	})

	t.Run("no file falls back to defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		config, err := LoadOrDefault("")
		require.NoError(t, err)
		assert.Equal(t, DefaultSecurityCeiling, config.Synthesis.SecurityCeiling)
	})

	t.Run("picks up tribunal.yml in working directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("version: \"1.0\"\nrubric: local.yml\n"), 0644))
		t.Chdir(dir)
		config, err := LoadOrDefault("")
		require.NoError(t, err)
		assert.Equal(t, "local.yml", config.Rubric)
	})
}

func TestClone_IsDeep(t *testing.T) {
	cfg := &TribunalConfig{
		Version:   "1.0",
		Synthesis: &SynthesisConfig{},
		Stages:    &StagesConfig{},
		Reviewers: map[string]ReviewerSpec{"Defense": {Command: []string{"./judge"}}},
	}

	cp := cfg.Clone()
	require.NoError(t, cp.Validate())
	cp.Reviewers["Defense"].Command[0] = "./other"

	assert.Zero(t, cfg.Synthesis.SecurityCeiling)
	assert.Zero(t, cfg.Stages.MaxConcurrency)
	assert.Nil(t, cfg.Storage)
	assert.Equal(t, "./judge", cfg.Reviewers["Defense"].Command[0])
	assert.Equal(t, DefaultSecurityCeiling, cp.Synthesis.SecurityCeiling)
}
