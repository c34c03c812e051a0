package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dyluth/tribunal/pkg/audit"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the file name looked up when --config is not given
const DefaultConfigFile = "tribunal.yml"

// RedisURLEnv overrides storage.redis_url when set
const RedisURLEnv = "TRIBUNAL_REDIS_URL"

// Default values applied by Validate when a field is omitted
const (
	DefaultSecurityCeiling   = 3
	DefaultDissentThreshold  = 2
	DefaultUnsupportedWeight = 0.25
	DefaultRoleWeight        = 2.0
	DefaultScoreUnit         = 1.0
	DefaultNoEvidenceScore   = 1
	DefaultUnreviewedScore   = 2
	DefaultStageTimeout      = 5 * time.Minute
	DefaultMaxConcurrency    = 4
	DefaultNamespace         = "default"
)

// TribunalConfig represents the top-level tribunal.yml configuration
type TribunalConfig struct {
	Version   string                  `yaml:"version"`
	Rubric    string                  `yaml:"rubric,omitempty"` // Path to a rubric file; built-in rubric when empty
	Synthesis *SynthesisConfig        `yaml:"synthesis,omitempty"`
	Stages    *StagesConfig           `yaml:"stages,omitempty"`
	Reviewers map[string]ReviewerSpec `yaml:"reviewers,omitempty"` // Role name -> external reviewer
	Storage   *StorageConfig          `yaml:"storage,omitempty"`
}

// SynthesisConfig holds the thresholds used by the synthesis rules.
// Pointer fields distinguish "unset" from an explicit zero.
type SynthesisConfig struct {
	SecurityCeiling   int               `yaml:"security_ceiling,omitempty"`   // Max score for a criterion with flagged evidence
	DissentThreshold  *int              `yaml:"dissent_threshold,omitempty"`  // max-min spread above which dissent is raised
	UnsupportedWeight *float64          `yaml:"unsupported_weight,omitempty"` // Weight kept by an uncited score when blended
	WeightedRole      audit.Role        `yaml:"weighted_role,omitempty"`
	WeightedClass     audit.WeightClass `yaml:"weighted_class,omitempty"`
	RoleWeight        float64           `yaml:"role_weight,omitempty"`
	ScoreUnit         float64           `yaml:"score_unit,omitempty"`        // Final scores are rounded to a multiple of this
	NoEvidenceScore   int               `yaml:"no_evidence_score,omitempty"` // Fallback when a criterion has neither evidence nor opinions
	UnreviewedScore   int               `yaml:"unreviewed_score,omitempty"`  // Fallback when evidence exists but no opinion was produced
}

// StagesConfig bounds the collect and review stages
type StagesConfig struct {
	CollectTimeout time.Duration `yaml:"collect_timeout,omitempty"`
	ReviewTimeout  time.Duration `yaml:"review_timeout,omitempty"`
	MaxConcurrency int           `yaml:"max_concurrency,omitempty"`
}

// ReviewerSpec configures an external reviewer command for one role
type ReviewerSpec struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// StorageConfig points at the Redis instance that keeps run history
type StorageConfig struct {
	RedisURL  string `yaml:"redis_url,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Default returns a validated configuration with every default applied.
func Default() *TribunalConfig {
	cfg := &TribunalConfig{Version: "1.0"}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Clone returns a deep copy, so validating the copy leaves c untouched.
func (c *TribunalConfig) Clone() *TribunalConfig {
	cp := *c
	if c.Synthesis != nil {
		syn := *c.Synthesis
		cp.Synthesis = &syn
	}
	if c.Stages != nil {
		stages := *c.Stages
		cp.Stages = &stages
	}
	if c.Storage != nil {
		storage := *c.Storage
		cp.Storage = &storage
	}
	if c.Reviewers != nil {
		cp.Reviewers = make(map[string]ReviewerSpec, len(c.Reviewers))
		for name, spec := range c.Reviewers {
			spec.Command = append([]string(nil), spec.Command...)
			cp.Reviewers[name] = spec
		}
	}
	return &cp
}

// Validate performs strict validation on the configuration and fills in defaults
func (c *TribunalConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Synthesis == nil {
		c.Synthesis = &SynthesisConfig{}
	}
	if err := c.Synthesis.Validate(); err != nil {
		return err
	}

	if c.Stages == nil {
		c.Stages = &StagesConfig{}
	}
	if err := c.Stages.Validate(); err != nil {
		return err
	}

	for name, spec := range c.Reviewers {
		if _, err := audit.ParseRole(name); err != nil {
			return fmt.Errorf("reviewers: %w (valid: Prosecutor, Defense, TechLead)", err)
		}
		if len(spec.Command) == 0 {
			return fmt.Errorf("reviewer '%s': command is required", name)
		}
		if spec.Timeout < 0 {
			return fmt.Errorf("reviewer '%s': timeout must be >= 0, got %s", name, spec.Timeout)
		}
	}

	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = DefaultNamespace
	}

	return nil
}

// Validate applies synthesis defaults and checks their ranges
func (s *SynthesisConfig) Validate() error {
	if s.SecurityCeiling == 0 {
		s.SecurityCeiling = DefaultSecurityCeiling
	}
	if s.SecurityCeiling < audit.MinScore || s.SecurityCeiling > audit.MaxScore {
		return fmt.Errorf("synthesis.security_ceiling must be within [1,5], got %d", s.SecurityCeiling)
	}

	if s.DissentThreshold == nil {
		threshold := DefaultDissentThreshold
		s.DissentThreshold = &threshold
	}
	if *s.DissentThreshold < 0 {
		return fmt.Errorf("synthesis.dissent_threshold must be >= 0, got %d", *s.DissentThreshold)
	}

	if s.UnsupportedWeight == nil {
		weight := DefaultUnsupportedWeight
		s.UnsupportedWeight = &weight
	}
	if *s.UnsupportedWeight < 0 || *s.UnsupportedWeight > 1 {
		return fmt.Errorf("synthesis.unsupported_weight must be within [0,1], got %v", *s.UnsupportedWeight)
	}

	if s.WeightedRole == "" {
		s.WeightedRole = audit.RoleTechLead
	}
	if err := s.WeightedRole.Validate(); err != nil {
		return fmt.Errorf("synthesis.weighted_role: %w", err)
	}

	if s.WeightedClass == "" {
		s.WeightedClass = audit.WeightClassArchitecture
	}
	if err := s.WeightedClass.Validate(); err != nil {
		return fmt.Errorf("synthesis.weighted_class: %w", err)
	}

	if s.RoleWeight == 0 {
		s.RoleWeight = DefaultRoleWeight
	}
	if s.RoleWeight < 0 {
		return fmt.Errorf("synthesis.role_weight must be > 0, got %v", s.RoleWeight)
	}

	if s.ScoreUnit == 0 {
		s.ScoreUnit = DefaultScoreUnit
	}
	if s.ScoreUnit < 0 || s.ScoreUnit > audit.MaxScore-audit.MinScore {
		return fmt.Errorf("synthesis.score_unit must be within (0,4], got %v", s.ScoreUnit)
	}

	if s.NoEvidenceScore == 0 {
		s.NoEvidenceScore = DefaultNoEvidenceScore
	}
	if s.UnreviewedScore == 0 {
		s.UnreviewedScore = DefaultUnreviewedScore
	}
	for name, v := range map[string]int{"no_evidence_score": s.NoEvidenceScore, "unreviewed_score": s.UnreviewedScore} {
		if v < audit.MinScore || v > audit.MaxScore {
			return fmt.Errorf("synthesis.%s must be within [1,5], got %d", name, v)
		}
	}

	return nil
}

// Validate applies stage defaults and checks their ranges
func (s *StagesConfig) Validate() error {
	if s.CollectTimeout == 0 {
		s.CollectTimeout = DefaultStageTimeout
	}
	if s.ReviewTimeout == 0 {
		s.ReviewTimeout = DefaultStageTimeout
	}
	if s.CollectTimeout < 0 || s.ReviewTimeout < 0 {
		return fmt.Errorf("stage timeouts must be positive")
	}

	if s.MaxConcurrency == 0 {
		s.MaxConcurrency = DefaultMaxConcurrency
	}
	if s.MaxConcurrency < 1 {
		return fmt.Errorf("stages.max_concurrency must be >= 1, got %d", s.MaxConcurrency)
	}

	return nil
}

// ApplyEnv overrides file values with environment variables
func (c *TribunalConfig) ApplyEnv() {
	if url := os.Getenv(RedisURLEnv); url != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Namespace: DefaultNamespace}
		}
		c.Storage.RedisURL = url
	}
}

// Load reads and validates tribunal.yml from the specified path
func Load(path string) (*TribunalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config TribunalConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ApplyEnv()
	return &config, nil
}

// LoadOrDefault loads path when given, falls back to tribunal.yml in the
// working directory when it exists, and to the built-in defaults otherwise.
func LoadOrDefault(path string) (*TribunalConfig, error) {
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err != nil {
			cfg := Default()
			cfg.ApplyEnv()
			return cfg, nil
		}
		path = DefaultConfigFile
	}
	return Load(path)
}
