// Package config loads the hybrid inference core's configuration from YAML,
// matching the teacher's config-loading shape (internal/config.Load) and
// recognized-option surface in spec.md §6.
package config

import (
	"fmt"
	"os"
	"time"

	validator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ExecutionPolicy is the SecurityPolicy.execution_policy enum (spec.md §3).
type ExecutionPolicy string

const (
	PolicyBalanced   ExecutionPolicy = "balanced"
	PolicySafeMode   ExecutionPolicy = "safe_mode"
	PolicyLocalOnly  ExecutionPolicy = "local_only"
	PolicyCloudOnly  ExecutionPolicy = "cloud_only"
)

// CloudTier is the CloudModelTier enum.
type CloudTier string

const (
	TierMini    CloudTier = "mini"
	TierNormal  CloudTier = "normal"
	TierPremium CloudTier = "premium"
)

// Provider is the closed CloudProvider set.
type Provider string

const (
	ProviderAnthropic    Provider = "anthropic"
	ProviderOpenAI       Provider = "openai"
	ProviderGoogle       Provider = "google"
	ProviderPrivateCloud Provider = "private_cloud"
)

// ProviderConfig holds the endpoint/model table for one provider.
type ProviderConfig struct {
	Endpoint string            `yaml:"endpoint" validate:"required"`
	Models   map[CloudTier]string `yaml:"models" validate:"required"`
}

// HybridConfig is the Execution Manager configuration (spec.md §4.I).
type HybridConfig struct {
	UseIntentAnalysis  bool             `yaml:"use_intent_analysis"`
	ForceLocal         bool             `yaml:"force_local"`
	ForceCloud         bool             `yaml:"force_cloud"`
	PreferredCloudTier CloudTier        `yaml:"preferred_cloud_tier"`
	LocalGeneration    GenerationParams `yaml:"local_generation_params"`
	CloudGeneration    GenerationParams `yaml:"cloud_generation_params"`
	AllowFallback      bool             `yaml:"allow_fallback"`
}

// Named presets, grounded on spec.md §4.I.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		UseIntentAnalysis: true,
		AllowFallback:     true,
		LocalGeneration:   BalancedGeneration(),
		CloudGeneration:   BalancedGeneration(),
	}
}

func FastHybridConfig() HybridConfig {
	c := DefaultHybridConfig()
	c.UseIntentAnalysis = false
	return c
}

func PrivacyHybridConfig() HybridConfig {
	c := DefaultHybridConfig()
	c.ForceLocal = true
	c.AllowFallback = false
	return c
}

func PerformanceHybridConfig() HybridConfig {
	c := DefaultHybridConfig()
	c.ForceCloud = true
	return c
}

// GenerationParams is the Generation configuration (spec.md §6).
type GenerationParams struct {
	MaxTokens          int      `yaml:"max_tokens" validate:"gte=1"`
	Temperature        float64  `yaml:"temperature" validate:"gte=0,lte=2"`
	TopP               float64  `yaml:"top_p" validate:"gte=0,lte=1"`
	RepetitionPenalty  float64  `yaml:"repetition_penalty" validate:"gte=1"`
	Seed               *int64   `yaml:"seed,omitempty"`
	StopSequences      []string `yaml:"stop_sequences,omitempty"`
}

func ConservativeGeneration() GenerationParams {
	return GenerationParams{MaxTokens: 2048, Temperature: 0.3, TopP: 1, RepetitionPenalty: 1}
}

func BalancedGeneration() GenerationParams {
	return GenerationParams{MaxTokens: 1024, Temperature: 0.7, TopP: 1, RepetitionPenalty: 1}
}

func CreativeGeneration() GenerationParams {
	return GenerationParams{MaxTokens: 1024, Temperature: 0.9, TopP: 1, RepetitionPenalty: 1}
}

// RetryConfig is the Retry Policy configuration (spec.md §4.E).
type RetryConfig struct {
	MaxRetries            int           `yaml:"max_retries" validate:"gte=0"`
	BaseDelay             time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay              time.Duration `yaml:"max_delay"`
	ExponentialMultiplier float64       `yaml:"exponential_multiplier" validate:"gte=1"`
	RetryableStatusCodes  []int         `yaml:"retryable_status_codes"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		BaseDelay:             time.Second,
		MaxDelay:              60 * time.Second,
		ExponentialMultiplier: 2,
		RetryableStatusCodes:  []int{429, 500, 502, 503, 504},
	}
}

// BreakerConfig is the Circuit Breaker configuration (spec.md §4.C).
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=1"`
	Cooldown         time.Duration `yaml:"cooldown" validate:"gte=5000000000"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Cooldown: 60 * time.Second}
}

// SLAConfig is the SLA envelope configuration (spec.md §4.I).
type SLAConfig struct {
	MaxLatencyMS  int64  `yaml:"max_latency_ms"`
	MaxMemoryMB   int64  `yaml:"max_memory_mb"`
	Deterministic bool   `yaml:"deterministic"`
	TimeoutS      int64  `yaml:"timeout_s"`
	Version       string `yaml:"version"`
}

func DefaultSLAConfig() SLAConfig {
	return SLAConfig{MaxLatencyMS: 30000, MaxMemoryMB: 4096, TimeoutS: 30, Version: "v1"}
}

// HardwareConfig configures the probe polling cadence and safety margins
// (component A). Not named explicitly in spec.md §6's option table, but
// required to make the probes operate at all — it is the ambient knob set
// analogous to the teacher's Kubernetes/Actions sections.
type HardwareConfig struct {
	SafetyMarginBytes int64         `yaml:"safety_margin_bytes"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

func DefaultHardwareConfig() HardwareConfig {
	return HardwareConfig{SafetyMarginBytes: 2 << 30, PollInterval: 5 * time.Second}
}

// Config is the root configuration document.
type Config struct {
	Policy    ExecutionPolicy           `yaml:"policy"`
	Hybrid    HybridConfig              `yaml:"hybrid"`
	Retry     RetryConfig               `yaml:"retry"`
	Breaker   BreakerConfig             `yaml:"breaker"`
	SLA       SLAConfig                 `yaml:"sla"`
	Hardware  HardwareConfig            `yaml:"hardware"`
	Providers map[Provider]ProviderConfig `yaml:"providers" validate:"required"`
	Logging   LoggingConfig             `yaml:"logging"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a fully populated configuration using every documented
// default, suitable for tests and the demo binary.
func Default() *Config {
	return &Config{
		Policy:   PolicyBalanced,
		Hybrid:   DefaultHybridConfig(),
		Retry:    DefaultRetryConfig(),
		Breaker:  DefaultBreakerConfig(),
		SLA:      DefaultSLAConfig(),
		Hardware: DefaultHardwareConfig(),
		Providers: map[Provider]ProviderConfig{
			ProviderAnthropic: {
				Endpoint: "https://api.anthropic.com",
				Models: map[CloudTier]string{
					TierMini: "claude-haiku-4-5", TierNormal: "claude-sonnet-4-5", TierPremium: "claude-opus-4-5",
				},
			},
			ProviderOpenAI: {
				Endpoint: "https://api.openai.com",
				Models: map[CloudTier]string{
					TierMini: "gpt-5-mini", TierNormal: "gpt-5", TierPremium: "gpt-5-pro",
				},
			},
			ProviderGoogle: {
				Endpoint: "https://generativelanguage.googleapis.com",
				Models: map[CloudTier]string{
					TierMini: "gemini-2.5-flash", TierNormal: "gemini-2.5-pro", TierPremium: "gemini-2.5-pro",
				},
			},
			ProviderPrivateCloud: {
				Endpoint: "https://private-cloud.internal",
				Models: map[CloudTier]string{
					TierMini: "private-mini", TierNormal: "private-normal", TierPremium: "private-premium",
				},
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

var validate = validator.New()

// Load reads and validates a YAML configuration file, falling back to
// Default() for any section left unset in the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ModelOf returns the model string for a (provider, tier) pair.
func (c *Config) ModelOf(p Provider, tier CloudTier) (string, bool) {
	pc, ok := c.Providers[p]
	if !ok {
		return "", false
	}
	m, ok := pc.Models[tier]
	return m, ok
}
