package config

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
policy: safe_mode

hybrid:
  use_intent_analysis: true
  allow_fallback: true

retry:
  max_retries: 5
  base_delay: 2s
  max_delay: 30s
  exponential_multiplier: 3

breaker:
  failure_threshold: 5
  cooldown: 30s

sla:
  max_latency_ms: 15000
  timeout_s: 15
  version: "v2"

providers:
  anthropic:
    endpoint: "https://api.anthropic.com"
    models:
      mini: "claude-haiku-4-5"
      normal: "claude-sonnet-4-5"
      premium: "claude-opus-4-5"

logging:
  level: "debug"
  format: "json"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Policy).To(Equal(PolicySafeMode))
				Expect(cfg.Retry.MaxRetries).To(Equal(5))
				Expect(cfg.Breaker.FailureThreshold).To(Equal(5))
				Expect(cfg.SLA.Version).To(Equal("v2"))
				Expect(cfg.Logging.Level).To(Equal("debug"))

				model, ok := cfg.ModelOf(ProviderAnthropic, TierNormal)
				Expect(ok).To(BeTrue())
				Expect(model).To(Equal("claude-sonnet-4-5"))
			})
		})

		Context("when the config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
			})
		})

		Context("when a required section is explicitly emptied", func() {
			BeforeEach(func() {
				err := os.WriteFile(configFile, []byte("policy: balanced\nproviders: null\n"), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should fail validation because providers is required", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Default", func() {
		It("provides a fully populated, valid configuration", func() {
			cfg := Default()
			Expect(validate.Struct(cfg)).To(Succeed())
			Expect(cfg.Providers).To(HaveKey(ProviderPrivateCloud))
		})
	})

	Describe("presets", func() {
		It("fast disables intent analysis", func() {
			Expect(FastHybridConfig().UseIntentAnalysis).To(BeFalse())
		})

		It("privacy forces local and disables fallback", func() {
			c := PrivacyHybridConfig()
			Expect(c.ForceLocal).To(BeTrue())
			Expect(c.AllowFallback).To(BeFalse())
		})

		It("performance forces cloud", func() {
			Expect(PerformanceHybridConfig().ForceCloud).To(BeTrue())
		})
	})
})
