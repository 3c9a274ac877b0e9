package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/callcoach/internal/quota"
	"github.com/MrWong99/callcoach/internal/session"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs", "polly", "canned"},
	"vad": {"energy"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultLanguage    = "en"
	DefaultDailyBudget = 5.0

	DefaultDisruptionFrequency = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes parses an in-memory config file.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyDefaults fills unset fields with their defaults. Session-level
// defaults that depend on the mode are left to the orchestrator.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = DefaultLanguage
	}
	if cfg.Session.Mode == "" {
		cfg.Session.Mode = session.ModeSingle
	}
	if cfg.Disruption.Frequency == 0 {
		cfg.Disruption.Frequency = DefaultDisruptionFrequency
	}
	if cfg.Quota.Backend == "" {
		cfg.Quota.Backend = QuotaMemory
	}
	if cfg.Quota.DailyBudget == 0 {
		cfg.Quota.DailyBudget = DefaultDailyBudget
	}
}

// Costs returns the price table with the configured overrides applied.
func (q QuotaConfig) Costs() quota.Costs {
	c := quota.DefaultCosts
	if q.LLMPer1KTokens > 0 {
		c.LLMPer1KTokens = q.LLMPer1KTokens
	}
	if q.TTSPer1KChars > 0 {
		c.TTSPer1KChars = q.TTSPer1KChars
	}
	if q.LLMReplyTokens > 0 {
		c.LLMReplyTokens = q.LLMReplyTokens
	}
	return c
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for _, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
	}
	for _, e := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", e.Name)
	}
	if (cfg.Providers.LLM.Name == "" || cfg.Providers.TTS.Name == "") && !cfg.Session.MockMode {
		slog.Warn("no LLM or TTS provider configured; sessions will use canned replies and offline audio")
	}

	// Session
	s := cfg.Session
	if s.Mode != "" && !s.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: single, stress", s.Mode))
	}
	if s.VADSensitivity != "" && !s.VADSensitivity.IsValid() {
		errs = append(errs, fmt.Errorf("session.vad_sensitivity %q is invalid; valid values: low, medium, high", s.VADSensitivity))
	}
	if s.QueueLength < 0 {
		errs = append(errs, fmt.Errorf("session.queue_length %d must not be negative", s.QueueLength))
	}
	if s.InterCallDelay < 0 {
		errs = append(errs, fmt.Errorf("session.inter_call_delay %s must not be negative", s.InterCallDelay))
	}
	if s.InterCallDelay%time.Second != 0 {
		slog.Warn("session.inter_call_delay is counted down in whole seconds; the remainder is ignored",
			"inter_call_delay", s.InterCallDelay)
	}
	if s.DifficultyCurve < 0 || s.DifficultyCurve > 100 {
		errs = append(errs, fmt.Errorf("session.difficulty_curve %d is out of range [0, 100]", s.DifficultyCurve))
	}
	if s.NoiseFloor < 0 || s.NoiseFloor >= 1 {
		errs = append(errs, fmt.Errorf("session.noise_floor %v is out of range [0, 1)", s.NoiseFloor))
	}
	for i, path := range s.ContextDocuments {
		if path == "" {
			errs = append(errs, fmt.Errorf("session.context_documents[%d] is empty", i))
		}
	}

	// Disruption
	if err := cfg.Disruption.Engine().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("disruption: %w", err))
	}

	// Quota
	if !cfg.Quota.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("quota.backend %q is invalid; valid values: memory, redis", cfg.Quota.Backend))
	}
	if cfg.Quota.DailyBudget < 0 {
		errs = append(errs, fmt.Errorf("quota.daily_budget %v must not be negative", cfg.Quota.DailyBudget))
	}
	if cfg.Quota.Backend == QuotaRedis && cfg.Quota.RedisAddr == "" {
		errs = append(errs, errors.New("quota.redis_addr is required when quota.backend is redis"))
	}

	// Persistence
	if cfg.Persistence.PostgresDSN == "" {
		slog.Debug("persistence.postgres_dsn is empty; reports are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
