package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per capability. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "fireworks", "openai", "whisper"},
	"llm": {"openai", "groq", "anthropic"},
}

// Defaults applied by [Validate] when the corresponding field is empty.
const (
	defaultWorkDir              = "/tmp/voxnote"
	defaultLongAudio            = 10 * time.Minute
	defaultEscalationWindow     = time.Hour
	defaultShortTranscriptChars = 200
)

// Load reads the YAML configuration file at path and returns a validated
// [Config].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, filling
// defaults where the file is silent. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required"))
	}
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}

	if cfg.Media.WorkDir == "" {
		cfg.Media.WorkDir = defaultWorkDir
	}

	if len(cfg.Providers.STT) == 0 {
		errs = append(errs, errors.New("providers.stt must list at least one provider"))
	}
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("providers.llm is empty; summaries and titles will be unavailable")
	}

	sttNames := make(map[string]int, len(cfg.Providers.STT))
	for i, p := range cfg.Providers.STT {
		prefix := fmt.Sprintf("providers.stt[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := sttNames[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.stt[%d]", prefix, p.Name, prev))
		}
		sttNames[p.Name] = i
		validateProviderName("stt", p.Name)
		if p.Name == "whisper" && p.ModelPath == "" {
			errs = append(errs, fmt.Errorf("%s.model_path is required for the local whisper provider", prefix))
		}
		if p.Name != "whisper" && p.APIKey == "" {
			slog.Warn("STT provider has no api_key configured", "provider", p.Name)
		}
	}
	for i, p := range cfg.Providers.LLM {
		prefix := fmt.Sprintf("providers.llm[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("llm", p.Name)
	}

	// Pipeline ordering must reference configured STT entries.
	if cfg.Pipeline.QualityProvider == "" {
		errs = append(errs, errors.New("pipeline.quality_provider is required"))
	} else if _, ok := sttNames[cfg.Pipeline.QualityProvider]; !ok && len(cfg.Providers.STT) > 0 {
		errs = append(errs, fmt.Errorf("pipeline.quality_provider %q is not in providers.stt", cfg.Pipeline.QualityProvider))
	}
	if cfg.Pipeline.FastProvider == "" {
		errs = append(errs, errors.New("pipeline.fast_provider is required"))
	} else if _, ok := sttNames[cfg.Pipeline.FastProvider]; !ok && len(cfg.Providers.STT) > 0 {
		errs = append(errs, fmt.Errorf("pipeline.fast_provider %q is not in providers.stt", cfg.Pipeline.FastProvider))
	}
	for _, name := range cfg.Pipeline.STTFallbacks {
		if _, ok := sttNames[name]; !ok && len(cfg.Providers.STT) > 0 {
			errs = append(errs, fmt.Errorf("pipeline.stt_fallbacks entry %q is not in providers.stt", name))
		}
	}

	if cfg.Pipeline.LongAudio <= 0 {
		cfg.Pipeline.LongAudio = Duration(defaultLongAudio)
	}
	if cfg.Pipeline.EscalationWindow <= 0 {
		cfg.Pipeline.EscalationWindow = Duration(defaultEscalationWindow)
	}
	if cfg.Pipeline.ShortTranscriptChars <= 0 {
		cfg.Pipeline.ShortTranscriptChars = defaultShortTranscriptChars
	}

	if cfg.Summary.Cutover.Std().IsZero() && len(cfg.Providers.LLM) > 0 {
		slog.Warn("summary.cutover is not set; automatic summaries stay enabled for all accounts")
	}
	if cfg.Summary.SystemPrompt == "" && len(cfg.Providers.LLM) > 0 {
		errs = append(errs, errors.New("summary.system_prompt is required when LLM providers are configured"))
	}
	for _, name := range cfg.Summary.DefaultModels {
		if !llmConfigured(cfg, name) {
			errs = append(errs, fmt.Errorf("summary.default_models entry %q is not in providers.llm", name))
		}
	}

	return errors.Join(errs...)
}

func llmConfigured(cfg *Config, name string) bool {
	for _, p := range cfg.Providers.LLM {
		if p.Name == name || p.Model == name {
			return true
		}
	}
	return false
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
