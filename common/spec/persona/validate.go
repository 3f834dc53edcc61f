package persona

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes a persona document, rejecting unknown keys, then applies
// defaults and validates it.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidConfig, err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes cfg as YAML. The output round-trips through Parse.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("persona: marshal: %w", err)
	}
	return data, nil
}

// ApplyDefaults fills optional fields that were left empty.
func ApplyDefaults(cfg *Config) {
	if cfg.SafetyLevel == "" {
		cfg.SafetyLevel = SafetyAdult
	}
	if cfg.Visibility == "" {
		cfg.Visibility = VisibilityPublic
	}
	if cfg.ToolSet == "" {
		cfg.ToolSet = ToolSetConversation
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
}

// Validate checks a Config after defaults have been applied and returns the
// first problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config must not be nil", ErrInvalidConfig)
	}
	if cfg.APIVersion != SpecVersion {
		return fmt.Errorf("%w: apiVersion must be %q, got %q", ErrInvalidConfig, SpecVersion, cfg.APIVersion)
	}
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: id must not be empty", ErrInvalidConfig)
	}
	if strings.ContainsAny(cfg.ID, " \t\n/") {
		return fmt.Errorf("%w: id %q must not contain whitespace or '/'", ErrInvalidConfig, cfg.ID)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidConfig)
	}

	switch cfg.SafetyLevel {
	case SafetyChild, SafetyTeen, SafetyAdult:
	default:
		return fmt.Errorf("%w: safetyLevel %q is not one of CHILD, TEEN, ADULT", ErrInvalidConfig, cfg.SafetyLevel)
	}
	switch cfg.Visibility {
	case VisibilityPublic, VisibilityPrivate:
	default:
		return fmt.Errorf("%w: visibility %q is not one of PUBLIC, PRIVATE", ErrInvalidConfig, cfg.Visibility)
	}
	switch cfg.ToolSet {
	case ToolSetConversation, ToolSetForge, ToolSetNone:
	default:
		return fmt.Errorf("%w: toolSet %q is not one of conversation, forge, none", ErrInvalidConfig, cfg.ToolSet)
	}
	if cfg.Visibility == VisibilityPrivate && cfg.CreatorID == "" {
		return fmt.Errorf("%w: private personas need a creatorId", ErrInvalidConfig)
	}

	if t := cfg.Temperature; t != nil && (*t < 0 || *t > MaxTemperature) {
		return fmt.Errorf("%w: temperature %.2f is outside [0, %.1f]", ErrInvalidConfig, *t, MaxTemperature)
	}
	if cfg.MaxTokens < 0 {
		return fmt.Errorf("%w: maxTokens must not be negative", ErrInvalidConfig)
	}

	for i, truth := range cfg.Locket {
		if strings.TrimSpace(truth) == "" {
			return fmt.Errorf("%w: locket[%d] must not be empty", ErrInvalidConfig, i)
		}
	}
	return nil
}
