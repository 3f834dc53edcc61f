// Package persona defines the versioned persona document (apiVersion
// "persona/v1") that describes one conversational identity: its base prompt,
// audience safety level, generation parameters and seeded locket truths.
//
// The struct is closed: unknown keys are rejected at parse time, and every
// optional field has an explicit default applied once by Parse, so the rest
// of the system never re-validates persona data at use sites.
package persona

import "errors"

// SpecVersion is the only accepted apiVersion.
const SpecVersion = "persona/v1"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("persona: invalid config")

// SafetyLevel is the audience a persona is configured for.
type SafetyLevel string

const (
	SafetyChild SafetyLevel = "CHILD"
	SafetyTeen  SafetyLevel = "TEEN"
	SafetyAdult SafetyLevel = "ADULT"
)

// Visibility controls who may converse with a persona.
type Visibility string

const (
	// VisibilityPublic personas are readable by every user.
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityPrivate personas are readable by the creator and users with
	// an explicit access grant.
	VisibilityPrivate Visibility = "PRIVATE"
)

// ToolSet selects the closed set of tools offered to the model.
type ToolSet string

const (
	// ToolSetConversation offers the save tools (locket, shared facts).
	ToolSetConversation ToolSet = "conversation"
	// ToolSetForge offers the persona-creation tools (portrait, reveal, finalize).
	ToolSetForge ToolSet = "forge"
	// ToolSetNone sends no tools; the model can only answer in text.
	ToolSetNone ToolSet = "none"
)

const (
	DefaultTemperature = 0.9
	DefaultMaxTokens   = 2000
	MaxTemperature     = 2.0
)

// Config is one persona document.
type Config struct {
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`

	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	SystemPrompt string `yaml:"systemPrompt" json:"systemPrompt"`

	SafetyLevel SafetyLevel `yaml:"safetyLevel,omitempty" json:"safetyLevel,omitempty"`
	// Temperature is a pointer so an explicit 0 is distinguishable from unset.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty"`

	VoiceID  string `yaml:"voiceId,omitempty" json:"voiceId,omitempty"`
	ImageURL string `yaml:"imageUrl,omitempty" json:"imageUrl,omitempty"`

	CreatorID  string     `yaml:"creatorId,omitempty" json:"creatorId,omitempty"`
	Visibility Visibility `yaml:"visibility,omitempty" json:"visibility,omitempty"`
	ToolSet    ToolSet    `yaml:"toolSet,omitempty" json:"toolSet,omitempty"`

	// Locket lists truths seeded at import time (provenance SEEDED).
	Locket []string `yaml:"locket,omitempty" json:"locket,omitempty"`
}

// EffectiveTemperature returns the configured temperature or the default.
func (c *Config) EffectiveTemperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// IsPublic reports whether every user may converse with the persona.
func (c *Config) IsPublic() bool { return c.Visibility == VisibilityPublic }
