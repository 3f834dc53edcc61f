package persona_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/Remrin/common/spec/persona"
)

const minimal = `
apiVersion: persona/v1
id: mira
name: Mira
systemPrompt: You are Mira, a lighthouse keeper who loves storms.
`

const full = `
apiVersion: persona/v1
id: captain-byte
name: Captain Byte
systemPrompt: You are a robot pirate.
safetyLevel: CHILD
temperature: 0.7
maxTokens: 800
voiceId: voice-123
imageUrl: https://img.example/byte.png
creatorId: user-1
visibility: PRIVATE
toolSet: forge
locket:
  - "Captain Byte's ship is called the Binary Tide."
  - "Captain Byte never lies to a crewmate."
`

func TestParse_MinimalAppliesDefaults(t *testing.T) {
	cfg, err := persona.Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SafetyLevel != persona.SafetyAdult {
		t.Errorf("SafetyLevel = %q, want ADULT", cfg.SafetyLevel)
	}
	if cfg.Visibility != persona.VisibilityPublic {
		t.Errorf("Visibility = %q, want PUBLIC", cfg.Visibility)
	}
	if cfg.ToolSet != persona.ToolSetConversation {
		t.Errorf("ToolSet = %q, want conversation", cfg.ToolSet)
	}
	if cfg.EffectiveTemperature() != persona.DefaultTemperature {
		t.Errorf("EffectiveTemperature = %v, want %v", cfg.EffectiveTemperature(), persona.DefaultTemperature)
	}
	if cfg.MaxTokens != persona.DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", cfg.MaxTokens, persona.DefaultMaxTokens)
	}
}

func TestParse_Full(t *testing.T) {
	cfg, err := persona.Parse([]byte(full))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SafetyLevel != persona.SafetyChild || cfg.ToolSet != persona.ToolSetForge {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
	if cfg.EffectiveTemperature() != 0.7 {
		t.Errorf("temperature = %v", cfg.EffectiveTemperature())
	}
	if len(cfg.Locket) != 2 {
		t.Errorf("locket = %v", cfg.Locket)
	}
}

func TestParse_ExplicitZeroTemperatureIsKept(t *testing.T) {
	cfg, err := persona.Parse([]byte(minimal + "temperature: 0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.EffectiveTemperature() != 0 {
		t.Errorf("EffectiveTemperature = %v, want 0", cfg.EffectiveTemperature())
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     minimal + "mood: sunny\n",
		"wrong version":   strings.Replace(minimal, "persona/v1", "persona/v0", 1),
		"missing name":    strings.Replace(minimal, "name: Mira", "", 1),
		"bad safety":      minimal + "safetyLevel: MATURE\n",
		"hot temperature": minimal + "temperature: 2.5\n",
		"empty locket":    minimal + "locket:\n  - \"  \"\n",
		"private orphan":  minimal + "visibility: PRIVATE\n",
		"bad tool set":    minimal + "toolSet: admin\n",
		"empty document":  "",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := persona.Parse([]byte(doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, persona.ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestMarshal_RoundTrips(t *testing.T) {
	cfg, err := persona.Parse([]byte(full))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	data, err := persona.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := persona.Parse(data)
	if err != nil {
		t.Fatalf("re-Parse: %v\n%s", err, data)
	}
	if again.Name != cfg.Name || again.EffectiveTemperature() != cfg.EffectiveTemperature() || len(again.Locket) != 2 {
		t.Errorf("round trip mismatch: %+v vs %+v", again, cfg)
	}
}
