package safety

import (
	"strings"
	"testing"

	"github.com/bdobrica/Remrin/common/spec/persona"
)

func TestDirectiveFor(t *testing.T) {
	if got := DirectiveFor(persona.SafetyAdult); got != "" {
		t.Errorf("ADULT directive = %q, want empty", got)
	}
	if got := DirectiveFor(persona.SafetyTeen); !strings.HasPrefix(got, "[TEEN MODE]") {
		t.Errorf("TEEN directive = %q", got)
	}
	if got := DirectiveFor(persona.SafetyChild); !strings.Contains(got, "CRITICAL SAFETY OVERRIDE") {
		t.Errorf("CHILD directive = %q", got)
	}
	if got := DirectiveFor(persona.SafetyLevel("UNRATED")); got != ChildDirective {
		t.Errorf("unknown level should fall back to the child directive, got %q", got)
	}
}
