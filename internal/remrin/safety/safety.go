// Package safety maps a persona's audience level to the directive text
// injected near the top of every prompt.
package safety

import "github.com/bdobrica/Remrin/common/spec/persona"

const (
	// ChildDirective applies to personas aimed at children under 10.
	ChildDirective = `[CRITICAL SAFETY OVERRIDE]:
- AUDIENCE: Child under 10.
- LANGUAGE: STRICTLY PROHIBIT profanity, violence, sexual themes, or dark topics.
- TONE: Gentle, encouraging, simple, and wholesome.
- REJECTION: If the user asks about inappropriate topics, gently redirect them ("Let's play a game instead!").`

	// TeenDirective applies to teen personas.
	TeenDirective = "[TEEN MODE]: Mild conflict and drama are okay, but avoid graphic violence, explicit content, or mature themes. Keep language clean but relatable."
)

// DirectiveFor returns the directive for level. ADULT has none; any level
// outside the known set gets the CHILD directive.
func DirectiveFor(level persona.SafetyLevel) string {
	switch level {
	case persona.SafetyAdult:
		return ""
	case persona.SafetyTeen:
		return TeenDirective
	default:
		return ChildDirective
	}
}
