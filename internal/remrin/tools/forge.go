package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdobrica/Remrin/internal/remrin/images"
	"github.com/bdobrica/Remrin/internal/remrin/personas"
)

const (
	GeneratePortraitName = "generate_soul_portrait"
	ShowRevealName       = "show_soul_reveal"
	FinalizeSoulName     = "finalize_soul"
)

// ForgeStore persists drafts and finished personas created in a forge chat.
type ForgeStore interface {
	SaveDraft(ctx context.Context, userID string, soul personas.Soul) (string, error)
	Finalize(ctx context.Context, userID string, soul personas.Soul) (string, error)
}

const portraitSchema = `{
  "type": "object",
  "properties": {
    "appearance_description": {"type": "string", "minLength": 1, "description": "A detailed visual description of the companion: colors, features, size, style and distinguishing marks."}
  },
  "required": ["appearance_description"]
}`

const soulProperties = `
    "name": {"type": "string", "minLength": 1, "description": "The companion's name"},
    "essence": {"type": "string", "minLength": 1, "description": "The core essence or role, e.g. \"protective dragon\""},
    "personality": {"type": "string", "minLength": 1, "description": "Personality traits, e.g. \"gentle, brave, playful\""},
    "image_url": {"type": "string", "description": "The portrait image URL"}`

var revealSchema = `{
  "type": "object",
  "properties": {
    "persona_data": {
      "type": "object",
      "properties": {` + soulProperties + `,
        "voice_description": {"type": "string"}
      },
      "required": ["name", "essence", "personality", "image_url"]
    }
  },
  "required": ["persona_data"]
}`

var finalizeSchema = `{
  "type": "object",
  "properties": {` + soulProperties + `,
    "voice_id": {"type": ["string", "null"], "description": "The selected voice id, if any"},
    "bond_type": {"type": "string", "enum": ["friend", "mentor", "romantic", "companion", "creative", "protector", "rival", "muse"]}
  },
  "required": ["name", "essence", "personality", "image_url"]
}`

type portraitArgs struct {
	AppearanceDescription string `json:"appearance_description"`
}

type revealArgs struct {
	PersonaData struct {
		Name             string `json:"name"`
		Essence          string `json:"essence"`
		Personality      string `json:"personality"`
		VoiceDescription string `json:"voice_description"`
		ImageURL         string `json:"image_url"`
	} `json:"persona_data"`
}

type finalizeArgs struct {
	Name        string  `json:"name"`
	Essence     string  `json:"essence"`
	Personality string  `json:"personality"`
	VoiceID     *string `json:"voice_id"`
	ImageURL    string  `json:"image_url"`
	BondType    string  `json:"bond_type"`
}

// GeneratePortrait renders a portrait for the soul being forged.
func GeneratePortrait(gen images.Generator) Tool {
	return Typed(GeneratePortraitName,
		"Generates a portrait image for the companion from the user's visual description.",
		portraitSchema,
		func(ctx context.Context, args portraitArgs) (any, error) {
			if gen == nil {
				return nil, errors.New("portrait generation is not configured")
			}
			url, err := gen.Generate(ctx, args.AppearanceDescription)
			if err != nil {
				return nil, fmt.Errorf("generate portrait: %w", err)
			}
			return map[string]string{"image_url": url}, nil
		})
}

// ShowReveal stores a draft and returns the reveal payload.
func ShowReveal(store ForgeStore) Tool {
	return Typed(ShowRevealName,
		"Displays the completed soul with all its attributes so the user can review it before finalizing.",
		revealSchema,
		func(ctx context.Context, args revealArgs) (any, error) {
			d := args.PersonaData
			soul := personas.Soul{
				Name:             d.Name,
				Essence:          d.Essence,
				Personality:      d.Personality,
				VoiceDescription: d.VoiceDescription,
				ImageURL:         d.ImageURL,
			}
			draftID, err := store.SaveDraft(ctx, ScopeFrom(ctx).UserID, soul)
			if err != nil {
				return nil, fmt.Errorf("save draft: %w", err)
			}
			return map[string]any{"displayed": true, "draft_id": draftID, "reveal": soul}, nil
		})
}

// FinalizeSoul creates the persona. It is exclusive per user so two
// finalize calls cannot both create a persona for the same draft.
func FinalizeSoul(store ForgeStore) Tool {
	return Typed(FinalizeSoulName,
		"Saves the companion as a persona in the user's library, completing the ritual.",
		finalizeSchema,
		func(ctx context.Context, args finalizeArgs) (any, error) {
			userID := ScopeFrom(ctx).UserID
			if userID == "" {
				return nil, errors.New("finalize requires a user")
			}
			soul := personas.Soul{
				Name:        args.Name,
				Essence:     args.Essence,
				Personality: args.Personality,
				ImageURL:    args.ImageURL,
				BondType:    args.BondType,
			}
			if args.VoiceID != nil {
				soul.VoiceID = *args.VoiceID
			}
			id, err := store.Finalize(ctx, userID, soul)
			if err != nil {
				return nil, fmt.Errorf("finalize: %w", err)
			}
			return map[string]string{"persona_id": id}, nil
		},
		Exclusive())
}

// Forge returns the registry for persona-creation chats.
func Forge(r *Registry, gen images.Generator, store ForgeStore) *Registry {
	return r.MustRegister(GeneratePortrait(gen), ShowReveal(store), FinalizeSoul(store))
}
