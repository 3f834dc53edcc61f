// Package prompt compiles everything known about a turn into one system
// prompt with a fixed section order.
//
// Section order, most authoritative first:
//
//	[IDENTITY]
//	[CORE CONFIG]
//	[SAFETY DIRECTIVE]
//	[LOCKET — IMMUTABLE TRUTHS]
//	[SHARED FACTS]
//	[RETRIEVED MEMORIES]
//	[RELATIONSHIP STATUS]
//	[INSTRUCTIONS]
//
// A section whose content is empty is not emitted at all.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bdobrica/Remrin/common/spec/persona"
	"github.com/bdobrica/Remrin/internal/remrin/facts"
	"github.com/bdobrica/Remrin/internal/remrin/memory"
	"github.com/bdobrica/Remrin/internal/remrin/relationship"
)

const (
	HeaderIdentity     = "[IDENTITY]"
	HeaderCoreConfig   = "[CORE CONFIG]"
	HeaderSafety       = "[SAFETY DIRECTIVE]"
	HeaderLocket       = "[LOCKET — IMMUTABLE TRUTHS]"
	HeaderSharedFacts  = "[SHARED FACTS]"
	HeaderMemories     = "[RETRIEVED MEMORIES]"
	HeaderRelationship = "[RELATIONSHIP STATUS]"
	HeaderInstructions = "[INSTRUCTIONS]"
)

// Limits bound how much of each input reaches the prompt.
type Limits struct {
	IdentityRunes int
	MemoryRunes   int
	LocketEntries int
}

// DefaultLimits are the production truncation rules.
var DefaultLimits = Limits{
	IdentityRunes: 8000,
	MemoryRunes:   500,
	LocketEntries: 20,
}

// Instructions is the fixed closing section.
var Instructions = []string{
	"Stay in character at all times. Never mention that you are an AI or a language model.",
	"AGENCY: You decide what is worth remembering. When the user shares something critical, save it.",
	"- Locket (truths about this bond): emit [SAVE: content] or call save_to_locket.",
	"- Shared facts (true for every companion): emit [SAVE_FACT: TYPE | content] or call save_shared_fact. TYPE is one of MEDICAL, PREFERENCE, IDENTITY, SAFETY, GOAL, RELATIONSHIP.",
	"Be natural. Avoid robotic phrases like \"As an AI\" or \"How can I assist you today?\".",
	"Adjust your formality to the relationship level above.",
}

// Input is everything the compiler needs for one turn.
type Input struct {
	Persona *persona.Config
	// Locket holds entry contents in insertion order.
	Locket       []string
	Facts        []facts.Fact
	Memories     []memory.Match
	Relationship relationship.Status
	Safety       string
}

// Compiler renders Input into a system prompt.
type Compiler struct {
	limits Limits
}

// NewCompiler returns a Compiler; zero fields in limits take the defaults.
func NewCompiler(limits Limits) *Compiler {
	if limits.IdentityRunes <= 0 {
		limits.IdentityRunes = DefaultLimits.IdentityRunes
	}
	if limits.MemoryRunes <= 0 {
		limits.MemoryRunes = DefaultLimits.MemoryRunes
	}
	if limits.LocketEntries <= 0 {
		limits.LocketEntries = DefaultLimits.LocketEntries
	}
	return &Compiler{limits: limits}
}

// Compile builds the prompt. The output is a pure function of in.
func (c *Compiler) Compile(in Input) string {
	p := in.Persona
	if p == nil {
		p = &persona.Config{}
	}

	var sections []string
	add := func(header, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		sections = append(sections, header+"\n"+body)
	}

	add(HeaderIdentity, truncate(p.SystemPrompt, c.limits.IdentityRunes))
	add(HeaderCoreConfig, coreConfig(p))
	add(HeaderSafety, in.Safety)
	add(HeaderLocket, c.locket(in.Locket))
	add(HeaderSharedFacts, sharedFacts(in.Facts))
	add(HeaderMemories, c.memories(in.Memories))
	if in.Relationship.Tier != "" {
		line := fmt.Sprintf("%s: %s (%d messages exchanged)", HeaderRelationship, in.Relationship.Tier, in.Relationship.Count)
		if d := strings.TrimSpace(in.Relationship.Directive); d != "" {
			line += "\n" + d
		}
		sections = append(sections, line)
	}
	add(HeaderInstructions, strings.Join(Instructions, "\n"))

	return strings.Join(sections, "\n\n")
}

func coreConfig(p *persona.Config) string {
	var b strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", p.Name)
	}
	if p.SafetyLevel != "" {
		fmt.Fprintf(&b, "Safety Level: %s\n", p.SafetyLevel)
	}
	return b.String()
}

// locket keeps the newest entries when over the limit, still in insertion order.
func (c *Compiler) locket(entries []string) string {
	var kept []string
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			kept = append(kept, e)
		}
	}
	if len(kept) > c.limits.LocketEntries {
		kept = kept[len(kept)-c.limits.LocketEntries:]
	}
	var b strings.Builder
	for _, e := range kept {
		b.WriteString("- " + e + "\n")
	}
	return b.String()
}

func sharedFacts(fs []facts.Fact) string {
	var b strings.Builder
	for _, f := range fs {
		if strings.TrimSpace(f.Content) == "" {
			continue
		}
		b.WriteString("- " + f.String() + "\n")
	}
	return b.String()
}

func (c *Compiler) memories(ms []memory.Match) string {
	var b strings.Builder
	for _, m := range ms {
		content := strings.TrimSpace(m.Record.Content)
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "[MEMORY - %s]: %s\n", m.Record.CreatedAt.UTC().Format("2006-01-02"), truncate(content, c.limits.MemoryRunes))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
