package turn

import (
	"regexp"
	"strings"

	"github.com/bdobrica/Remrin/internal/remrin/facts"
	"github.com/bdobrica/Remrin/internal/remrin/tools"
)

var (
	// [SAVE: text] and its alias [SAVE_LOCKET: text].
	saveMarker = regexp.MustCompile(`\[SAVE(?:_LOCKET)?:\s*([^\[\]]*?)\s*\]`)
	// [SAVE_FACT: TYPE | text]
	factMarker = regexp.MustCompile(`\[SAVE_FACT:\s*(\w+)\s*\|\s*([^\[\]]*?)\s*\]`)

	horizontalSpace = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeEOL  = regexp.MustCompile(`[ \t]+\n`)
	spaceBeforeMark = regexp.MustCompile(` +([.,!?])`)
)

// Saves are the side effects requested during one turn.
type Saves struct {
	Locket []string
	Facts  []tools.FactSave
}

// Len counts every save.
func (s Saves) Len() int { return len(s.Locket) + len(s.Facts) }

// Merge appends other's saves, skipping exact duplicates.
func (s *Saves) Merge(other Saves) {
	for _, l := range other.Locket {
		s.addLocket(l)
	}
	for _, f := range other.Facts {
		s.addFact(f)
	}
}

func (s *Saves) addLocket(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	for _, existing := range s.Locket {
		if existing == content {
			return
		}
	}
	s.Locket = append(s.Locket, content)
}

func (s *Saves) addFact(f tools.FactSave) {
	f.Content = strings.TrimSpace(f.Content)
	if f.Content == "" {
		return
	}
	for _, existing := range s.Facts {
		if existing == f {
			return
		}
	}
	s.Facts = append(s.Facts, f)
}

// ExtractSaves strips every save marker from text and returns the visible
// remainder with the saves it contained. Text without markers is returned
// unchanged, so running ExtractSaves on its own output is a no-op. Fact
// markers with an unknown type are stripped but not saved.
func ExtractSaves(text string) (string, Saves) {
	var saves Saves
	found := false
	// Removing one marker can splice a new one together; repeat until none.
	for {
		matched := false
		text = factMarker.ReplaceAllStringFunc(text, func(m string) string {
			matched = true
			sub := factMarker.FindStringSubmatch(m)
			if t, ok := facts.ParseType(sub[1]); ok {
				saves.addFact(tools.FactSave{Type: t, Content: sub[2]})
			}
			return ""
		})
		text = saveMarker.ReplaceAllStringFunc(text, func(m string) string {
			matched = true
			saves.addLocket(saveMarker.FindStringSubmatch(m)[1])
			return ""
		})
		if !matched {
			break
		}
		found = true
	}
	if !found {
		return text, saves
	}
	return tidy(text), saves
}

func tidy(s string) string {
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = spaceBeforeEOL.ReplaceAllString(s, "\n")
	s = spaceBeforeMark.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
