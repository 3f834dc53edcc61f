package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Domain is a coarse topic label stored with each record.
type Domain string

const (
	DomainCode     Domain = "code"
	DomainBusiness Domain = "business"
	DomainPersonal Domain = "personal"
)

// Emotion is the dominant feeling detected in a record.
type Emotion string

const (
	EmotionPositive Emotion = "positive"
	EmotionNegative Emotion = "negative"
	EmotionAnxious  Emotion = "anxious"
	EmotionNeutral  Emotion = "neutral"
)

var (
	codePattern     = regexp.MustCompile(`\.(js|ts|py|go|html|css)\b|\b(function|const|import|error|bug|syntax|sudo|npx|npm)\b`)
	businessPattern = regexp.MustCompile(`(?i)\b(business|strategy|market|price|cost|plan|schedule|meeting)\b`)
	fileTagPattern  = regexp.MustCompile(`\b[\w-]+\.(js|ts|py|go|html|css|json|md|tsx|jsx|yaml|yml|sql)\b`)
	urgentPattern   = regexp.MustCompile(`(?i)\b(urgent|asap|broken|crash|error)\b`)
	positivePattern = regexp.MustCompile(`(?i)\b(happy|excited|great|love|amazing|wonderful|fantastic)\b`)
	negativePattern = regexp.MustCompile(`(?i)\b(sad|depressed|tired|frustrated|angry|hate|upset|terrible)\b`)
	anxiousPattern  = regexp.MustCompile(`(?i)\b(worried|anxious|nervous|scared|concerned)\b`)
	salientPattern  = regexp.MustCompile(`(?i)\b(important|critical|remember|never forget)\b`)
	defectPattern   = regexp.MustCompile(`(?i)\b(bug|error|crash|broken)\b`)
)

// DetectDomain classifies text; code wins over business.
func DetectDomain(text string) Domain {
	switch {
	case codePattern.MatchString(text):
		return DomainCode
	case businessPattern.MatchString(text):
		return DomainBusiness
	default:
		return DomainPersonal
	}
}

// DetectEmotion returns the first matching emotion in the order positive,
// negative, anxious.
func DetectEmotion(text string) Emotion {
	switch {
	case positivePattern.MatchString(text):
		return EmotionPositive
	case negativePattern.MatchString(text):
		return EmotionNegative
	case anxiousPattern.MatchString(text):
		return EmotionAnxious
	default:
		return EmotionNeutral
	}
}

// ExtractTags returns lower-cased file names mentioned in text, plus
// "urgent" for distress keywords. Tags are unique and in first-seen order.
func ExtractTags(text string) []string {
	var tags []string
	seen := make(map[string]struct{})
	add := func(tag string) {
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	for _, f := range fileTagPattern.FindAllString(text, -1) {
		add(strings.ToLower(f))
	}
	if urgentPattern.MatchString(text) {
		add("urgent")
	}
	return tags
}

// Importance scores a user utterance from 1 to 10.
func Importance(text string, domain Domain) int {
	score := 5
	if salientPattern.MatchString(text) {
		score += 3
	}
	if defectPattern.MatchString(text) {
		score += 2
	}
	if domain == DomainBusiness {
		score++
	}
	if utf8.RuneCountInString(text) < 20 {
		score -= 2
	}
	return clampImportance(score)
}

func clampImportance(n int) int {
	return max(MinImportance, min(MaxImportance, n))
}

// Annotate fills the derived fields of rec that are still zero. Assistant
// records always score AssistantImportance.
func Annotate(rec *Record) {
	if rec.Domain == "" {
		rec.Domain = DetectDomain(rec.Content)
	}
	if rec.Emotion == "" {
		rec.Emotion = DetectEmotion(rec.Content)
	}
	if rec.Tags == nil {
		rec.Tags = ExtractTags(rec.Content)
	}
	if rec.Importance == 0 {
		if rec.Role == RoleAssistant {
			rec.Importance = AssistantImportance
		} else {
			rec.Importance = Importance(rec.Content, rec.Domain)
		}
	}
	rec.Importance = clampImportance(rec.Importance)
}
