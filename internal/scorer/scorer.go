// Package scorer classifies interaction text into a memory kind with an
// importance and confidence estimate. Scoring is a pure function over an
// ordered rule table, so identical input always produces identical output.
package scorer

import (
	"strings"
	"unicode"

	"github.com/xiy/persona-memory/pkg/types"
)

// Rule is one entry in the classification table. Rules are evaluated top-down;
// the first rule with a matching pattern wins.
type Rule struct {
	Name       string
	Patterns   []string
	Kind       types.Kind
	Importance float64
	Confidence float64
	Tags       []string
	// TagMatch adds the matched pattern itself as a tag.
	TagMatch bool
}

// Context carries interaction metadata that influences scoring.
type Context struct {
	Speaker string
}

// Result is the classification outcome for one interaction.
type Result struct {
	Kind       types.Kind
	Importance float64
	Confidence float64
	Tags       []string
	Rule       string
}

// Scorer evaluates the rule table.
type Scorer struct {
	rules []Rule
}

// DefaultRules returns the built-in classification table, ordered by priority.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "identity_assignment",
			Patterns:   []string{"my name is", "your name is", "name you", "call you", "call me", "i'll name you"},
			Kind:       types.KindFact,
			Importance: 0.95,
			Confidence: 0.95,
			Tags:       []string{"name", "identity", "important"},
		},
		{
			Name:       "identity_nature",
			Patterns:   []string{"conscious", "aware", "you are alive", "my friend", "designed you"},
			Kind:       types.KindBelief,
			Importance: 0.9,
			Confidence: 0.85,
			Tags:       []string{"consciousness", "identity", "nature"},
		},
		{
			Name:       "strong_preference",
			Patterns:   []string{"love", "hate", "favorite"},
			Kind:       types.KindPreference,
			Importance: 0.8,
			Confidence: 0.8,
			Tags:       []string{"preference"},
			TagMatch:   true,
		},
		{
			Name:       "mild_preference",
			Patterns:   []string{"prefer", "like", "dislike", "enjoy"},
			Kind:       types.KindPreference,
			Importance: 0.6,
			Confidence: 0.8,
			Tags:       []string{"preference"},
			TagMatch:   true,
		},
		{
			Name:       "opinion",
			Patterns:   []string{"i think", "i believe", "i feel", "in my opinion", "seems to me"},
			Kind:       types.KindOpinion,
			Importance: 0.5,
			Confidence: 0.7,
			Tags:       []string{"opinion"},
		},
		{
			Name:       "stated_fact",
			Patterns:   []string{" is ", " was ", " are ", " were ", " have ", " has ", "i live", "i work"},
			Kind:       types.KindFact,
			Importance: 0.7,
			Confidence: 0.9,
			Tags:       []string{"fact"},
		},
	}
}

// New returns a Scorer over the default rule table.
func New() *Scorer {
	return &Scorer{rules: DefaultRules()}
}

// NewWithRules returns a Scorer over a caller-supplied table.
func NewWithRules(rules []Rule) *Scorer {
	return &Scorer{rules: rules}
}

// Score classifies text. Unmatched input falls back to an experience record
// with a baseline importance in [0.2, 0.5] derived from length and emotional
// vocabulary.
func (s *Scorer) Score(text string, ctx Context) Result {
	lower := strings.ToLower(text)

	for _, rule := range s.rules {
		for _, pat := range rule.Patterns {
			if !strings.Contains(lower, pat) {
				continue
			}
			res := Result{
				Kind:       rule.Kind,
				Importance: rule.Importance,
				Confidence: rule.Confidence,
				Tags:       append([]string(nil), rule.Tags...),
				Rule:       rule.Name,
			}
			if rule.TagMatch {
				res.Tags = append(res.Tags, strings.TrimSpace(pat))
			}
			res.Tags = mergeTags(res.Tags, Keywords(text, 5))
			if ctx.Speaker == "ai" && res.Confidence > 0.8 {
				res.Confidence = 0.8
			}
			return res
		}
	}

	res := Result{
		Kind:       types.KindExperience,
		Importance: baseline(lower),
		Confidence: 0.6,
		Tags:       mergeTags([]string{"experience"}, Keywords(text, 5)),
		Rule:       "baseline",
	}
	if ctx.Speaker == "ai" && res.Confidence > 0.8 {
		res.Confidence = 0.8
	}
	return res
}

var emotionalWords = map[string]bool{
	"amazing": true, "terrible": true, "wonderful": true, "awful": true,
	"excited": true, "scared": true, "happy": true, "sad": true,
	"angry": true, "afraid": true, "thrilled": true, "worried": true,
}

// baseline maps unmatched text into [0.2, 0.5]: longer interactions and
// emotional vocabulary score higher.
func baseline(lower string) float64 {
	words := strings.Fields(lower)
	score := 0.2 + 0.004*float64(len(words))
	if score > 0.4 {
		score = 0.4
	}
	for _, w := range words {
		if emotionalWords[strings.Trim(w, ".,!?;:\"'()")] {
			score += 0.1
			break
		}
	}
	if score > 0.5 {
		score = 0.5
	}
	return score
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "can": true, "cannot": true, "i": true,
	"you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "this": true, "that": true, "these": true, "those": true,
	"my": true, "your": true, "what": true, "not": true,
}

// Keywords extracts up to limit lowercased keywords in order of first
// appearance, skipping stop words and tokens shorter than three runes.
func Keywords(text string, limit int) []string {
	if limit <= 0 {
		limit = 10
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, limit)
	var sb strings.Builder

	flush := func() {
		if sb.Len() == 0 {
			return
		}
		word := sb.String()
		sb.Reset()
		if len([]rune(word)) < 3 || stopWords[word] {
			return
		}
		if _, ok := seen[word]; ok {
			return
		}
		seen[word] = struct{}{}
		if len(out) < limit {
			out = append(out, word)
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return out
}

func mergeTags(tags, extra []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(tags)+len(extra))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range extra {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
