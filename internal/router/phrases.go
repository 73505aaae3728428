package router

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Phrases are the word lists the router matches messages against. Matching
// is case-insensitive, ignores diacritics and punctuation, and works on
// whole words.
type Phrases struct {
	Yes       []string `json:"yes" yaml:"yes"`
	No        []string `json:"no" yaml:"no"`
	Greetings []string `json:"greetings" yaml:"greetings"`
	// Mentions are the triggers that address the assistant in a group.
	Mentions []string `json:"mentions" yaml:"mentions"`
	// Intents open a sentence that may become a proactive task suggestion.
	Intents []string `json:"intents" yaml:"intents"`
}

// DefaultPhrases returns the Portuguese and English defaults.
func DefaultPhrases() Phrases {
	return Phrases{
		Yes: []string{
			"sim", "s", "pode", "pode sim", "confirmo", "confirma", "confirmado",
			"claro", "ok", "okay", "isso", "isso mesmo", "manda ver", "bora", "certo",
			"com certeza", "autorizo", "quero", "yes", "y", "sure",
		},
		No: []string{
			"nao", "n", "cancela", "cancelar", "cancelado", "negativo", "nem",
			"esquece", "deixa pra la", "pare", "no", "nope", "cancel",
		},
		Greetings: []string{
			"oi", "oie", "ola", "opa", "e ai", "eai", "salve", "bom dia", "boa tarde",
			"boa noite", "tudo bem", "tudo bom", "como vai", "hello", "hi", "hey",
		},
		Mentions: []string{"elisa"},
		Intents: []string{
			"precisamos", "temos que", "tenho que", "nao esquecer de", "nao esquecer",
			"lembrar de", "need to", "we need to",
		},
	}
}

// withDefaults fills empty lists from DefaultPhrases.
func (p Phrases) withDefaults() Phrases {
	d := DefaultPhrases()
	if len(p.Yes) == 0 {
		p.Yes = d.Yes
	}
	if len(p.No) == 0 {
		p.No = d.No
	}
	if len(p.Greetings) == 0 {
		p.Greetings = d.Greetings
	}
	if len(p.Mentions) == 0 {
		p.Mentions = d.Mentions
	}
	if len(p.Intents) == 0 {
		p.Intents = d.Intents
	}
	return p
}

// Answer is the classification of a reply to a confirmation.
type Answer int

const (
	AnswerNone Answer = iota
	AnswerYes
	AnswerNo
)

// matcher holds normalised phrase lists, longest first.
type matcher struct {
	yes       []string
	no        []string
	greetings []string
	mentions  []string
	intents   []string
}

func newMatcher(p Phrases) *matcher {
	p = p.withDefaults()
	return &matcher{
		yes:       prepare(p.Yes),
		no:        prepare(p.No),
		greetings: prepare(p.Greetings),
		mentions:  prepare(p.Mentions),
		intents:   prepare(p.Intents),
	}
}

func prepare(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		n := normalize(item)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// normalize lowercases s, strips diacritics, turns punctuation into spaces
// and collapses whitespace. "Não!!  Cancela" becomes "nao cancela".
func normalize(s string) string {
	folder := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		cases.Lower(language.BrazilianPortuguese),
		runes.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return ' '
		}),
		norm.NFC,
	)
	out, _, err := transform.String(folder, s)
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.Join(strings.Fields(out), " ")
}

// hasPrefixWord reports whether text starts with phrase as whole words.
func hasPrefixWord(text, phrase string) bool {
	return text == phrase || strings.HasPrefix(text, phrase+" ")
}

func containsWord(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// maxAnswerLength keeps long messages that happen to start with "sim" from
// being read as a confirmation.
const maxAnswerLength = 40

// Classify matches a confirmation reply. Denials are checked first so that
// "nao pode" is a no, and a yes that also negates is neither.
func (m *matcher) Classify(text string) Answer {
	n := normalize(text)
	if n == "" || len(n) > maxAnswerLength {
		return AnswerNone
	}
	for _, p := range m.no {
		if hasPrefixWord(n, p) {
			return AnswerNo
		}
	}
	for _, p := range m.yes {
		if hasPrefixWord(n, p) {
			if containsWord(n, "nao") {
				return AnswerNone
			}
			return AnswerYes
		}
	}
	return AnswerNone
}

// Mentioned reports whether text contains a mention trigger.
func (m *matcher) Mentioned(text string) bool {
	n := normalize(text)
	for _, p := range m.mentions {
		if containsWord(n, p) {
			return true
		}
	}
	return false
}

// IsGreeting reports whether text is made only of greetings, optionally
// with mention triggers, such as "Oi Elisa, tudo bem?".
func (m *matcher) IsGreeting(text string) bool {
	rest := " " + normalize(text) + " "
	for _, p := range m.mentions {
		rest = strings.ReplaceAll(rest, " "+p+" ", " ")
	}
	rest = strings.TrimSpace(rest)
	greeted := false
	for rest != "" {
		matched := false
		for _, p := range m.greetings {
			if hasPrefixWord(rest, p) {
				rest = strings.TrimSpace(strings.TrimPrefix(rest, p))
				greeted, matched = true, true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return greeted
}

const (
	minSuggestionWords = 3
	maxSuggestionTitle = 80
)

// Suggestion looks for an intent phrase followed by at least three words and
// returns those words as a task title. "Precisamos revisar o contrato
// amanhã" suggests "Revisar o contrato amanhã".
func (m *matcher) Suggestion(text string) (string, bool) {
	words := strings.Fields(text)
	normalized := make([]string, len(words))
	for i, w := range words {
		normalized[i] = normalize(w)
	}
	for start := range words {
		for _, p := range m.intents {
			phrase := strings.Fields(p)
			end := start + len(phrase)
			if end > len(words) || strings.Join(normalized[start:end], " ") != p {
				continue
			}
			var content []string
			for _, w := range words[end:] {
				if w = strings.TrimFunc(w, isTrimmable); w != "" {
					content = append(content, w)
				}
			}
			if len(content) < minSuggestionWords {
				continue
			}
			return suggestionTitle(strings.Join(content, " ")), true
		}
	}
	return "", false
}

func isTrimmable(r rune) bool {
	return unicode.IsPunct(r) && r != '#'
}

func suggestionTitle(s string) string {
	if utf8.RuneCountInString(s) > maxSuggestionTitle {
		r := []rune(s)
		s = strings.TrimSpace(string(r[:maxSuggestionTitle]))
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + s[size:]
}
