package context

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/elisa/pkg/models"
)

// SummaryMetadataKey marks the rolling-summary message so it is never taken
// for something a user said.
const SummaryMetadataKey = "elisa_summary"

// SummaryPrefix opens the rendered summary text.
const SummaryPrefix = "[Resumo da conversa do grupo]"

const ellipsis = "…"

// Assembler builds bounded contexts.
type Assembler struct {
	limits Limits
}

// NewAssembler creates an assembler. Zero limits take their defaults.
func NewAssembler(limits Limits) *Assembler {
	return &Assembler{limits: limits.withDefaults()}
}

// Limits returns the effective budgets.
func (a *Assembler) Limits() Limits {
	return a.limits
}

// Thread assembles a private-thread context: the most recent history,
// compacted, followed by the incoming message. History is oldest first.
func (a *Assembler) Thread(history []models.Message, incoming models.Message) []models.Message {
	return a.pack(history, incoming, nil, a.limits.MaxContextMessages, a.limits.MaxThreadContextChars)
}

// Group assembles a group context: the tagged rolling summary (when
// non-empty), recent raw messages and the incoming message.
func (a *Assembler) Group(groupID int64, history []models.Message, summary string, incoming models.Message) []models.Message {
	var sum *models.Message
	if text := strings.TrimSpace(summary); text != "" {
		m := SummaryMessage(groupID, text, time.Time{})
		sum = &m
	}
	// The incoming message is one of the raw messages.
	return a.pack(history, incoming, sum, a.limits.MaxGroupContextMessages, a.limits.MaxGroupContextChars)
}

// pack keeps the incoming message, then the summary, then history newest
// first until either budget is hit, and returns the result in chronological
// order with the summary leading.
func (a *Assembler) pack(history []models.Message, incoming models.Message, summary *models.Message, maxMessages, maxChars int) []models.Message {
	in := a.compact(incoming)
	if size(in) > maxChars {
		in.Text = truncate(in.Text, max(maxChars-utf8.RuneCountInString(in.AuthorName), 0))
	}
	total := size(in)
	count := 1

	if summary != nil {
		room := maxChars - total - utf8.RuneCountInString(SummaryPrefix) - 1
		if room <= 0 {
			summary = nil
		} else {
			s := *summary
			s.Text = SummaryPrefix + "\n" + truncate(s.Text, room)
			summary = &s
			total += size(s)
		}
	}

	var picked []models.Message
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if IsSummary(m) || (incoming.ID != "" && m.ID == incoming.ID) {
			continue
		}
		if count+1 > maxMessages {
			break
		}
		m = a.compact(m)
		if m.Text == "" {
			continue
		}
		if total+size(m) > maxChars {
			break
		}
		picked = append(picked, m)
		total += size(m)
		count++
	}

	out := make([]models.Message, 0, len(picked)+2)
	if summary != nil {
		out = append(out, *summary)
	}
	for i := len(picked) - 1; i >= 0; i-- {
		out = append(out, picked[i])
	}
	return append(out, in)
}

func (a *Assembler) compact(m models.Message) models.Message {
	m.Text = Compact(m.Text, a.limits.MaxTextPerMessage)
	return m
}

// size is what a message costs against the character budget.
func size(m models.Message) int {
	return utf8.RuneCountInString(m.Text) + utf8.RuneCountInString(m.AuthorName)
}

// Compact collapses whitespace runs to single spaces and truncates to at
// most limit runes. A non-positive limit disables truncation.
func Compact(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 {
		return text
	}
	return truncate(text, limit)
}

// truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	if limit == 1 {
		return string(r[:1])
	}
	return strings.TrimRight(string(r[:limit-1]), " ") + ellipsis
}

// SummaryMessage builds the tagged summary message for a group.
func SummaryMessage(groupID int64, text string, at time.Time) models.Message {
	return models.Message{
		GroupID:   groupID,
		Role:      models.RoleSystem,
		Text:      text,
		CreatedAt: at,
		Metadata:  map[string]any{SummaryMetadataKey: true},
	}
}

// IsSummary reports whether m is a rolling-summary message.
func IsSummary(m models.Message) bool {
	if m.Metadata == nil {
		return false
	}
	b, ok := m.Metadata[SummaryMetadataKey].(bool)
	return ok && b
}
