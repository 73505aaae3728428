package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	agentctx "github.com/haasonsaas/elisa/internal/agent/context"
	"github.com/haasonsaas/elisa/pkg/models"
)

// Summarizer folds a window of raw messages into the prior summary.
type Summarizer interface {
	Summarize(ctx context.Context, prior string, window []models.Message, maxChars int) (string, error)
}

// Fact categories rendered in summaries.
const (
	factTask     = "tarefa"
	factDecision = "decisão"
)

// maxFactChars bounds a single extracted fact.
const maxFactChars = 200

var (
	taskPattern     = regexp.MustCompile(`(?i)#\d+|\b(tarefas?|tasks?|todos?|prazo|deadline|entrega)\b`)
	decisionPattern = regexp.MustCompile(`(?i)\b(decidi\w*|decided|combinad[oa]s?|fechad[oa]s?|definid[oa]s?|definimos|vamos|ficou|agreed|let's)\b`)
)

// FactSummarizer is the deterministic summarizer: it keeps messages that
// mention tasks or record decisions as one-line facts and drops chatter.
type FactSummarizer struct{}

// Summarize implements Summarizer. Oldest facts are dropped first when the
// result would exceed maxChars.
func (FactSummarizer) Summarize(_ context.Context, prior string, window []models.Message, maxChars int) (string, error) {
	var facts []string
	seen := make(map[string]bool)
	add := func(fact string) {
		key := strings.ToLower(fact)
		if fact == "" || seen[key] {
			return
		}
		seen[key] = true
		facts = append(facts, fact)
	}

	for _, line := range strings.Split(prior, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			add(strings.TrimPrefix(line, "- "))
		}
	}
	for _, m := range window {
		if agentctx.IsSummary(m) {
			continue
		}
		if fact := extractFact(m); fact != "" {
			add(fact)
		}
	}
	return renderFacts(facts, maxChars), nil
}

func extractFact(m models.Message) string {
	text := agentctx.Compact(m.Text, maxFactChars)
	if text == "" {
		return ""
	}
	var category string
	switch {
	case decisionPattern.MatchString(text):
		category = factDecision
	case taskPattern.MatchString(text):
		category = factTask
	default:
		return ""
	}
	author := m.AuthorName
	if author == "" {
		author = m.UserID
	}
	if m.Role == models.RoleAssistant {
		author = "ELISA"
	}
	if author == "" {
		return fmt.Sprintf("[%s] %s", category, text)
	}
	return fmt.Sprintf("[%s] %s: %s", category, author, text)
}

func renderFacts(facts []string, maxChars int) string {
	lines := make([]string, len(facts))
	total := 0
	for i, f := range facts {
		lines[i] = "- " + f
		total += utf8.RuneCountInString(lines[i]) + 1
	}
	start := 0
	for maxChars > 0 && start < len(lines) && total-1 > maxChars {
		total -= utf8.RuneCountInString(lines[start]) + 1
		start++
	}
	return strings.Join(lines[start:], "\n")
}

// Completer generates plain text from a system instruction and a prompt.
type Completer interface {
	CompleteText(ctx context.Context, system, prompt string) (string, error)
}

// LLMSummarizer asks the language model for the fact set and falls back to
// the deterministic summarizer when the call fails or returns nothing.
type LLMSummarizer struct {
	completer Completer
	fallback  Summarizer
	logger    *slog.Logger
}

// NewLLMSummarizer creates a summarizer backed by completer.
func NewLLMSummarizer(completer Completer, logger *slog.Logger) *LLMSummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSummarizer{completer: completer, fallback: FactSummarizer{}, logger: logger}
}

const summarySystemPrompt = `You maintain the running memory of a group chat about tasks.
Write only short bullet lines starting with "- ". Keep mentioned tasks (with #ids when given),
decisions, owners and deadlines. Drop greetings and small talk. Answer in the language of the chat.`

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, prior string, window []models.Message, maxChars int) (string, error) {
	text, err := s.completer.CompleteText(ctx, summarySystemPrompt, BuildSummarizationPrompt(prior, window, maxChars))
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		s.logger.WarnContext(ctx, "llm summarization failed, using extractive summary", "error", err)
		return s.fallback.Summarize(ctx, prior, window, maxChars)
	}
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "-*• ")
		if line != "" {
			facts = append(facts, agentctx.Compact(line, maxFactChars))
		}
	}
	return renderFacts(facts, maxChars), nil
}

// BuildSummarizationPrompt renders the prior summary and the new messages.
func BuildSummarizationPrompt(prior string, window []models.Message, maxChars int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Update the memory below. Keep it under %d characters.\n\n", maxChars)
	sb.WriteString("Current memory:\n")
	if strings.TrimSpace(prior) == "" {
		sb.WriteString("(empty)\n")
	} else {
		sb.WriteString(strings.TrimSpace(prior))
		sb.WriteString("\n")
	}
	sb.WriteString("\nNew messages:\n")
	for _, m := range window {
		if agentctx.IsSummary(m) {
			continue
		}
		author := m.AuthorName
		if author == "" {
			author = string(m.Role)
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", author, agentctx.Compact(m.Text, 500))
	}
	sb.WriteString("\nUpdated memory:")
	return sb.String()
}
