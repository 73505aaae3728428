package agent

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/elisa/internal/state"
	"github.com/haasonsaas/elisa/pkg/models"
)

// DefaultAssistantName is how the assistant introduces itself.
const DefaultAssistantName = "ELISA"

const systemPromptTemplate = `Você é %s, assistente de tarefas e grupos.
Responda sempre em português do Brasil, de forma curta e direta.
Use as ferramentas disponíveis para criar, listar, atualizar, mover, concluir ou excluir tarefas, gerenciar grupos e enviar mensagens.
Nunca invente ids: quando não souber o id, use o título ou o nome.
Quando uma ferramenta falhar, explique o problema em linguagem simples e não mostre detalhes internos.
Quando houver mais de uma opção possível, pergunte ao usuário qual ele quer.
Data atual: %s.`

// SystemPrompt renders the base instruction for the assistant.
func SystemPrompt(name string, now time.Time) string {
	if strings.TrimSpace(name) == "" {
		name = DefaultAssistantName
	}
	return fmt.Sprintf(systemPromptTemplate, name, now.Format("2006-01-02"))
}

const (
	groupSurfaceNote   = "Você está em um chat de grupo. As mensagens dos participantes vêm no formato \"Nome: texto\"."
	summaryHeading     = "Resumo das conversas anteriores do grupo:"
	roundsExhaustedMsg = "(Não consegui concluir tudo dentro do limite de etapas. Verifique o que foi feito e me peça para continuar se precisar.)"
)

// ConfirmationQuestion asks the user to confirm a sensitive action.
func ConfirmationQuestion(description string) string {
	return fmt.Sprintf("Você confirma que deseja %s? Responda \"sim\" para confirmar ou \"não\" para cancelar.", description)
}

// DisambiguationQuestion renders candidates as a numbered list.
func DisambiguationQuestion(candidates []models.ToolCandidate) string {
	var b strings.Builder
	b.WriteString("Encontrei mais de uma opção. Qual delas você quer?")
	for i, c := range candidates {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(c.Label())
	}
	return b.String()
}

// FailureReply is the generic failure shown to the user.
func FailureReply(errorID string) string {
	if errorID == "" {
		return "Desculpe, não consegui processar sua mensagem agora. Tente novamente em instantes."
	}
	return fmt.Sprintf("Desculpe, não consegui processar sua mensagem agora. Tente novamente em instantes. (código: %s)", errorID)
}

// ConfirmedReply reports a confirmed action that succeeded.
func ConfirmedReply(description string) string {
	return fmt.Sprintf("Pronto! Consegui %s.", description)
}

// ConfirmedFailureReply reports a confirmed action that failed.
func ConfirmedFailureReply(description string, result models.ToolResult) string {
	if result.ErrorID == "" {
		return fmt.Sprintf("Não consegui %s: %s", description, result.Error)
	}
	return fmt.Sprintf("Não consegui %s: %s (código: %s)", description, result.Error, result.ErrorID)
}

// resumeNote tells the model which pending exchange the user is answering.
func resumeNote(fc *state.FollowUpContext, userText string) string {
	var b strings.Builder
	b.WriteString("Continuação de uma conversa pendente.\n")
	if fc.Prompt != "" {
		b.WriteString("Você perguntou: ")
		b.WriteString(fc.Prompt)
		b.WriteString("\n")
	}
	switch fc.Kind {
	case state.FollowUpDisambiguation:
		fmt.Fprintf(&b, "A ferramenta pendente é %s com os argumentos %s.\n", fc.ToolName, string(fc.ToolArgs))
		b.WriteString("Opções:\n")
		for i, c := range fc.Candidates {
			fmt.Fprintf(&b, "%d. id %d: %s\n", i+1, c.ID, c.Label())
		}
		if choice, ok := ResolveChoice(userText, fc.Candidates); ok {
			fmt.Fprintf(&b, "O usuário escolheu o id %d (%s). Chame %s novamente usando esse id.\n", choice.ID, choice.Label(), fc.ToolName)
		} else {
			b.WriteString("Se a resposta do usuário indicar uma das opções, chame a ferramenta novamente com o id correspondente.\n")
		}
	case state.FollowUpProactive:
		fmt.Fprintf(&b, "Você sugeriu criar a tarefa %q. Se o usuário concordar, chame createTodo com esse título; se recusar, apenas responda.\n", fc.SuggestedTitle)
	default:
		if fc.UserText != "" {
			fmt.Fprintf(&b, "Mensagem original do usuário: %s\n", fc.UserText)
		}
	}
	return b.String()
}

// ResolveChoice matches a reply against a numbered candidate list. It
// accepts the list position ("2"), an id ("#43") or the exact label.
func ResolveChoice(reply string, candidates []models.ToolCandidate) (models.ToolCandidate, bool) {
	text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(reply), ".!"))
	if text == "" || len(candidates) == 0 {
		return models.ToolCandidate{}, false
	}
	if strings.HasPrefix(text, "#") {
		id, err := strconv.ParseInt(strings.TrimPrefix(text, "#"), 10, 64)
		if err == nil {
			for _, c := range candidates {
				if c.ID == id {
					return c, true
				}
			}
		}
		return models.ToolCandidate{}, false
	}
	if n, err := strconv.Atoi(text); err == nil {
		if n >= 1 && n <= len(candidates) {
			return candidates[n-1], true
		}
		return models.ToolCandidate{}, false
	}
	for _, c := range candidates {
		if strings.EqualFold(text, c.Label()) {
			return c, true
		}
	}
	var match models.ToolCandidate
	count := 0
	for _, c := range candidates {
		if strings.EqualFold(text, c.Title) || strings.EqualFold(text, c.Name) {
			match = c
			count++
		}
	}
	return match, count == 1
}
