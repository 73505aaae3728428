package router

import (
	"fmt"
	"strings"
)

func greetingReply(name string) string {
	return fmt.Sprintf("Oi! Eu sou a %s. Posso criar, listar ou concluir tarefas e cuidar dos seus grupos. Como posso ajudar?", name)
}

const (
	cancelledReply         = "Tudo bem, cancelei. Nada foi alterado."
	suggestionDeclinedText = "Combinado, não vou criar a tarefa."
)

func suggestionReply(title string) string {
	return fmt.Sprintf("Quer que eu crie a tarefa \"%s\"? Responda \"sim\" ou \"não\".", title)
}

// isQuestion reports whether an assistant reply asks the user something.
func isQuestion(reply string) bool {
	return strings.HasSuffix(strings.TrimSpace(reply), "?")
}
