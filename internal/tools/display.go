package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// displaySpec describes how a pending tool call is presented to the user.
type displaySpec struct {
	Action     string
	DetailKeys []string
}

var displaySpecs = map[string]displaySpec{
	"deleteTodo":        {Action: "excluir a tarefa", DetailKeys: []string{"title", "id"}},
	"deleteGroup":       {Action: "excluir o grupo", DetailKeys: []string{"groupName", "groupId"}},
	"leaveGroup":        {Action: "sair do grupo", DetailKeys: []string{"groupName", "groupId"}},
	"removeGroupMember": {Action: "remover o membro", DetailKeys: []string{"userId"}},
	"deleteTodoMessage": {Action: "excluir o comentário", DetailKeys: []string{"messageId"}},
	"createTodo":        {Action: "criar a tarefa", DetailKeys: []string{"title"}},
	"completeTodo":      {Action: "concluir a tarefa", DetailKeys: []string{"title", "id"}},
	"updateTodo":        {Action: "atualizar a tarefa", DetailKeys: []string{"title", "id"}},
	"moveTodo":          {Action: "mover a tarefa", DetailKeys: []string{"title", "id"}},
	"createGroup":       {Action: "criar o grupo", DetailKeys: []string{"name"}},
	"updateGroup":       {Action: "atualizar o grupo", DetailKeys: []string{"groupName", "groupId"}},
	"sendGroupMessage":  {Action: "enviar a mensagem", DetailKeys: []string{"text"}},
}

// maxDetailLength bounds quoted argument values in prompts.
const maxDetailLength = 80

// Describe renders a short Portuguese description of a tool call, used when
// asking the user to confirm it, e.g. `excluir a tarefa "Revisar contrato"`.
func Describe(name string, args json.RawMessage) string {
	spec, ok := displaySpecs[name]
	if !ok {
		return fmt.Sprintf("executar %s", name)
	}
	var decoded map[string]any
	_ = json.Unmarshal(args, &decoded)

	if detail := resolveDetail(decoded, spec.DetailKeys); detail != "" {
		return spec.Action + " " + detail
	}
	return spec.Action
}

func resolveDetail(args map[string]any, keys []string) string {
	for _, key := range keys {
		value, ok := args[key]
		if !ok {
			continue
		}
		if text := coerceDisplayValue(key, value); text != "" {
			return text
		}
	}
	return ""
}

func coerceDisplayValue(key string, value any) string {
	switch v := value.(type) {
	case string:
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			return ""
		}
		if r := []rune(v); len(r) > maxDetailLength {
			v = string(r[:maxDetailLength-1]) + "…"
		}
		return fmt.Sprintf("%q", v)
	case float64:
		if v <= 0 {
			return ""
		}
		if key == "userId" {
			return fmt.Sprintf("%.0f", v)
		}
		return fmt.Sprintf("#%.0f", v)
	default:
		return ""
	}
}
