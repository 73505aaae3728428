package models

import (
	"encoding/json"
	"testing"
)

func TestMessageSurface(t *testing.T) {
	if got := (Message{UserID: "ana"}).Surface(); got != SurfacePrivate {
		t.Fatalf("private message surface = %q", got)
	}
	if got := (Message{UserID: "ana", GroupID: 7}).Surface(); got != SurfaceGroup {
		t.Fatalf("group message surface = %q", got)
	}
}

func TestToolCallKeepsRawArgs(t *testing.T) {
	data := []byte(`{"id":"call_1","name":"createTodo","args":{"title":"Pagar boleto","groupId":3}}`)
	var call ToolCall
	if err := json.Unmarshal(data, &call); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if call.Name != "createTodo" {
		t.Fatalf("name = %q", call.Name)
	}
	var args struct {
		Title   string `json:"title"`
		GroupID int64  `json:"groupId"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		t.Fatalf("args: %v", err)
	}
	if args.Title != "Pagar boleto" || args.GroupID != 3 {
		t.Fatalf("args = %+v", args)
	}
}
