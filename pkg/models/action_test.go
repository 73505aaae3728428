package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAssistantActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  AssistantAction
		wantErr bool
	}{
		{"task deleted", AssistantAction{Type: ActionTaskDeleted, ID: 42}, false},
		{"group message", AssistantAction{Type: ActionGroupMessageSent, ID: 9, GroupID: 3}, false},
		{"group message without group", AssistantAction{Type: ActionGroupMessageSent, ID: 9}, true},
		{"comment", AssistantAction{Type: ActionTodoMessageUpdated, ID: 5, TaskID: 42}, false},
		{"comment without task", AssistantAction{Type: ActionTodoMessageDeleted, ID: 5}, true},
		{"missing id", AssistantAction{Type: ActionTaskCreated}, true},
		{"unknown type", AssistantAction{Type: "task_archived", ID: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAssistantActionUnmarshalRejectsUnknownShapes(t *testing.T) {
	var action AssistantAction
	if err := json.Unmarshal([]byte(`{"type":"task_deleted","id":42}`), &action); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Type != ActionTaskDeleted || action.ID != 42 {
		t.Fatalf("decoded %+v", action)
	}

	err := json.Unmarshal([]byte(`{"type":"task_exploded","id":1}`), &action)
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"type":"task_created","id":1,"extra":true}`), &action); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestParseActionsRejectsBatch(t *testing.T) {
	_, err := ParseActions([]byte(`[{"type":"task_created","id":1},{"type":"nope","id":2}]`))
	if err == nil {
		t.Fatal("expected error for invalid element")
	}
	actions, err := ParseActions([]byte(`[{"type":"group_left","id":7}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].Type != ActionGroupLeft {
		t.Fatalf("actions = %+v", actions)
	}
}
