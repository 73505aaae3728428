package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType names a committed side effect of an assistant exchange.
type ActionType string

const (
	ActionTaskCreated        ActionType = "task_created"
	ActionTaskCompleted      ActionType = "task_completed"
	ActionTaskUpdated        ActionType = "task_updated"
	ActionTaskMoved          ActionType = "task_moved"
	ActionTaskDeleted        ActionType = "task_deleted"
	ActionGroupCreated       ActionType = "group_created"
	ActionGroupUpdated       ActionType = "group_updated"
	ActionGroupDeleted       ActionType = "group_deleted"
	ActionGroupLeft          ActionType = "group_left"
	ActionGroupMessageSent   ActionType = "group_message_sent"
	ActionTodoMessageCreated ActionType = "todo_message_created"
	ActionTodoMessageUpdated ActionType = "todo_message_updated"
	ActionTodoMessageDeleted ActionType = "todo_message_deleted"
)

var knownActions = map[ActionType]struct{}{
	ActionTaskCreated:        {},
	ActionTaskCompleted:      {},
	ActionTaskUpdated:        {},
	ActionTaskMoved:          {},
	ActionTaskDeleted:        {},
	ActionGroupCreated:       {},
	ActionGroupUpdated:       {},
	ActionGroupDeleted:       {},
	ActionGroupLeft:          {},
	ActionGroupMessageSent:   {},
	ActionTodoMessageCreated: {},
	ActionTodoMessageUpdated: {},
	ActionTodoMessageDeleted: {},
}

// ErrUnknownAction is returned when an action type is outside the closed set.
var ErrUnknownAction = errors.New("unknown assistant action")

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	_, ok := knownActions[t]
	return ok
}

// IsTask reports whether the action targets a task.
func (t ActionType) IsTask() bool {
	switch t {
	case ActionTaskCreated, ActionTaskCompleted, ActionTaskUpdated, ActionTaskMoved, ActionTaskDeleted:
		return true
	}
	return false
}

// IsTodoMessage reports whether the action targets a comment on a task.
func (t ActionType) IsTodoMessage() bool {
	switch t {
	case ActionTodoMessageCreated, ActionTodoMessageUpdated, ActionTodoMessageDeleted:
		return true
	}
	return false
}

// AssistantAction records one side effect actually committed during an exchange.
//
// ID is the id of the affected entity: the task for task actions, the group for
// group actions, and the message or comment for message actions. TaskID and
// GroupID carry the enclosing entities when they are known.
type AssistantAction struct {
	Type    ActionType `json:"type"`
	ID      int64      `json:"id"`
	GroupID int64      `json:"groupId,omitempty"`
	TaskID  int64      `json:"taskId,omitempty"`
	Title   string     `json:"title,omitempty"`
}

// Validate rejects actions outside the closed union or with missing targets.
func (a AssistantAction) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	if a.ID <= 0 {
		return fmt.Errorf("assistant action %s: id is required", a.Type)
	}
	if a.Type.IsTodoMessage() && a.TaskID <= 0 {
		return fmt.Errorf("assistant action %s: taskId is required", a.Type)
	}
	if a.Type == ActionGroupMessageSent && a.GroupID <= 0 {
		return fmt.Errorf("assistant action %s: groupId is required", a.Type)
	}
	return nil
}

// UnmarshalJSON decodes strictly and validates the decoded action.
func (a *AssistantAction) UnmarshalJSON(data []byte) error {
	type plain AssistantAction
	var decoded plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("decode assistant action: %w", err)
	}
	action := AssistantAction(decoded)
	if err := action.Validate(); err != nil {
		return err
	}
	*a = action
	return nil
}

// ParseActions decodes a JSON array of actions, rejecting the whole batch if
// any element is invalid.
func ParseActions(data []byte) ([]AssistantAction, error) {
	var actions []AssistantAction
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}
