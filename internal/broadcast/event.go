// Package broadcast delivers logical realtime events to rooms keyed by group
// or task. Delivery is fire-and-forget: a failed publish never undoes the
// domain action that produced it.
package broadcast

import (
	"context"
	"strconv"
	"time"

	"github.com/haasonsaas/elisa/pkg/models"
)

// Event names.
const (
	EventTaskCreated    = "task.created"
	EventTaskUpdated    = "task.updated"
	EventTaskCompleted  = "task.completed"
	EventTaskMoved      = "task.moved"
	EventTaskDeleted    = "task.deleted"
	EventGroupCreated   = "group.created"
	EventGroupUpdated   = "group.updated"
	EventGroupDeleted   = "group.deleted"
	EventGroupLeft      = "group.member_left"
	EventMessageCreated = "message.created"
	EventCommentCreated = "comment.created"
	EventCommentUpdated = "comment.updated"
	EventCommentDeleted = "comment.deleted"
)

// Event is one logical notification addressed to a room.
type Event struct {
	Name    string    `json:"event"`
	Room    string    `json:"room"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// GroupRoom is the room of a group chat.
func GroupRoom(groupID int64) string {
	return "group:" + strconv.FormatInt(groupID, 10)
}

// TaskRoom is the room of a task and its comments.
func TaskRoom(taskID int64) string {
	return "task:" + strconv.FormatInt(taskID, 10)
}

var actionEvents = map[models.ActionType]string{
	models.ActionTaskCreated:        EventTaskCreated,
	models.ActionTaskUpdated:        EventTaskUpdated,
	models.ActionTaskCompleted:      EventTaskCompleted,
	models.ActionTaskMoved:          EventTaskMoved,
	models.ActionTaskDeleted:        EventTaskDeleted,
	models.ActionGroupCreated:       EventGroupCreated,
	models.ActionGroupUpdated:       EventGroupUpdated,
	models.ActionGroupDeleted:       EventGroupDeleted,
	models.ActionGroupLeft:          EventGroupLeft,
	models.ActionGroupMessageSent:   EventMessageCreated,
	models.ActionTodoMessageCreated: EventCommentCreated,
	models.ActionTodoMessageUpdated: EventCommentUpdated,
	models.ActionTodoMessageDeleted: EventCommentDeleted,
}

// EventsForAction maps a committed action to the events announcing it.
// Task actions go to the task room and, for group tasks, the group room.
// Unknown actions produce nothing.
func EventsForAction(action models.AssistantAction, at time.Time) []Event {
	name, ok := actionEvents[action.Type]
	if !ok {
		return nil
	}
	var rooms []string
	switch {
	case action.Type.IsTask():
		rooms = append(rooms, TaskRoom(action.ID))
		if action.GroupID > 0 {
			rooms = append(rooms, GroupRoom(action.GroupID))
		}
	case action.Type.IsTodoMessage():
		rooms = append(rooms, TaskRoom(action.TaskID))
	case action.Type == models.ActionGroupMessageSent:
		rooms = append(rooms, GroupRoom(action.GroupID))
	default:
		rooms = append(rooms, GroupRoom(action.ID))
	}

	events := make([]Event, 0, len(rooms))
	for _, room := range rooms {
		events = append(events, Event{Name: name, Room: room, Payload: action, At: at})
	}
	return events
}

// AssistantMessage is the payload of an assistant reply posted in a group.
type AssistantMessage struct {
	ID      int64  `json:"id,omitempty"`
	GroupID int64  `json:"groupId"`
	Author  string `json:"author"`
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
	ErrorID string `json:"errorId,omitempty"`
}
