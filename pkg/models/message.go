package models

import (
	"encoding/json"
	"time"
)

// Surface identifies where a conversation happens.
type Surface string

const (
	SurfacePrivate Surface = "private"
	SurfaceGroup   Surface = "group"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry of a private assistant thread or of a group chat.
type Message struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id,omitempty"`
	GroupID    int64          `json:"group_id,omitempty"`
	AuthorName string         `json:"author_name,omitempty"`
	Role       Role           `json:"role"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Surface reports whether the message belongs to a group or a private thread.
func (m Message) Surface() Surface {
	if m.GroupID != 0 {
		return SurfaceGroup
	}
	return SurfacePrivate
}

// ToolCall is a model request to invoke one named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}
