package domain

import (
	"context"
	"time"
)

// Task is a to-do item owned by a user, optionally shared through a group.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Done        bool       `json:"done"`
	OwnerID     string     `json:"ownerId"`
	GroupID     int64      `json:"groupId,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Group is a shared space with members, tasks and a chat.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// GroupMessage is one chat message posted in a group.
type GroupMessage struct {
	ID            int64     `json:"id"`
	GroupID       int64     `json:"groupId"`
	AuthorID      string    `json:"authorId"`
	AuthorName    string    `json:"authorName,omitempty"`
	Text          string    `json:"text"`
	FromAssistant bool      `json:"fromAssistant,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TodoMessage is a comment attached to a task.
type TodoMessage struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Friend is a contact of a user.
type Friend struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// CreateTaskInput carries the fields of a new task.
type CreateTaskInput struct {
	Title       string
	Description string
	GroupID     int64
	DueDate     *time.Time
}

// UpdateTaskInput carries optional task changes; nil fields are left untouched.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	DueDate     *time.Time
}

// TaskFilter narrows ListTasks. A zero GroupID lists every visible task.
type TaskFilter struct {
	GroupID     int64
	Query       string
	IncludeDone bool
}

// CreateGroupInput carries the fields of a new group.
type CreateGroupInput struct {
	Name        string
	Description string
	Members     []string
}

// UpdateGroupInput carries optional group changes.
type UpdateGroupInput struct {
	Name        *string
	Description *string
}

// TaskUseCases is the task surface exposed to the HTTP layer and the assistant.
type TaskUseCases interface {
	CreateTask(ctx context.Context, actor string, in CreateTaskInput) (*Task, error)
	ListTasks(ctx context.Context, actor string, filter TaskFilter) ([]Task, error)
	GetTask(ctx context.Context, actor string, id int64) (*Task, error)
	UpdateTask(ctx context.Context, actor string, id int64, in UpdateTaskInput) (*Task, error)
	CompleteTask(ctx context.Context, actor string, id int64) (*Task, error)
	MoveTask(ctx context.Context, actor string, id, groupID int64) (*Task, error)
	DeleteTask(ctx context.Context, actor string, id int64) (*Task, error)
}

// GroupUseCases is the group surface.
type GroupUseCases interface {
	CreateGroup(ctx context.Context, actor string, in CreateGroupInput) (*Group, error)
	ListGroups(ctx context.Context, actor string) ([]Group, error)
	GetGroup(ctx context.Context, actor string, id int64) (*Group, error)
	UpdateGroup(ctx context.Context, actor string, id int64, in UpdateGroupInput) (*Group, error)
	DeleteGroup(ctx context.Context, actor string, id int64) (*Group, error)
	LeaveGroup(ctx context.Context, actor string, id int64) (*Group, error)
	RemoveMember(ctx context.Context, actor string, id int64, memberID string) (*Group, error)
}

// MessageUseCases covers group chat and task comments.
type MessageUseCases interface {
	SendGroupMessage(ctx context.Context, actor string, groupID int64, text string) (*GroupMessage, error)
	RecordAssistantMessage(ctx context.Context, groupID int64, text string) (*GroupMessage, error)
	// ListGroupMessages returns the most recent limit messages, oldest first.
	ListGroupMessages(ctx context.Context, actor string, groupID int64, limit int) ([]GroupMessage, error)
	ListTodoMessages(ctx context.Context, actor string, taskID int64) ([]TodoMessage, error)
	CreateTodoMessage(ctx context.Context, actor string, taskID int64, text string) (*TodoMessage, error)
	UpdateTodoMessage(ctx context.Context, actor string, id int64, text string) (*TodoMessage, error)
	DeleteTodoMessage(ctx context.Context, actor string, id int64) (*TodoMessage, error)
}

// FriendUseCases lists a user's contacts.
type FriendUseCases interface {
	ListFriends(ctx context.Context, actor string) ([]Friend, error)
}

// GroupHistory is the engine's own read of group chat, used for context
// assembly and summaries. It is not exposed to users and skips the
// membership check of ListGroupMessages.
type GroupHistory interface {
	// RecentGroupMessages returns the most recent limit messages, oldest first.
	RecentGroupMessages(ctx context.Context, groupID int64, limit int) ([]GroupMessage, error)
}

// UseCases bundles the collaborators the assistant acts through. It is built
// once at startup and passed explicitly to the tool registry and the router.
type UseCases struct {
	Tasks    TaskUseCases
	Groups   GroupUseCases
	Messages MessageUseCases
	Friends  FriendUseCases
	History  GroupHistory
}
