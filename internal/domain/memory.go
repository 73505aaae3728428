package domain

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxTitleLength   = 200
	maxMessageLength = 4000
)

// MemoryService implements every use-case interface on in-process maps.
// It enforces the same ownership and membership rules as the persistent
// implementation and backs the chat command and tests.
type MemoryService struct {
	mu           sync.RWMutex
	nextID       int64
	tasks        map[int64]*Task
	groups       map[int64]*Group
	messages     map[int64][]GroupMessage
	todoMessages map[int64]*TodoMessage
	friends      map[string][]Friend
	nowFunc      func() time.Time
}

// NewMemoryService creates an empty service.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		tasks:        make(map[int64]*Task),
		groups:       make(map[int64]*Group),
		messages:     make(map[int64][]GroupMessage),
		todoMessages: make(map[int64]*TodoMessage),
		friends:      make(map[string][]Friend),
		nowFunc:      time.Now,
	}
}

// UseCases returns the service wired as every collaborator.
func (s *MemoryService) UseCases() UseCases {
	return UseCases{Tasks: s, Groups: s, Messages: s, Friends: s, History: s}
}

// SetFriends replaces the contact list of a user.
func (s *MemoryService) SetFriends(userID string, friends []Friend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends[userID] = append([]Friend(nil), friends...)
}

// AddMember adds a member without permission checks. Used for seeding.
func (s *MemoryService) AddMember(groupID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return notFoundf("add member", "group %d not found", groupID)
	}
	if !g.HasMember(userID) {
		g.Members = append(g.Members, userID)
	}
	return nil
}

func (s *MemoryService) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryService) memberGroup(op, actor string, groupID int64) (*Group, error) {
	g, ok := s.groups[groupID]
	if !ok {
		return nil, notFoundf(op, "group %d not found", groupID)
	}
	if !g.HasMember(actor) {
		return nil, forbiddenf(op, "you are not a member of group %q", g.Name)
	}
	return g, nil
}

func (s *MemoryService) visibleTask(op, actor string, id int64) (*Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, notFoundf(op, "task %d not found", id)
	}
	if t.OwnerID == actor {
		return t, nil
	}
	if t.GroupID != 0 {
		if g, ok := s.groups[t.GroupID]; ok && g.HasMember(actor) {
			return t, nil
		}
	}
	// Hidden tasks look missing so ids are not probed.
	return nil, notFoundf(op, "task %d not found", id)
}

func cleanTitle(op, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", validationf(op, "title is required")
	}
	if len([]rune(title)) > maxTitleLength {
		return "", validationf(op, "title exceeds %d characters", maxTitleLength)
	}
	return title, nil
}

func cleanText(op, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", validationf(op, "text is required")
	}
	if len([]rune(text)) > maxMessageLength {
		return "", validationf(op, "text exceeds %d characters", maxMessageLength)
	}
	return text, nil
}

// CreateTask implements TaskUseCases.
func (s *MemoryService) CreateTask(_ context.Context, actor string, in CreateTaskInput) (*Task, error) {
	const op = "create task"
	title, err := cleanTitle(op, in.Title)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.GroupID != 0 {
		if _, err := s.memberGroup(op, actor, in.GroupID); err != nil {
			return nil, err
		}
	}
	now := s.nowFunc()
	t := &Task{
		ID:          s.id(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		OwnerID:     actor,
		GroupID:     in.GroupID,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = t
	out := *t
	return &out, nil
}

// ListTasks implements TaskUseCases.
func (s *MemoryService) ListTasks(_ context.Context, actor string, filter TaskFilter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if filter.GroupID != 0 {
		if _, err := s.memberGroup("list tasks", actor, filter.GroupID); err != nil {
			return nil, err
		}
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	var out []Task
	for id := range s.tasks {
		t, err := s.visibleTask("list tasks", actor, id)
		if err != nil {
			continue
		}
		if filter.GroupID != 0 && t.GroupID != filter.GroupID {
			continue
		}
		if t.Done && !filter.IncludeDone {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(t.Title), query) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTask implements TaskUseCases.
func (s *MemoryService) GetTask(_ context.Context, actor string, id int64) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.visibleTask("get task", actor, id)
	if err != nil {
		return nil, err
	}
	out := *t
	return &out, nil
}

// UpdateTask implements TaskUseCases.
func (s *MemoryService) UpdateTask(_ context.Context, actor string, id int64, in UpdateTaskInput) (*Task, error) {
	const op = "update task"
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.visibleTask(op, actor, id)
	if err != nil {
		return nil, err
	}
	if in.Title == nil && in.Description == nil && in.DueDate == nil {
		return nil, validationf(op, "nothing to update")
	}
	if in.Title != nil {
		title, err := cleanTitle(op, *in.Title)
		if err != nil {
			return nil, err
		}
		t.Title = title
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
	}
	if in.DueDate != nil {
		t.DueDate = in.DueDate
	}
	t.UpdatedAt = s.nowFunc()
	out := *t
	return &out, nil
}

// CompleteTask implements TaskUseCases.
func (s *MemoryService) CompleteTask(_ context.Context, actor string, id int64) (*Task, error) {
	const op = "complete task"
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.visibleTask(op, actor, id)
	if err != nil {
		return nil, err
	}
	if t.Done {
		return nil, conflictf(op, "task %q is already completed", t.Title)
	}
	now := s.nowFunc()
	t.Done = true
	t.CompletedAt = &now
	t.UpdatedAt = now
	out := *t
	return &out, nil
}

// MoveTask implements TaskUseCases. A zero groupID moves the task back to the
// owner's personal list.
func (s *MemoryService) MoveTask(_ context.Context, actor string, id, groupID int64) (*Task, error) {
	const op = "move task"
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.visibleTask(op, actor, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != actor {
		return nil, forbiddenf(op, "only the task owner can move it")
	}
	if t.GroupID == groupID {
		return nil, validationf(op, "task is already there")
	}
	if groupID != 0 {
		if _, err := s.memberGroup(op, actor, groupID); err != nil {
			return nil, err
		}
	}
	t.GroupID = groupID
	t.UpdatedAt = s.nowFunc()
	out := *t
	return &out, nil
}

// DeleteTask implements TaskUseCases. The task owner or the group owner may delete.
func (s *MemoryService) DeleteTask(_ context.Context, actor string, id int64) (*Task, error) {
	const op = "delete task"
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.visibleTask(op, actor, id)
	if err != nil {
		return nil, err
	}
	allowed := t.OwnerID == actor
	if !allowed && t.GroupID != 0 {
		if g, ok := s.groups[t.GroupID]; ok && g.OwnerID == actor {
			allowed = true
		}
	}
	if !allowed {
		return nil, forbiddenf(op, "only the task owner can delete it")
	}
	delete(s.tasks, id)
	for mid, m := range s.todoMessages {
		if m.TaskID == id {
			delete(s.todoMessages, mid)
		}
	}
	out := *t
	return &out, nil
}

// CreateGroup implements GroupUseCases. Group names are unique per owner.
func (s *MemoryService) CreateGroup(_ context.Context, actor string, in CreateGroupInput) (*Group, error) {
	const op = "create group"
	name, err := cleanTitle(op, in.Name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.OwnerID == actor && strings.EqualFold(g.Name, name) {
			return nil, conflictf(op, "you already have a group named %q", name)
		}
	}
	members := []string{actor}
	for _, m := range in.Members {
		m = strings.TrimSpace(m)
		if m != "" && m != actor {
			members = append(members, m)
		}
	}
	g := &Group{
		ID:          s.id(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		OwnerID:     actor,
		Members:     members,
		CreatedAt:   s.nowFunc(),
	}
	s.groups[g.ID] = g
	return cloneGroup(g), nil
}

// ListGroups implements GroupUseCases.
func (s *MemoryService) ListGroups(_ context.Context, actor string) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Group
	for _, g := range s.groups {
		if g.HasMember(actor) {
			out = append(out, *cloneGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetGroup implements GroupUseCases.
func (s *MemoryService) GetGroup(_ context.Context, actor string, id int64) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.memberGroup("get group", actor, id)
	if err != nil {
		return nil, err
	}
	return cloneGroup(g), nil
}

// UpdateGroup implements GroupUseCases.
func (s *MemoryService) UpdateGroup(_ context.Context, actor string, id int64, in UpdateGroupInput) (*Group, error) {
	const op = "update group"
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.memberGroup(op, actor, id)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != actor {
		return nil, forbiddenf(op, "only the group owner can edit it")
	}
	if in.Name == nil && in.Description == nil {
		return nil, validationf(op, "nothing to update")
	}
	if in.Name != nil {
		name, err := cleanTitle(op, *in.Name)
		if err != nil {
			return nil, err
		}
		for _, other := range s.groups {
			if other.ID != g.ID && other.OwnerID == actor && strings.EqualFold(other.Name, name) {
				return nil, conflictf(op, "you already have a group named %q", name)
			}
		}
		g.Name = name
	}
	if in.Description != nil {
		g.Description = strings.TrimSpace(*in.Description)
	}
	return cloneGroup(g), nil
}

// DeleteGroup implements GroupUseCases.
func (s *MemoryService) DeleteGroup(_ context.Context, actor string, id int64) (*Group, error) {
	const op = "delete group"
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.memberGroup(op, actor, id)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != actor {
		return nil, forbiddenf(op, "only the group owner can delete it")
	}
	delete(s.groups, id)
	delete(s.messages, id)
	for tid, t := range s.tasks {
		if t.GroupID == id {
			delete(s.tasks, tid)
		}
	}
	return cloneGroup(g), nil
}

// LeaveGroup implements GroupUseCases. Owners cannot leave their own group.
func (s *MemoryService) LeaveGroup(_ context.Context, actor string, id int64) (*Group, error) {
	const op = "leave group"
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.memberGroup(op, actor, id)
	if err != nil {
		return nil, err
	}
	if g.OwnerID == actor {
		return nil, validationf(op, "the owner cannot leave the group; delete it instead")
	}
	g.Members = without(g.Members, actor)
	return cloneGroup(g), nil
}

// RemoveMember implements GroupUseCases.
func (s *MemoryService) RemoveMember(_ context.Context, actor string, id int64, memberID string) (*Group, error) {
	const op = "remove member"
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.memberGroup(op, actor, id)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != actor {
		return nil, forbiddenf(op, "only the group owner can remove members")
	}
	if memberID == actor {
		return nil, validationf(op, "the owner cannot remove themselves")
	}
	if !g.HasMember(memberID) {
		return nil, notFoundf(op, "user %s is not a member", memberID)
	}
	g.Members = without(g.Members, memberID)
	return cloneGroup(g), nil
}

// SendGroupMessage implements MessageUseCases.
func (s *MemoryService) SendGroupMessage(_ context.Context, actor string, groupID int64, text string) (*GroupMessage, error) {
	const op = "send message"
	text, err := cleanText(op, text)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.memberGroup(op, actor, groupID); err != nil {
		return nil, err
	}
	m := GroupMessage{ID: s.id(), GroupID: groupID, AuthorID: actor, Text: text, CreatedAt: s.nowFunc()}
	s.messages[groupID] = append(s.messages[groupID], m)
	return &m, nil
}

// RecordAssistantMessage implements MessageUseCases.
func (s *MemoryService) RecordAssistantMessage(_ context.Context, groupID int64, text string) (*GroupMessage, error) {
	const op = "record assistant message"
	text, err := cleanText(op, text)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, notFoundf(op, "group %d not found", groupID)
	}
	m := GroupMessage{ID: s.id(), GroupID: groupID, AuthorID: "assistant", AuthorName: "ELISA", Text: text, FromAssistant: true, CreatedAt: s.nowFunc()}
	s.messages[groupID] = append(s.messages[groupID], m)
	return &m, nil
}

// ListGroupMessages implements MessageUseCases.
func (s *MemoryService) ListGroupMessages(_ context.Context, actor string, groupID int64, limit int) ([]GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.memberGroup("list messages", actor, groupID); err != nil {
		return nil, err
	}
	all := s.messages[groupID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]GroupMessage(nil), all...), nil
}

// RecentGroupMessages implements GroupHistory.
func (s *MemoryService) RecentGroupMessages(_ context.Context, groupID int64, limit int) ([]GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, notFoundf("recent messages", "group %d not found", groupID)
	}
	all := s.messages[groupID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]GroupMessage(nil), all...), nil
}

// ListTodoMessages implements MessageUseCases.
func (s *MemoryService) ListTodoMessages(_ context.Context, actor string, taskID int64) ([]TodoMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.visibleTask("list comments", actor, taskID); err != nil {
		return nil, err
	}
	var out []TodoMessage
	for _, m := range s.todoMessages {
		if m.TaskID == taskID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateTodoMessage implements MessageUseCases.
func (s *MemoryService) CreateTodoMessage(_ context.Context, actor string, taskID int64, text string) (*TodoMessage, error) {
	const op = "create comment"
	text, err := cleanText(op, text)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.visibleTask(op, actor, taskID); err != nil {
		return nil, err
	}
	now := s.nowFunc()
	m := &TodoMessage{ID: s.id(), TaskID: taskID, AuthorID: actor, Text: text, CreatedAt: now, UpdatedAt: now}
	s.todoMessages[m.ID] = m
	out := *m
	return &out, nil
}

// UpdateTodoMessage implements MessageUseCases. Only the author may edit.
func (s *MemoryService) UpdateTodoMessage(_ context.Context, actor string, id int64, text string) (*TodoMessage, error) {
	const op = "update comment"
	text, err := cleanText(op, text)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.ownComment(op, actor, id)
	if err != nil {
		return nil, err
	}
	m.Text = text
	m.UpdatedAt = s.nowFunc()
	out := *m
	return &out, nil
}

// DeleteTodoMessage implements MessageUseCases. Only the author may delete.
func (s *MemoryService) DeleteTodoMessage(_ context.Context, actor string, id int64) (*TodoMessage, error) {
	const op = "delete comment"
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.ownComment(op, actor, id)
	if err != nil {
		return nil, err
	}
	delete(s.todoMessages, id)
	out := *m
	return &out, nil
}

func (s *MemoryService) ownComment(op, actor string, id int64) (*TodoMessage, error) {
	m, ok := s.todoMessages[id]
	if !ok {
		return nil, notFoundf(op, "comment %d not found", id)
	}
	if _, err := s.visibleTask(op, actor, m.TaskID); err != nil {
		return nil, notFoundf(op, "comment %d not found", id)
	}
	if m.AuthorID != actor {
		return nil, forbiddenf(op, "only the author can change a comment")
	}
	return m, nil
}

// ListFriends implements FriendUseCases.
func (s *MemoryService) ListFriends(_ context.Context, actor string) ([]Friend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Friend(nil), s.friends[actor]...), nil
}

func cloneGroup(g *Group) *Group {
	out := *g
	out.Members = append([]string(nil), g.Members...)
	return &out
}

func without(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
