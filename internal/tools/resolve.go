package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/pkg/models"
)

// TaskRef points at a task by id or by title.
type TaskRef struct {
	ID    int64  `json:"id,omitempty" jsonschema:"description=Task id when known"`
	Title string `json:"title,omitempty" jsonschema:"description=Task title when the id is unknown"`
}

// GroupRef points at a group by id or by name. Empty means the group the
// conversation is happening in.
type GroupRef struct {
	GroupID   int64  `json:"groupId,omitempty" jsonschema:"description=Group id when known"`
	GroupName string `json:"groupName,omitempty" jsonschema:"description=Group name when the id is unknown"`
}

type resolver struct {
	uc domain.UseCases
}

func (r resolver) groupNames(ctx context.Context, actor string) map[int64]string {
	names := make(map[int64]string)
	groups, err := r.uc.Groups.ListGroups(ctx, actor)
	if err != nil {
		return names
	}
	for _, g := range groups {
		names[g.ID] = g.Name
	}
	return names
}

// task resolves ref. Exactly one of the results is set: a task, an ambiguity
// result, or an error.
func (r resolver) task(ctx context.Context, caller Caller, ref TaskRef) (*domain.Task, *models.ToolResult, error) {
	if ref.ID > 0 {
		t, err := r.uc.Tasks.GetTask(ctx, caller.UserID, ref.ID)
		return t, nil, err
	}
	title := strings.TrimSpace(ref.Title)
	if title == "" {
		return nil, nil, fmt.Errorf("%w: task id or title is required", ErrInvalidArgs)
	}
	found, err := r.uc.Tasks.ListTasks(ctx, caller.UserID, domain.TaskFilter{Query: title, IncludeDone: true})
	if err != nil {
		return nil, nil, err
	}
	matches := narrowTasks(found, title, caller.GroupID)
	switch len(matches) {
	case 0:
		return nil, nil, &domain.Error{Kind: domain.ErrNotFound, Message: fmt.Sprintf("no task matches %q", title)}
	case 1:
		t := matches[0]
		return &t, nil, nil
	}
	names := r.groupNames(ctx, caller.UserID)
	candidates := make([]models.ToolCandidate, 0, len(matches))
	for _, t := range matches {
		candidates = append(candidates, models.ToolCandidate{ID: t.ID, Title: t.Title, Group: names[t.GroupID]})
	}
	res := models.Ambiguous(fmt.Sprintf("%d tasks match %q", len(matches), title), candidates)
	return nil, &res, nil
}

// narrowTasks prefers exact title matches, then open tasks, then tasks of the
// current group.
func narrowTasks(tasks []domain.Task, title string, groupID int64) []domain.Task {
	var exact []domain.Task
	for _, t := range tasks {
		if strings.EqualFold(strings.TrimSpace(t.Title), title) {
			exact = append(exact, t)
		}
	}
	if len(exact) > 0 {
		tasks = exact
	}
	tasks = preferTasks(tasks, func(t domain.Task) bool { return !t.Done })
	if groupID != 0 {
		tasks = preferTasks(tasks, func(t domain.Task) bool { return t.GroupID == groupID })
	}
	return tasks
}

func preferTasks(tasks []domain.Task, keep func(domain.Task) bool) []domain.Task {
	var kept []domain.Task
	for _, t := range tasks {
		if keep(t) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return tasks
	}
	return kept
}

// group resolves ref, defaulting to the caller's current group.
func (r resolver) group(ctx context.Context, caller Caller, ref GroupRef) (*domain.Group, *models.ToolResult, error) {
	id := ref.GroupID
	name := strings.TrimSpace(ref.GroupName)
	if id == 0 && name == "" {
		if caller.GroupID == 0 {
			return nil, nil, fmt.Errorf("%w: group id or name is required", ErrInvalidArgs)
		}
		id = caller.GroupID
	}
	if id > 0 {
		g, err := r.uc.Groups.GetGroup(ctx, caller.UserID, id)
		return g, nil, err
	}
	groups, err := r.uc.Groups.ListGroups(ctx, caller.UserID)
	if err != nil {
		return nil, nil, err
	}
	var exact, partial []domain.Group
	lower := strings.ToLower(name)
	for _, g := range groups {
		switch {
		case strings.EqualFold(g.Name, name):
			exact = append(exact, g)
		case strings.Contains(strings.ToLower(g.Name), lower):
			partial = append(partial, g)
		}
	}
	matches := exact
	if len(matches) == 0 {
		matches = partial
	}
	switch len(matches) {
	case 0:
		return nil, nil, &domain.Error{Kind: domain.ErrNotFound, Message: fmt.Sprintf("no group matches %q", name)}
	case 1:
		g := matches[0]
		return &g, nil, nil
	}
	candidates := make([]models.ToolCandidate, 0, len(matches))
	for _, g := range matches {
		candidates = append(candidates, models.ToolCandidate{ID: g.ID, Name: g.Name})
	}
	res := models.Ambiguous(fmt.Sprintf("%d groups match %q", len(matches), name), candidates)
	return nil, &res, nil
}
