package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/pkg/models"
)

const dateLayout = "2006-01-02"

type createTodoArgs struct {
	Title       string `json:"title" jsonschema:"minLength=1,description=Task title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"dueDate,omitempty" jsonschema:"description=Due date as YYYY-MM-DD"`
	Personal    bool   `json:"personal,omitempty" jsonschema:"description=Create in the personal list even when talking in a group"`
	GroupRef
}

type listTodosArgs struct {
	Query       string `json:"query,omitempty"`
	IncludeDone bool   `json:"includeDone,omitempty"`
	GroupRef
}

type taskTargetArgs struct {
	TaskRef
}

type updateTodoArgs struct {
	TaskRef
	NewTitle    string `json:"newTitle,omitempty"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"dueDate,omitempty" jsonschema:"description=Due date as YYYY-MM-DD"`
}

type moveTodoArgs struct {
	TaskRef
	Personal bool `json:"personal,omitempty" jsonschema:"description=Move back to the owner's personal list"`
	GroupRef
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: dueDate must be YYYY-MM-DD", ErrInvalidArgs)
	}
	return &d, nil
}

func taskPayload(t *domain.Task) map[string]any {
	p := map[string]any{
		"id":    t.ID,
		"title": t.Title,
		"done":  t.Done,
	}
	if t.GroupID != 0 {
		p["groupId"] = t.GroupID
	}
	if t.DueDate != nil {
		p["dueDate"] = t.DueDate.Format(dateLayout)
	}
	if t.Description != "" {
		p["description"] = t.Description
	}
	return p
}

func taskAction(kind models.ActionType, t *domain.Task) *models.AssistantAction {
	return &models.AssistantAction{Type: kind, ID: t.ID, GroupID: t.GroupID, Title: t.Title}
}

func taskTools(r resolver) []Tool {
	uc := r.uc
	return []Tool{
		newTool("createTodo", "Create a task. Inside a group chat the task belongs to that group unless personal is set.", false,
			func(ctx context.Context, caller Caller, args createTodoArgs) (models.ToolResult, error) {
				due, err := parseDate(args.DueDate)
				if err != nil {
					return models.ToolResult{}, err
				}
				var groupID int64
				if !args.Personal && (args.GroupID != 0 || args.GroupName != "" || caller.GroupID != 0) {
					g, amb, err := r.group(ctx, caller, args.GroupRef)
					if amb != nil || err != nil {
						return deref(amb), err
					}
					groupID = g.ID
				}
				t, err := uc.Tasks.CreateTask(ctx, caller.UserID, domain.CreateTaskInput{
					Title:       args.Title,
					Description: args.Description,
					GroupID:     groupID,
					DueDate:     due,
				})
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(taskPayload(t), taskAction(models.ActionTaskCreated, t)), nil
			}),

		newTool("listTodos", "List open tasks visible to the user, optionally filtered by group or text.", false,
			func(ctx context.Context, caller Caller, args listTodosArgs) (models.ToolResult, error) {
				filter := domain.TaskFilter{Query: args.Query, IncludeDone: args.IncludeDone}
				if args.GroupID != 0 || args.GroupName != "" {
					g, amb, err := r.group(ctx, caller, args.GroupRef)
					if amb != nil || err != nil {
						return deref(amb), err
					}
					filter.GroupID = g.ID
				}
				found, err := uc.Tasks.ListTasks(ctx, caller.UserID, filter)
				if err != nil {
					return models.ToolResult{}, err
				}
				items := make([]map[string]any, 0, len(found))
				for i := range found {
					items = append(items, taskPayload(&found[i]))
				}
				return models.Success(map[string]any{"tasks": items, "count": len(items)}, nil), nil
			}),

		newTool("completeTodo", "Mark a task as done.", false,
			func(ctx context.Context, caller Caller, args taskTargetArgs) (models.ToolResult, error) {
				target, amb, err := r.task(ctx, caller, args.TaskRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				t, err := uc.Tasks.CompleteTask(ctx, caller.UserID, target.ID)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(taskPayload(t), taskAction(models.ActionTaskCompleted, t)), nil
			}),

		newTool("updateTodo", "Rename a task or change its description or due date.", false,
			func(ctx context.Context, caller Caller, args updateTodoArgs) (models.ToolResult, error) {
				due, err := parseDate(args.DueDate)
				if err != nil {
					return models.ToolResult{}, err
				}
				target, amb, err := r.task(ctx, caller, args.TaskRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				in := domain.UpdateTaskInput{DueDate: due}
				if args.NewTitle != "" {
					in.Title = &args.NewTitle
				}
				if args.Description != "" {
					in.Description = &args.Description
				}
				t, err := uc.Tasks.UpdateTask(ctx, caller.UserID, target.ID, in)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(taskPayload(t), taskAction(models.ActionTaskUpdated, t)), nil
			}),

		newTool("moveTodo", "Move a task to another group or back to the personal list.", false,
			func(ctx context.Context, caller Caller, args moveTodoArgs) (models.ToolResult, error) {
				target, amb, err := r.task(ctx, caller, args.TaskRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				var groupID int64
				if !args.Personal {
					if args.GroupID == 0 && args.GroupName == "" {
						return models.ToolResult{}, fmt.Errorf("%w: destination group or personal is required", ErrInvalidArgs)
					}
					g, amb, err := r.group(ctx, caller, args.GroupRef)
					if amb != nil || err != nil {
						return deref(amb), err
					}
					groupID = g.ID
				}
				t, err := uc.Tasks.MoveTask(ctx, caller.UserID, target.ID, groupID)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(taskPayload(t), taskAction(models.ActionTaskMoved, t)), nil
			}),

		newTool("deleteTodo", "Delete a task permanently.", true,
			func(ctx context.Context, caller Caller, args taskTargetArgs) (models.ToolResult, error) {
				target, amb, err := r.task(ctx, caller, args.TaskRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				t, err := uc.Tasks.DeleteTask(ctx, caller.UserID, target.ID)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(map[string]any{"id": t.ID, "title": t.Title}, taskAction(models.ActionTaskDeleted, t)), nil
			}),
	}
}

func deref(res *models.ToolResult) models.ToolResult {
	if res == nil {
		return models.ToolResult{}
	}
	return *res
}
