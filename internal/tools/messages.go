package tools

import (
	"context"

	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/pkg/models"
)

type sendGroupMessageArgs struct {
	GroupRef
	Text string `json:"text" jsonschema:"minLength=1"`
}

type listTodoMessagesArgs struct {
	TaskRef
}

type createTodoMessageArgs struct {
	TaskRef
	Text string `json:"text" jsonschema:"minLength=1"`
}

type updateTodoMessageArgs struct {
	MessageID int64  `json:"messageId" jsonschema:"minimum=1"`
	Text      string `json:"text" jsonschema:"minLength=1"`
}

type deleteTodoMessageArgs struct {
	MessageID int64 `json:"messageId" jsonschema:"minimum=1"`
}

type listFriendsArgs struct{}

func commentPayload(m *domain.TodoMessage) map[string]any {
	return map[string]any{
		"id":     m.ID,
		"taskId": m.TaskID,
		"text":   m.Text,
		"author": m.AuthorID,
	}
}

func messageTools(r resolver) []Tool {
	uc := r.uc
	return []Tool{
		newTool("sendGroupMessage", "Post a message in a group chat on behalf of the user.", false,
			func(ctx context.Context, caller Caller, args sendGroupMessageArgs) (models.ToolResult, error) {
				g, amb, err := r.group(ctx, caller, args.GroupRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				m, err := uc.Messages.SendGroupMessage(ctx, caller.UserID, g.ID, args.Text)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(
					map[string]any{"id": m.ID, "groupId": m.GroupID, "text": m.Text},
					&models.AssistantAction{Type: models.ActionGroupMessageSent, ID: m.ID, GroupID: m.GroupID},
				), nil
			}),

		newTool("listTodoMessages", "List the comments of a task.", false,
			func(ctx context.Context, caller Caller, args listTodoMessagesArgs) (models.ToolResult, error) {
				t, amb, err := r.task(ctx, caller, args.TaskRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				found, err := uc.Messages.ListTodoMessages(ctx, caller.UserID, t.ID)
				if err != nil {
					return models.ToolResult{}, err
				}
				items := make([]map[string]any, 0, len(found))
				for i := range found {
					items = append(items, commentPayload(&found[i]))
				}
				return models.Success(map[string]any{"taskId": t.ID, "comments": items}, nil), nil
			}),

		newTool("createTodoMessage", "Add a comment to a task.", false,
			func(ctx context.Context, caller Caller, args createTodoMessageArgs) (models.ToolResult, error) {
				t, amb, err := r.task(ctx, caller, args.TaskRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				m, err := uc.Messages.CreateTodoMessage(ctx, caller.UserID, t.ID, args.Text)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(commentPayload(m), &models.AssistantAction{
					Type: models.ActionTodoMessageCreated, ID: m.ID, TaskID: m.TaskID, GroupID: t.GroupID,
				}), nil
			}),

		newTool("updateTodoMessage", "Edit one of the user's comments.", false,
			func(ctx context.Context, caller Caller, args updateTodoMessageArgs) (models.ToolResult, error) {
				m, err := uc.Messages.UpdateTodoMessage(ctx, caller.UserID, args.MessageID, args.Text)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(commentPayload(m), &models.AssistantAction{
					Type: models.ActionTodoMessageUpdated, ID: m.ID, TaskID: m.TaskID,
				}), nil
			}),

		newTool("deleteTodoMessage", "Delete one of the user's comments.", true,
			func(ctx context.Context, caller Caller, args deleteTodoMessageArgs) (models.ToolResult, error) {
				m, err := uc.Messages.DeleteTodoMessage(ctx, caller.UserID, args.MessageID)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(map[string]any{"id": m.ID, "taskId": m.TaskID}, &models.AssistantAction{
					Type: models.ActionTodoMessageDeleted, ID: m.ID, TaskID: m.TaskID,
				}), nil
			}),

		newTool("listFriends", "List the user's friends.", false,
			func(ctx context.Context, caller Caller, _ listFriendsArgs) (models.ToolResult, error) {
				friends, err := uc.Friends.ListFriends(ctx, caller.UserID)
				if err != nil {
					return models.ToolResult{}, err
				}
				items := make([]map[string]any, 0, len(friends))
				for _, f := range friends {
					items = append(items, map[string]any{"userId": f.UserID, "name": f.Name})
				}
				return models.Success(map[string]any{"friends": items}, nil), nil
			}),
	}
}

// RegisterDefaults registers the full catalogue backed by uc.
func RegisterDefaults(reg *Registry, uc domain.UseCases) error {
	r := resolver{uc: uc}
	var all []Tool
	all = append(all, taskTools(r)...)
	all = append(all, groupTools(r)...)
	all = append(all, messageTools(r)...)
	for _, tool := range all {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
