package tools

import (
	"context"
	"strings"

	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/pkg/models"
)

type createGroupArgs struct {
	Name        string   `json:"name" jsonschema:"minLength=1"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members,omitempty" jsonschema:"description=User ids to add as members"`
}

type listGroupsArgs struct{}

type groupTargetArgs struct {
	GroupRef
}

type updateGroupArgs struct {
	GroupRef
	NewName     string `json:"newName,omitempty"`
	Description string `json:"description,omitempty"`
}

type removeMemberArgs struct {
	GroupRef
	UserID string `json:"userId" jsonschema:"minLength=1,description=Id of the member to remove"`
}

func groupPayload(g *domain.Group) map[string]any {
	return map[string]any{
		"id":      g.ID,
		"name":    g.Name,
		"members": len(g.Members),
		"owner":   g.OwnerID,
	}
}

func groupAction(kind models.ActionType, g *domain.Group) *models.AssistantAction {
	return &models.AssistantAction{Type: kind, ID: g.ID, GroupID: g.ID, Title: g.Name}
}

func groupTools(r resolver) []Tool {
	uc := r.uc
	return []Tool{
		newTool("createGroup", "Create a group owned by the user.", false,
			func(ctx context.Context, caller Caller, args createGroupArgs) (models.ToolResult, error) {
				g, err := uc.Groups.CreateGroup(ctx, caller.UserID, domain.CreateGroupInput{
					Name:        args.Name,
					Description: args.Description,
					Members:     args.Members,
				})
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(groupPayload(g), groupAction(models.ActionGroupCreated, g)), nil
			}),

		newTool("listGroups", "List the groups the user belongs to.", false,
			func(ctx context.Context, caller Caller, _ listGroupsArgs) (models.ToolResult, error) {
				groups, err := uc.Groups.ListGroups(ctx, caller.UserID)
				if err != nil {
					return models.ToolResult{}, err
				}
				items := make([]map[string]any, 0, len(groups))
				for i := range groups {
					items = append(items, groupPayload(&groups[i]))
				}
				return models.Success(map[string]any{"groups": items, "count": len(items)}, nil), nil
			}),

		newTool("updateGroup", "Rename a group or change its description. Only the owner may do this.", false,
			func(ctx context.Context, caller Caller, args updateGroupArgs) (models.ToolResult, error) {
				target, amb, err := r.group(ctx, caller, args.GroupRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				in := domain.UpdateGroupInput{}
				if strings.TrimSpace(args.NewName) != "" {
					in.Name = &args.NewName
				}
				if args.Description != "" {
					in.Description = &args.Description
				}
				g, err := uc.Groups.UpdateGroup(ctx, caller.UserID, target.ID, in)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(groupPayload(g), groupAction(models.ActionGroupUpdated, g)), nil
			}),

		newTool("deleteGroup", "Delete a group with its tasks and messages. Only the owner may do this.", true,
			func(ctx context.Context, caller Caller, args groupTargetArgs) (models.ToolResult, error) {
				target, amb, err := r.group(ctx, caller, args.GroupRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				g, err := uc.Groups.DeleteGroup(ctx, caller.UserID, target.ID)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(map[string]any{"id": g.ID, "name": g.Name}, groupAction(models.ActionGroupDeleted, g)), nil
			}),

		newTool("leaveGroup", "Leave a group.", true,
			func(ctx context.Context, caller Caller, args groupTargetArgs) (models.ToolResult, error) {
				target, amb, err := r.group(ctx, caller, args.GroupRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				g, err := uc.Groups.LeaveGroup(ctx, caller.UserID, target.ID)
				if err != nil {
					return models.ToolResult{}, err
				}
				return models.Success(map[string]any{"id": g.ID, "name": g.Name}, groupAction(models.ActionGroupLeft, g)), nil
			}),

		newTool("removeGroupMember", "Remove a member from a group. Only the owner may do this.", true,
			func(ctx context.Context, caller Caller, args removeMemberArgs) (models.ToolResult, error) {
				target, amb, err := r.group(ctx, caller, args.GroupRef)
				if amb != nil || err != nil {
					return deref(amb), err
				}
				g, err := uc.Groups.RemoveMember(ctx, caller.UserID, target.ID, strings.TrimSpace(args.UserID))
				if err != nil {
					return models.ToolResult{}, err
				}
				payload := groupPayload(g)
				payload["removed"] = args.UserID
				return models.Success(payload, groupAction(models.ActionGroupUpdated, g)), nil
			}),
	}
}
