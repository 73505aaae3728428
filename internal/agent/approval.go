package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/elisa/internal/state"
	"github.com/haasonsaas/elisa/internal/tools"
	"github.com/haasonsaas/elisa/pkg/models"
)

// ApprovalDecision is the result of checking a tool call against the
// confirmation gate.
type ApprovalDecision string

const (
	// ApprovalAllowed means the call runs immediately.
	ApprovalAllowed ApprovalDecision = "allowed"
	// ApprovalPending means the call waits for an explicit "sim".
	ApprovalPending ApprovalDecision = "pending"
)

// SensitivityChecker reports whether a tool is destructive.
type SensitivityChecker interface {
	IsSensitive(name string) bool
}

// ApprovalChecker holds sensitive tool calls back until the user confirms
// them. RequireApproval adds exact names or "prefix*" patterns on top of the
// checker's own classification.
type ApprovalChecker struct {
	sensitivity     SensitivityChecker
	slots           *state.Slots
	requireApproval []string
}

// NewApprovalChecker builds a checker that stores pending calls in slots.
func NewApprovalChecker(sensitivity SensitivityChecker, slots *state.Slots, requireApproval []string) *ApprovalChecker {
	return &ApprovalChecker{sensitivity: sensitivity, slots: slots, requireApproval: requireApproval}
}

// Check classifies a tool call.
func (c *ApprovalChecker) Check(call models.ToolCall) ApprovalDecision {
	if c.sensitivity != nil && c.sensitivity.IsSensitive(call.Name) {
		return ApprovalPending
	}
	for _, pattern := range c.requireApproval {
		pattern = strings.TrimSpace(pattern)
		if pattern == call.Name {
			return ApprovalPending
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(call.Name, strings.TrimSuffix(pattern, "*")) {
			return ApprovalPending
		}
	}
	return ApprovalAllowed
}

// CreateApprovalRequest stores the call as the caller's pending
// confirmation, replacing any earlier one.
func (c *ApprovalChecker) CreateApprovalRequest(ctx context.Context, caller tools.Caller, call models.ToolCall) (*state.PendingConfirmation, error) {
	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return c.slots.RequestConfirmation(ctx, caller.GroupID, caller.UserID, state.PendingConfirmation{
		ToolName: call.Name,
		ToolArgs: args,
		Prompt:   tools.Describe(call.Name, args),
	})
}
