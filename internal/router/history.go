package router

import (
	"context"
	"strconv"

	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/internal/memory"
	"github.com/haasonsaas/elisa/pkg/models"
)

// assistantAuthor is the author id of assistant messages in group chats.
const assistantAuthor = "assistant"

// FromGroupMessage converts a stored group chat message.
func FromGroupMessage(m domain.GroupMessage) models.Message {
	role := models.RoleUser
	userID := m.AuthorID
	if m.FromAssistant || m.AuthorID == assistantAuthor {
		role = models.RoleAssistant
		userID = ""
	}
	return models.Message{
		ID:         strconv.FormatInt(m.ID, 10),
		UserID:     userID,
		GroupID:    m.GroupID,
		AuthorName: m.AuthorName,
		Role:       role,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
	}
}

// GroupHistory adapts the domain history reader for the summary manager.
func GroupHistory(history domain.GroupHistory) memory.HistoryFunc {
	return func(ctx context.Context, groupID int64, limit int) ([]models.Message, error) {
		stored, err := history.RecentGroupMessages(ctx, groupID, limit)
		if err != nil {
			return nil, err
		}
		out := make([]models.Message, 0, len(stored))
		for _, m := range stored {
			out = append(out, FromGroupMessage(m))
		}
		return out, nil
	}
}
