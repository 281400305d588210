// Package chatstore provides durable and in-memory implementations of the
// conversation store.
package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"mcp-chat-server/internal/domain/chat"
)

// messageEntity is the persisted form of a conversation message.
type messageEntity struct {
	ID             string         `gorm:"primaryKey;type:uuid"`
	ConversationID string         `gorm:"index;type:uuid;not null"`
	Role           string         `gorm:"size:16;not null"`
	Content        string         `gorm:"type:text"`
	ToolCalls      datatypes.JSON `gorm:"type:jsonb"`
	ToolCallID     string         `gorm:"size:64;index"`
	Sequence       int64          `gorm:"autoIncrement;uniqueIndex"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (messageEntity) TableName() string {
	return "chat_message"
}

// Migrate creates the chat message table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&messageEntity{})
}

// PostgresStore persists one conversation's messages via GORM.
type PostgresStore struct {
	db             *gorm.DB
	conversationID string
}

// NewPostgresStore builds a store scoped to one conversation.
func NewPostgresStore(db *gorm.DB, conversationID string) *PostgresStore {
	return &PostgresStore{db: db, conversationID: conversationID}
}

// AddMessage inserts the message and returns its ID, generating one when the
// caller did not.
func (s *PostgresStore) AddMessage(ctx context.Context, msg chat.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	entity := messageEntity{
		ID:             msg.ID,
		ConversationID: s.conversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		ToolCallID:     msg.ToolCallID,
		CreatedAt:      msg.CreatedAt,
	}
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return "", fmt.Errorf("encode tool calls: %w", err)
		}
		entity.ToolCalls = datatypes.JSON(raw)
	}

	if err := s.db.WithContext(ctx).Create(&entity).Error; err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return msg.ID, nil
}

// UpdateMessage applies the patch to the stored message.
func (s *PostgresStore) UpdateMessage(ctx context.Context, id string, patch chat.MessagePatch) error {
	updates := map[string]any{}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.ToolCalls != nil {
		raw, err := json.Marshal(patch.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		updates["tool_calls"] = datatypes.JSON(raw)
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&messageEntity{}).
		Where("id = ? AND conversation_id = ?", id, s.conversationID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update message %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message not found: %s", id)
	}
	return nil
}

// Messages returns the conversation in insertion order.
func (s *PostgresStore) Messages(ctx context.Context) ([]chat.Message, error) {
	var rows []messageEntity
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", s.conversationID).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		msg := chat.Message{
			ID:         row.ID,
			Role:       chat.Role(row.Role),
			Content:    row.Content,
			ToolCallID: row.ToolCallID,
			CreatedAt:  row.CreatedAt,
		}
		if len(row.ToolCalls) > 0 {
			if err := json.Unmarshal(row.ToolCalls, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for %s: %w", row.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Ensure interface compliance.
var _ chat.Store = (*PostgresStore)(nil)
