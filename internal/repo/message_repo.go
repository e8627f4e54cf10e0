// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// ErrInsertFailed is returned when an insert reported success but wrote no row.
var ErrInsertFailed = errors.New("insert affected no rows")

// AppendMessage inserts a message into chatID and returns it with its
// server-assigned id and creation time.
func AppendMessage(ctx context.Context, db *gorm.DB, chatID string, role domain.Role, content string) (*domain.Message, error) {
	m := &domain.Message{
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	res := db.WithContext(ctx).Omit("Session").Create(m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || m.ID == 0 {
		return nil, ErrInsertFailed
	}
	return m, nil
}

// ListMessages returns the messages of chatID ordered deterministically
// (CreatedAt ASC, ID ASC). An unknown chat yields an empty slice.
func ListMessages(ctx context.Context, db *gorm.DB, chatID string) ([]domain.Message, error) {
	out := []domain.Message{}
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetMessage fetches message id within chatID, or ErrNotFound.
func GetMessage(ctx context.Context, db *gorm.DB, chatID string, id int64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("chat_id = ? AND id = ?", chatID, id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMessage removes message id from chatID. It returns ErrNotFound when
// no row matched, including when the id belongs to a different chat.
func DeleteMessage(ctx context.Context, db *gorm.DB, chatID string, id int64) error {
	res := db.WithContext(ctx).
		Where("chat_id = ? AND id = ?", chatID, id).
		Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
