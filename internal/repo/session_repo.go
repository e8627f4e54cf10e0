// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChatSession model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a session is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Usage:
//
//	s, err := repo.CreateSession(ctx, db, "Trip planning")
//	if err != nil {
//	    // handle DB failure
//	}
//	if _, err := repo.DeleteSession(ctx, db, s.ID); errors.Is(err, repo.ErrNotFound) {
//	    // already gone
//	}
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateSession inserts a new ChatSession with the given title.
// The ID is a random UUID and both timestamps are set to the same UTC instant.
func CreateSession(ctx context.Context, db *gorm.DB, title string) (*domain.ChatSession, error) {
	now := time.Now().UTC()
	s := &domain.ChatSession{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns every session, most recently created first.
// Sessions created in the same instant are ordered by id for stability.
func ListSessions(ctx context.Context, db *gorm.DB) ([]domain.ChatSession, error) {
	out := []domain.ChatSession{}
	err := db.WithContext(ctx).
		Order("created_at desc, id asc").
		Find(&out).Error
	return out, err
}

// GetSession fetches a single session by id, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// RenameSession sets the title of session id and returns the updated row.
// It returns ErrNotFound when no session matched.
func RenameSession(ctx context.Context, db *gorm.DB, id, title string) (*domain.ChatSession, error) {
	res := db.WithContext(ctx).
		Model(&domain.ChatSession{}).
		Where("id = ?", id).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return GetSession(ctx, db, id)
}

// DeleteSession removes session id together with its messages and
// idempotency records in a single transaction, so no orphan messages survive
// even when the foreign key cascade is not enforced by the connection.
// It returns the deleted id, or ErrNotFound when the session did not exist.
func DeleteSession(ctx context.Context, db *gorm.DB, id string) (string, error) {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.ChatSession{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
