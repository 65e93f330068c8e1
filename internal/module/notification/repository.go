package notification

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repository defines insert-only access to the notification queue.
type Repository interface {
	CreateEntry(ctx context.Context, e *QueueEntry) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new notification queue repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateEntry(ctx context.Context, e *QueueEntry) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create notification queue entry: %w", err)
	}
	return nil
}
