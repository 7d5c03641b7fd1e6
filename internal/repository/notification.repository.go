package repository

import (
	"context"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
)

type NotificationRepository struct {
	*pg.DB
}

func NewNotificationRepository(db *pg.DB) *NotificationRepository {
	return &NotificationRepository{db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if err := r.Write(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

func (r *NotificationRepository) CreateBatch(ctx context.Context, ns []*model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return r.Write(ctx).Create(&ns).Error
}

func (r *NotificationRepository) List(ctx context.Context, f model.NotificationFilter) ([]*model.Notification, error) {
	q := r.Read(ctx).
		Where("user_id = ? AND hotel_id = ?", f.UserID, f.HotelID).
		Order("created_at DESC, id DESC")
	if f.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var ns []*model.Notification
	if err := q.Find(&ns).Error; err != nil {
		return nil, err
	}
	return ns, nil
}

// MarkRead flips one notification; scoped to the owner so a user cannot
// mark another user's entries.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID int64) (bool, error) {
	res := r.Write(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ? AND is_read = ?", id, userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID, hotelID int64) (int64, error) {
	res := r.Write(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND hotel_id = ? AND is_read = ?", userID, hotelID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID, hotelID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND hotel_id = ? AND is_read = ?", userID, hotelID, false).
		Count(&count).Error
	return count, err
}
