package repository

import (
	"context"
	"errors"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WindowRepository struct {
	*pg.DB
}

func NewWindowRepository(db *pg.DB) *WindowRepository {
	return &WindowRepository{db}
}

func (r *WindowRepository) Get(ctx context.Context, hotelID int64, phone string) (*model.WhatsAppServiceWindow, error) {
	var w model.WhatsAppServiceWindow
	err := r.Read(ctx).
		Where("hotel_id = ? AND phone = ?", hotelID, phone).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// LatestByPhone finds the most recently refreshed window for a phone across
// hotels, used when an inbound message carries no other hotel context.
func (r *WindowRepository) LatestByPhone(ctx context.Context, phone string) (*model.WhatsAppServiceWindow, error) {
	var w model.WhatsAppServiceWindow
	err := r.Read(ctx).
		Where("phone = ?", phone).
		Order("last_inbound_at DESC").
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// Touch opens or refreshes the window on any inbound message.
func (r *WindowRepository) Touch(ctx context.Context, hotelID int64, phone string, at time.Time) error {
	w := model.WhatsAppServiceWindow{HotelID: hotelID, Phone: phone, LastInboundAt: at}
	return r.Write(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hotel_id"}, {Name: "phone"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"last_inbound_at": at}),
	}).Create(&w).Error
}

// Beat upserts a heartbeat row for a periodic task.
func (r *WindowRepository) Beat(ctx context.Context, taskName, status string, at time.Time) error {
	hb := model.TaskHeartbeat{TaskName: taskName, LastRun: at, Status: status}
	return r.Write(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "task_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_run": at,
			"status":   status,
		}),
	}).Create(&hb).Error
}

// StaleHeartbeats lists tasks that have not reported within threshold.
func (r *WindowRepository) StaleHeartbeats(ctx context.Context, threshold time.Duration, now time.Time) ([]*model.TaskHeartbeat, error) {
	var beats []*model.TaskHeartbeat
	err := r.Read(ctx).
		Where("last_run < ?", now.Add(-threshold)).
		Find(&beats).Error
	if err != nil {
		return nil, err
	}
	return beats, nil
}
