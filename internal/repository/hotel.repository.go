package repository

import (
	"context"
	"errors"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"gorm.io/gorm"
)

type HotelRepository struct {
	*pg.DB
}

func NewHotelRepository(db *pg.DB) *HotelRepository {
	return &HotelRepository{db}
}

func (r *HotelRepository) GetByID(ctx context.Context, id int64) (*model.Hotel, error) {
	var h model.Hotel
	if err := r.Read(ctx).First(&h, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *HotelRepository) GetBySlug(ctx context.Context, slug string) (*model.Hotel, error) {
	var h model.Hotel
	if err := r.Read(ctx).Where("slug = ?", slug).First(&h).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *HotelRepository) ListActive(ctx context.Context) ([]*model.Hotel, error) {
	var hotels []*model.Hotel
	err := r.Read(ctx).Where("is_active = ?", true).Order("id ASC").Find(&hotels).Error
	if err != nil {
		return nil, err
	}
	return hotels, nil
}

// ListActiveEscalationEnabled narrows the escalation tick to hotels that
// opted in.
func (r *HotelRepository) ListActiveEscalationEnabled(ctx context.Context) ([]*model.Hotel, error) {
	var hotels []*model.Hotel
	err := r.Read(ctx).
		Where("is_active = ? AND escalation_enabled = ?", true, true).
		Order("id ASC").
		Find(&hotels).Error
	if err != nil {
		return nil, err
	}
	return hotels, nil
}

func (r *HotelRepository) GetDepartment(ctx context.Context, id int64) (*model.Department, error) {
	var d model.Department
	if err := r.Read(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}
