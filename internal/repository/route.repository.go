package repository

import (
	"context"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
)

type RouteRepository struct {
	*pg.DB
}

func NewRouteRepository(db *pg.DB) *RouteRepository {
	return &RouteRepository{db}
}

// FindForDepartment returns active routes for a department on one channel.
// Department-wide routes are unioned with experience-specific overrides when
// experienceID is set.
func (r *RouteRepository) FindForDepartment(ctx context.Context, departmentID int64, experienceID *int64, channel model.Channel) ([]*model.NotificationRoute, error) {
	q := r.Read(ctx).
		Where("department_id = ? AND channel = ? AND is_active = ?", departmentID, channel, true)
	if experienceID != nil {
		q = q.Where("experience_id IS NULL OR experience_id = ?", *experienceID)
	} else {
		q = q.Where("experience_id IS NULL")
	}

	var routes []*model.NotificationRoute
	if err := q.Order("target ASC, id ASC").Find(&routes).Error; err != nil {
		return nil, err
	}
	return routes, nil
}

// FindForEvent returns active event-scoped routes on one channel.
func (r *RouteRepository) FindForEvent(ctx context.Context, eventID int64, channel model.Channel) ([]*model.NotificationRoute, error) {
	var routes []*model.NotificationRoute
	err := r.Read(ctx).
		Where("event_id = ? AND channel = ? AND is_active = ?", eventID, channel, true).
		Order("target ASC, id ASC").
		Find(&routes).Error
	if err != nil {
		return nil, err
	}
	return routes, nil
}

// FindForOffering returns active offering-scoped routes on one channel.
func (r *RouteRepository) FindForOffering(ctx context.Context, offeringID int64, channel model.Channel) ([]*model.NotificationRoute, error) {
	var routes []*model.NotificationRoute
	err := r.Read(ctx).
		Where("offering_id = ? AND channel = ? AND is_active = ?", offeringID, channel, true).
		Order("target ASC, id ASC").
		Find(&routes).Error
	if err != nil {
		return nil, err
	}
	return routes, nil
}
