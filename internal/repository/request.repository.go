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

type RequestRepository struct {
	*pg.DB
}

func NewRequestRepository(db *pg.DB) *RequestRepository {
	return &RequestRepository{db}
}

func (r *RequestRepository) Create(ctx context.Context, req *model.ServiceRequest) (*model.ServiceRequest, error) {
	if err := r.Write(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*model.ServiceRequest, error) {
	var req model.ServiceRequest
	if err := r.Read(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepository) GetByPublicID(ctx context.Context, publicID string) (*model.ServiceRequest, error) {
	var req model.ServiceRequest
	if err := r.Read(ctx).Where("public_id = ?", publicID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Acknowledge transitions CREATED to ACKNOWLEDGED. The conditional update
// is the lock: a request acknowledged by a concurrent caller reports false.
func (r *RequestRepository) Acknowledge(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.Write(ctx).Model(&model.ServiceRequest{}).
		Where("id = ? AND status = ?", id, model.RequestStatusCreated).
		Updates(map[string]interface{}{
			"status":          model.RequestStatusAcknowledged,
			"acknowledged_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListCreatedByHotel returns the unacknowledged requests the escalation
// scan inspects.
func (r *RequestRepository) ListCreatedByHotel(ctx context.Context, hotelID int64) ([]*model.ServiceRequest, error) {
	var reqs []*model.ServiceRequest
	err := r.Read(ctx).
		Where("hotel_id = ? AND status = ?", hotelID, model.RequestStatusCreated).
		Order("created_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// ListOverdue returns CREATED requests past response_due_at with no
// reminder sent yet.
func (r *RequestRepository) ListOverdue(ctx context.Context, now time.Time) ([]*model.ServiceRequest, error) {
	var reqs []*model.ServiceRequest
	err := r.Read(ctx).
		Where("status = ? AND response_due_at < ? AND reminder_sent_at IS NULL",
			model.RequestStatusCreated, now).
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// MarkReminderSent stamps reminder_sent_at once.
func (r *RequestRepository) MarkReminderSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.Write(ctx).Model(&model.ServiceRequest{}).
		Where("id = ? AND reminder_sent_at IS NULL", id).
		Update("reminder_sent_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListCreatedOlderThan returns CREATED requests created before the cutoff,
// used by the expiry task.
func (r *RequestRepository) ListCreatedOlderThan(ctx context.Context, cutoff time.Time) ([]*model.ServiceRequest, error) {
	var reqs []*model.ServiceRequest
	err := r.Read(ctx).
		Where("status = ? AND created_at < ?", model.RequestStatusCreated, cutoff).
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// Expire transitions CREATED to EXPIRED.
func (r *RequestRepository) Expire(ctx context.Context, id int64) (bool, error) {
	res := r.Write(ctx).Model(&model.ServiceRequest{}).
		Where("id = ? AND status = ?", id, model.RequestStatusCreated).
		Update("status", model.RequestStatusExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AddActivity appends an audit row.
func (r *RequestRepository) AddActivity(ctx context.Context, activity *model.RequestActivity) error {
	return r.Write(ctx).Create(activity).Error
}

// InsertEscalation creates the (request, tier) escalation row, or returns
// the existing one. The partial unique index rejects concurrent duplicates;
// a rejected insert falls through to a fetch so the caller can still try to
// claim a row another runner abandoned.
func (r *RequestRepository) InsertEscalation(ctx context.Context, requestID int64, tier int, details string) (*model.RequestActivity, error) {
	activity := &model.RequestActivity{
		RequestID:      requestID,
		Action:         model.ActivityEscalated,
		EscalationTier: &tier,
		Details:        details,
	}
	res := r.Write(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(activity)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return activity, nil
	}

	var existing model.RequestActivity
	err := r.Write(ctx).
		Where("request_id = ? AND action = ? AND escalation_tier = ?",
			requestID, model.ActivityEscalated, tier).
		First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &existing, nil
}

// TryClaimEscalation acquires the escalation row for notification. It
// claims only when notified_at is unset, any previous claim is older than
// staleness, and the request is still CREATED. Lost races report false,
// never an error.
func (r *RequestRepository) TryClaimEscalation(ctx context.Context, activityID int64, staleness time.Duration, now time.Time) (bool, error) {
	claimed := false
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		tx := r.Write(ctx)
		if tx.Dialector.Name() == "postgres" {
			tx = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var activity model.RequestActivity
		err := tx.
			Where("id = ? AND notified_at IS NULL", activityID).
			Where("claimed_at IS NULL OR claimed_at < ?", now.Add(-staleness)).
			First(&activity).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		var status model.RequestStatus
		err = r.Write(ctx).Model(&model.ServiceRequest{}).
			Where("id = ?", activity.RequestID).
			Pluck("status", &status).Error
		if err != nil {
			return err
		}
		if status != model.RequestStatusCreated {
			return nil
		}

		res := r.Write(ctx).Model(&model.RequestActivity{}).
			Where("id = ? AND notified_at IS NULL", activityID).
			Where("claimed_at IS NULL OR claimed_at < ?", now.Add(-staleness)).
			Update("claimed_at", now)
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected > 0
		return nil
	})
	return claimed, err
}

// MarkEscalationNotified stamps completion after a successful dispatch.
func (r *RequestRepository) MarkEscalationNotified(ctx context.Context, activityID int64, at time.Time) error {
	return r.Write(ctx).Model(&model.RequestActivity{}).
		Where("id = ?", activityID).
		Update("notified_at", at).Error
}

// CountByRoomSince supports the DB fallback of the room rate limit.
func (r *RequestRepository) CountByRoomSince(ctx context.Context, hotelID int64, roomNumber string, since time.Time) (int64, error) {
	var count int64
	err := r.Read(ctx).Model(&model.ServiceRequest{}).
		Where("hotel_id = ? AND room_number = ? AND created_at >= ?", hotelID, roomNumber, since).
		Count(&count).Error
	return count, err
}

// StatusCountsSince tallies a hotel's requests created since the cutoff,
// grouped by status. Feeds the daily digest.
func (r *RequestRepository) StatusCountsSince(ctx context.Context, hotelID int64, since time.Time) (map[model.RequestStatus]int64, error) {
	type row struct {
		Status model.RequestStatus
		Count  int64
	}
	var rows []row
	err := r.Read(ctx).Model(&model.ServiceRequest{}).
		Select("status, count(*) as count").
		Where("hotel_id = ? AND created_at >= ?", hotelID, since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.RequestStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
