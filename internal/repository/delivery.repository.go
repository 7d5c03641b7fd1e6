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

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
)

type DeliveryRepository struct {
	*pg.DB
}

func NewDeliveryRepository(db *pg.DB) *DeliveryRepository {
	return &DeliveryRepository{db}
}

// GetOrCreate inserts the record unless a row with the same idempotency key
// already exists. The second return value reports whether a new row was
// created; a false means the delivery was already queued and the caller
// must not enqueue work again.
func (r *DeliveryRepository) GetOrCreate(ctx context.Context, rec *model.DeliveryRecord) (*model.DeliveryRecord, bool, error) {
	res := r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return rec, true, nil
	}

	var existing model.DeliveryRecord
	if err := r.Write(ctx).Where("idempotency_key = ?", rec.IdempotencyKey).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id int64) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	if err := r.Read(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *DeliveryRepository) GetByProviderMessageID(ctx context.Context, messageID string) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	if err := r.Read(ctx).Where("provider_message_id = ?", messageID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// MarkSent records a successful provider call.
func (r *DeliveryRepository) MarkSent(ctx context.Context, id int64, providerMessageID string) error {
	return r.Write(ctx).Model(&model.DeliveryRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"provider_message_id": providerMessageID,
			"status":              model.DeliveryStatusSent,
		}).Error
}

// MarkFailed records a terminal or intermediate failure with the provider
// error text.
func (r *DeliveryRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	return r.Write(ctx).Model(&model.DeliveryRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.DeliveryStatusFailed,
			"error_message": errMsg,
		}).Error
}

// MarkDelivered is idempotent: a duplicate webhook leaves delivered_at at
// its first value.
func (r *DeliveryRepository) MarkDelivered(ctx context.Context, providerMessageID string, at time.Time) error {
	return r.Write(ctx).Model(&model.DeliveryRecord{}).
		Where("provider_message_id = ? AND delivered_at IS NULL", providerMessageID).
		Updates(map[string]interface{}{
			"status":       model.DeliveryStatusDelivered,
			"delivered_at": at,
		}).Error
}

// MarkFailedByProviderMessageID records a provider delivery-failure webhook.
func (r *DeliveryRepository) MarkFailedByProviderMessageID(ctx context.Context, providerMessageID, reason string) error {
	if len(reason) > 500 {
		reason = reason[:500]
	}
	return r.Write(ctx).Model(&model.DeliveryRecord{}).
		Where("provider_message_id = ?", providerMessageID).
		Updates(map[string]interface{}{
			"status":        model.DeliveryStatusFailed,
			"error_message": reason,
		}).Error
}

// Acknowledge stamps acknowledged_at once.
func (r *DeliveryRepository) Acknowledge(ctx context.Context, id int64, at time.Time) error {
	return r.Write(ctx).Model(&model.DeliveryRecord{}).
		Where("id = ? AND acknowledged_at IS NULL", id).
		Update("acknowledged_at", at).Error
}

// DemoteToTemplate flips a session record to template before the substitute
// send is queued.
func (r *DeliveryRepository) DemoteToTemplate(ctx context.Context, id int64) error {
	return r.Write(ctx).Model(&model.DeliveryRecord{}).Where("id = ?", id).
		Update("message_type", model.MessageTypeTemplate).Error
}

// ExistsForRequestTier reports whether any delivery is already queued for
// the same request, tier, channel and target. The on-call adapter uses this
// composite lookup to avoid duplicating a route-based delivery.
func (r *DeliveryRepository) ExistsForRequestTier(ctx context.Context, requestID int64, tier int, channel model.Channel, target string) (bool, error) {
	var count int64
	err := r.Read(ctx).Model(&model.DeliveryRecord{}).
		Where("request_id = ? AND escalation_tier = ? AND channel = ? AND target = ?",
			requestID, tier, channel, target).
		Count(&count).Error
	return count > 0, err
}

// LatestForTarget resolves the most recent record sent to a phone, used as
// a fallback when an inbound webhook carries no parseable postback.
func (r *DeliveryRepository) LatestForTarget(ctx context.Context, hotelID int64, target string, since time.Time) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := r.Read(ctx).
		Where("hotel_id = ? AND target = ? AND created_at >= ? AND request_id IS NOT NULL", hotelID, target, since).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// LatestForTargetAnyHotel is the variant used when the webhook has no hotel
// context at all. Only unacknowledged WhatsApp sends count, so a typed reply
// attaches to the newest notification still waiting on the recipient.
func (r *DeliveryRepository) LatestForTargetAnyHotel(ctx context.Context, target string, since time.Time) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	err := r.Read(ctx).
		Where("channel = ? AND target = ? AND created_at >= ? AND request_id IS NOT NULL AND acknowledged_at IS NULL AND status IN ?",
			model.ChannelWhatsApp, target, since,
			[]model.DeliveryStatus{model.DeliveryStatusSent, model.DeliveryStatusDelivered}).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// AcknowledgeForRequest stamps every unacknowledged WhatsApp record sent to
// a phone for one request. An inbound ack covers resends too.
func (r *DeliveryRepository) AcknowledgeForRequest(ctx context.Context, requestID int64, target string, at time.Time) error {
	return r.Write(ctx).Model(&model.DeliveryRecord{}).
		Where("channel = ? AND request_id = ? AND target = ? AND acknowledged_at IS NULL",
			model.ChannelWhatsApp, requestID, target).
		Update("acknowledged_at", at).Error
}
