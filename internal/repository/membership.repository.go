package repository

import (
	"context"
	"errors"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"gorm.io/gorm"
)

type MembershipRepository struct {
	*pg.DB
}

func NewMembershipRepository(db *pg.DB) *MembershipRepository {
	return &MembershipRepository{db}
}

// ListDepartmentRecipients returns active staff of the department plus the
// hotel's admins. Admins always see department requests.
func (r *MembershipRepository) ListDepartmentRecipients(ctx context.Context, hotelID, departmentID int64) ([]*model.HotelMembership, error) {
	var members []*model.HotelMembership
	err := r.Read(ctx).
		Where("hotel_id = ? AND is_active = ?", hotelID, true).
		Where("department_id = ? OR role IN ?", departmentID,
			[]model.MembershipRole{model.RoleAdmin, model.RoleSuperAdmin}).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *MembershipRepository) ListAdmins(ctx context.Context, hotelID int64) ([]*model.HotelMembership, error) {
	var members []*model.HotelMembership
	err := r.Read(ctx).
		Where("hotel_id = ? AND is_active = ? AND role IN ?", hotelID, true,
			[]model.MembershipRole{model.RoleAdmin, model.RoleSuperAdmin}).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *MembershipRepository) GetByID(ctx context.Context, id int64) (*model.HotelMembership, error) {
	var m model.HotelMembership
	if err := r.Read(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetActiveByEmail looks up a membership by contact email. Used by the
// email OTP flow; callers must not reveal whether a row exists.
func (r *MembershipRepository) GetActiveByEmail(ctx context.Context, email string) (*model.HotelMembership, error) {
	var m model.HotelMembership
	err := r.Read(ctx).
		Where("email = ? AND is_active = ?", email, true).
		Order("id ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetActiveByPhone looks up a membership by contact phone for OTP scoping.
func (r *MembershipRepository) GetActiveByPhone(ctx context.Context, phone string) (*model.HotelMembership, error) {
	var m model.HotelMembership
	err := r.Read(ctx).
		Where("phone = ? AND is_active = ?", phone, true).
		Order("id ASC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListPushSubscriptions returns the active endpoints for a set of users.
func (r *MembershipRepository) ListPushSubscriptions(ctx context.Context, userIDs []int64) ([]*model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var subs []*model.PushSubscription
	err := r.Read(ctx).
		Where("user_id IN ? AND is_active = ?", userIDs, true).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// GetPushSubscription loads one endpoint row by id.
func (r *MembershipRepository) GetPushSubscription(ctx context.Context, id int64) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := r.Read(ctx).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// SavePushSubscription upserts on the endpoint, reactivating and refreshing
// keys when the browser re-registers.
func (r *MembershipRepository) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	var existing model.PushSubscription
	err := r.Write(ctx).Where("endpoint = ?", sub.Endpoint).First(&existing).Error
	if err == nil {
		return r.Write(ctx).Model(&model.PushSubscription{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"user_id":   sub.UserID,
				"p256dh":    sub.P256dh,
				"auth":      sub.Auth,
				"is_active": true,
			}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return r.Write(ctx).Create(sub).Error
}

// DeactivatePushSubscription disables an endpoint the provider reported gone.
func (r *MembershipRepository) DeactivatePushSubscription(ctx context.Context, endpoint string) error {
	return r.Write(ctx).Model(&model.PushSubscription{}).
		Where("endpoint = ?", endpoint).
		Update("is_active", false).Error
}
