package model

import "time"

type MembershipRole string

const (
	RoleStaff      MembershipRole = "STAFF"
	RoleAdmin      MembershipRole = "ADMIN"
	RoleSuperAdmin MembershipRole = "SUPERADMIN"
)

// HotelMembership ties a user to a hotel and optionally a department.
// Contact fields live here since auth/user management is an external
// collaborator.
type HotelMembership struct {
	ID           int64          `json:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	UserID       int64          `json:"user_id"       gorm:"column:user_id;not null;index"`
	HotelID      int64          `json:"hotel_id"      gorm:"column:hotel_id;not null;index"`
	DepartmentID *int64         `json:"department_id" gorm:"column:department_id;index"`
	Role         MembershipRole `json:"role"          gorm:"column:role;not null;default:STAFF"`
	IsActive     bool           `json:"is_active"     gorm:"column:is_active;not null;default:true"`
	Phone        string         `json:"phone"         gorm:"column:phone"`
	Email        string         `json:"email"         gorm:"column:email"`
}

func (HotelMembership) TableName() string { return "hotel_memberships" }

func (m *HotelMembership) IsAdmin() bool {
	return m.Role == RoleAdmin || m.Role == RoleSuperAdmin
}

// PushSubscription is one browser push endpoint for a user.
type PushSubscription struct {
	ID        int64     `json:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	UserID    int64     `json:"user_id"    gorm:"column:user_id;not null;index"`
	Endpoint  string    `json:"endpoint"   gorm:"column:endpoint;not null;uniqueIndex"`
	P256dh    string    `json:"p256dh"     gorm:"column:p256dh;not null"`
	Auth      string    `json:"auth"       gorm:"column:auth;not null"`
	IsActive  bool      `json:"is_active"  gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (PushSubscription) TableName() string { return "push_subscriptions" }
