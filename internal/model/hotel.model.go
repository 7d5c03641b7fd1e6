package model

import (
	"time"

	"github.com/lib/pq"
)

// FallbackChannel selects which on-call contacts are notified on escalation.
type FallbackChannel string

const (
	FallbackNone          FallbackChannel = "NONE"
	FallbackEmail         FallbackChannel = "EMAIL"
	FallbackWhatsApp      FallbackChannel = "WHATSAPP"
	FallbackEmailWhatsApp FallbackChannel = "EMAIL_WHATSAPP"
)

type Hotel struct {
	ID                           int64           `json:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	Slug                         string          `json:"slug"           gorm:"column:slug;not null;uniqueIndex"`
	Name                         string          `json:"name"           gorm:"column:name;not null"`
	IsActive                     bool            `json:"is_active"      gorm:"column:is_active;not null;default:true"`
	WhatsAppNotificationsEnabled bool            `json:"whatsapp_notifications_enabled" gorm:"column:whatsapp_notifications_enabled;not null;default:false"`
	EmailNotificationsEnabled    bool            `json:"email_notifications_enabled"    gorm:"column:email_notifications_enabled;not null;default:false"`
	EscalationEnabled            bool            `json:"escalation_enabled"             gorm:"column:escalation_enabled;not null;default:false"`
	EscalationFallbackChannel    FallbackChannel `json:"escalation_fallback_channel"    gorm:"column:escalation_fallback_channel;not null;default:NONE"`
	EscalationTierMinutes        pq.Int64Array   `json:"escalation_tier_minutes"        gorm:"column:escalation_tier_minutes;type:bigint[]"`
	OncallEmail                  string          `json:"oncall_email"   gorm:"column:oncall_email"`
	OncallPhone                  string          `json:"oncall_phone"   gorm:"column:oncall_phone"`
	FallbackDepartmentID         *int64          `json:"fallback_department_id" gorm:"column:fallback_department_id"`
}

func (Hotel) TableName() string { return "hotels" }

// OncallWhatsAppEnabled reports whether escalations should reach the
// on-call phone.
func (h *Hotel) OncallWhatsAppEnabled() bool {
	return (h.EscalationFallbackChannel == FallbackWhatsApp || h.EscalationFallbackChannel == FallbackEmailWhatsApp) && h.OncallPhone != ""
}

// OncallEmailEnabled reports whether escalations should reach the
// on-call email address.
func (h *Hotel) OncallEmailEnabled() bool {
	return (h.EscalationFallbackChannel == FallbackEmail || h.EscalationFallbackChannel == FallbackEmailWhatsApp) && h.OncallEmail != ""
}

type Department struct {
	ID       int64               `json:"id"       gorm:"primaryKey;autoIncrement;column:id"`
	HotelID  int64               `json:"hotel_id" gorm:"column:hotel_id;not null;index"`
	Slug     string              `json:"slug"     gorm:"column:slug;not null"`
	Name     string              `json:"name"     gorm:"column:name;not null"`
	Schedule *DepartmentSchedule `json:"schedule" gorm:"column:schedule;type:jsonb"`
}

func (Department) TableName() string { return "departments" }

// AfterHours reports whether the department is outside its staffed hours.
// Departments without a schedule are treated as always staffed.
func (d *Department) AfterHours(now time.Time) bool {
	if d.Schedule == nil {
		return false
	}
	return d.Schedule.Closed(now)
}
