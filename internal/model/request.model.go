package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a guest request.
type RequestStatus string

const (
	RequestStatusCreated      RequestStatus = "CREATED"
	RequestStatusAcknowledged RequestStatus = "ACKNOWLEDGED"
	RequestStatusCompleted    RequestStatus = "COMPLETED"
	RequestStatusExpired      RequestStatus = "EXPIRED"
)

type ServiceRequest struct {
	ID             int64         `json:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	PublicID       uuid.UUID     `json:"public_id"       gorm:"column:public_id;type:uuid;not null;uniqueIndex"`
	HotelID        int64         `json:"hotel_id"        gorm:"column:hotel_id;not null;index"`
	DepartmentID   int64         `json:"department_id"   gorm:"column:department_id;not null;index"`
	ExperienceID   *int64        `json:"experience_id"   gorm:"column:experience_id"`
	EventID        *int64        `json:"event_id"        gorm:"column:event_id"`
	OfferingID     *int64        `json:"offering_id"     gorm:"column:offering_id"`
	RoomNumber     string        `json:"room_number"     gorm:"column:room_number"`
	GuestName      string        `json:"guest_name"      gorm:"column:guest_name"`
	RequestType    string        `json:"request_type"    gorm:"column:request_type"`
	Status         RequestStatus `json:"status"          gorm:"column:status;not null;default:CREATED;index"`
	AfterHours     bool          `json:"after_hours"     gorm:"column:after_hours;not null;default:false"`
	ResponseDueAt  *time.Time    `json:"response_due_at" gorm:"column:response_due_at"`
	ReminderSentAt *time.Time    `json:"reminder_sent_at" gorm:"column:reminder_sent_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at" gorm:"column:acknowledged_at"`
	CreatedAt      time.Time     `json:"created_at"      gorm:"column:created_at;autoCreateTime;index"`
}

func (ServiceRequest) TableName() string { return "service_requests" }

// ActivityAction is the kind of event recorded against a request.
type ActivityAction string

const (
	ActivityCreated      ActivityAction = "CREATED"
	ActivityAcknowledged ActivityAction = "ACKNOWLEDGED"
	ActivityEscalated    ActivityAction = "ESCALATED"
	ActivityReminded     ActivityAction = "REMINDED"
	ActivityExpired      ActivityAction = "EXPIRED"
)

// RequestActivity is the request audit trail. ESCALATED rows double as the
// escalation idempotency guard: at most one row per (request, tier).
type RequestActivity struct {
	ID             int64          `json:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	RequestID      int64          `json:"request_id"      gorm:"column:request_id;not null;index;uniqueIndex:idx_activity_request_tier,where:action = 'ESCALATED'"`
	Action         ActivityAction `json:"action"          gorm:"column:action;not null"`
	EscalationTier *int           `json:"escalation_tier" gorm:"column:escalation_tier;uniqueIndex:idx_activity_request_tier,where:action = 'ESCALATED'"`
	ClaimedAt      *time.Time     `json:"claimed_at"      gorm:"column:claimed_at"`
	NotifiedAt     *time.Time     `json:"notified_at"     gorm:"column:notified_at"`
	Details        string         `json:"details"         gorm:"column:details"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (RequestActivity) TableName() string { return "request_activities" }

// RequestCreateParams is the input for creating a request.
type RequestCreateParams struct {
	HotelID      int64
	DepartmentID int64
	ExperienceID *int64
	EventID      *int64
	OfferingID   *int64
	RoomNumber   string
	GuestName    string
	RequestType  string
}

func (p RequestCreateParams) Validate() error {
	if p.HotelID == 0 {
		return errors.New("hotel_id is required")
	}
	if p.DepartmentID == 0 {
		return errors.New("department_id is required")
	}
	if p.RoomNumber == "" {
		return errors.New("room_number is required")
	}
	return nil
}
