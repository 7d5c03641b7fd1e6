package model

// Channel is an outbound delivery channel.
type Channel string

const (
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
)

// NotificationRoute maps a department or calendar event (exactly one of the
// two) to a channel target. Experience narrows department-scoped routes;
// offering routes are unioned in when the event carries an offering.
type NotificationRoute struct {
	ID           int64   `json:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	HotelID      int64   `json:"hotel_id"      gorm:"column:hotel_id;not null;index"`
	DepartmentID *int64  `json:"department_id" gorm:"column:department_id;index"`
	EventID      *int64  `json:"event_id"      gorm:"column:event_id;index"`
	ExperienceID *int64  `json:"experience_id" gorm:"column:experience_id"`
	OfferingID   *int64  `json:"offering_id"   gorm:"column:offering_id;index"`
	Channel      Channel `json:"channel"       gorm:"column:channel;not null"`
	Target       string  `json:"target"        gorm:"column:target;not null"`
	IsActive     bool    `json:"is_active"     gorm:"column:is_active;not null;default:true"`
}

func (NotificationRoute) TableName() string { return "notification_routes" }
