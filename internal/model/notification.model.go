package model

import "time"

// Notification is one in-app bell entry for a user.
type Notification struct {
	ID               int64     `json:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	UserID           int64     `json:"user_id"           gorm:"column:user_id;not null;index"`
	HotelID          int64     `json:"hotel_id"          gorm:"column:hotel_id;not null;index"`
	RequestID        *int64    `json:"request_id"        gorm:"column:request_id;index"`
	Title            string    `json:"title"             gorm:"column:title;not null"`
	Body             string    `json:"body"              gorm:"column:body"`
	NotificationType string    `json:"notification_type" gorm:"column:notification_type;not null"`
	IsRead           bool      `json:"is_read"           gorm:"column:is_read;not null;default:false"`
	CreatedAt        time.Time `json:"created_at"        gorm:"column:created_at;autoCreateTime;index"`
}

func (Notification) TableName() string { return "notifications" }

// NotificationFilter controls feed queries.
type NotificationFilter struct {
	UserID     int64
	HotelID    int64
	UnreadOnly bool
	Limit      int
	Offset     int
}
