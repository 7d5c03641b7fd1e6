package model

import "time"

// WhatsAppServiceWindow tracks the last inbound message per (hotel, phone).
// Any inbound message opens a 24-hour window during which free-form session
// messages may be sent instead of paid templates.
type WhatsAppServiceWindow struct {
	ID            int64     `json:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	HotelID       int64     `json:"hotel_id"        gorm:"column:hotel_id;not null;uniqueIndex:idx_window_hotel_phone"`
	Phone         string    `json:"phone"           gorm:"column:phone;not null;uniqueIndex:idx_window_hotel_phone"`
	LastInboundAt time.Time `json:"last_inbound_at" gorm:"column:last_inbound_at;not null"`
}

func (WhatsAppServiceWindow) TableName() string { return "whatsapp_service_windows" }

// Active reports whether the window is still open at now.
func (w *WhatsAppServiceWindow) Active(now time.Time, duration time.Duration) bool {
	return now.Sub(w.LastInboundAt) < duration
}

// TaskHeartbeat records the last completed run of a periodic task.
type TaskHeartbeat struct {
	ID       int64     `json:"id"        gorm:"primaryKey;autoIncrement;column:id"`
	TaskName string    `json:"task_name" gorm:"column:task_name;not null;uniqueIndex"`
	LastRun  time.Time `json:"last_run"  gorm:"column:last_run;not null"`
	Status   string    `json:"status"    gorm:"column:status;not null;default:ok"`
}

func (TaskHeartbeat) TableName() string { return "task_heartbeats" }
