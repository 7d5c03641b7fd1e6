package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
)

var (
	TestHotel = model.Hotel{
		ID:                           1,
		Slug:                         "grand-plaza",
		Name:                         "Grand Plaza",
		IsActive:                     true,
		WhatsAppNotificationsEnabled: true,
		EmailNotificationsEnabled:    true,
		EscalationEnabled:            true,
		EscalationFallbackChannel:    model.FallbackEmailWhatsApp,
		EscalationTierMinutes:        pq.Int64Array{15, 30, 60},
		OncallEmail:                  "manager@grand-plaza.example.com",
		OncallPhone:                  "15550009999",
	}

	TestHotelInactive = model.Hotel{
		ID:       2,
		Slug:     "closed-inn",
		Name:     "Closed Inn",
		IsActive: false,
	}

	TestHotelNoEscalation = model.Hotel{
		ID:                           3,
		Slug:                         "quiet-lodge",
		Name:                         "Quiet Lodge",
		IsActive:                     true,
		WhatsAppNotificationsEnabled: true,
		EscalationEnabled:            false,
	}
)

func NewTestRequest(hotelID, departmentID int64, room string) *model.ServiceRequest {
	return &model.ServiceRequest{
		PublicID:     uuid.New(),
		HotelID:      hotelID,
		DepartmentID: departmentID,
		RoomNumber:   room,
		RequestType:  "Housekeeping",
		Status:       model.RequestStatusCreated,
		CreatedAt:    time.Now(),
	}
}

func NewTestRequestCreateParams(hotelID, departmentID int64, room string) model.RequestCreateParams {
	return model.RequestCreateParams{
		HotelID:      hotelID,
		DepartmentID: departmentID,
		RoomNumber:   room,
		RequestType:  "Housekeeping",
	}
}

func NewTestRoute(hotelID, departmentID int64, channel model.Channel, target string) *model.NotificationRoute {
	return &model.NotificationRoute{
		HotelID:      hotelID,
		DepartmentID: &departmentID,
		Channel:      channel,
		Target:       target,
		IsActive:     true,
	}
}

func NewTestDelivery(hotelID int64, requestID int64, target string) *model.DeliveryRecord {
	return &model.DeliveryRecord{
		IdempotencyKey: "fixture:" + uuid.New().String(),
		HotelID:        hotelID,
		RequestID:      &requestID,
		Channel:        model.ChannelWhatsApp,
		Target:         target,
		EventType:      model.EventRequestCreated,
		Status:         model.DeliveryStatusQueued,
		MessageType:    model.MessageTypeTemplate,
	}
}

var (
	ValidPhoneNumbers = []string{
		"15550001111",
		"15550002222",
		"447712345678",
		"4915712345678",
	}

	InvalidPhoneNumbers = []string{
		"",
		"123",
		"not-a-phone",
	}

	ValidRoomNumbers = []string{
		"101",
		"204",
		"PH-1",
		"Cabana 3",
	}
)
