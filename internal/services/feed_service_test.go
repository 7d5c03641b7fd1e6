package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/test/helpers"
)

func TestFeedService_RequestEvents(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	feed := NewFeedService(adapter)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := feed.SubscribeHotel(ctx, 42)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	req := &model.ServiceRequest{
		ID:           7,
		PublicID:     uuid.New(),
		HotelID:      42,
		DepartmentID: 3,
		Status:       model.RequestStatusCreated,
	}
	feed.PublishRequestEvent("request.created", req)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var event RequestEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "request.created", event.Event)
	assert.EqualValues(t, 7, event.RequestID)
	assert.Equal(t, req.PublicID.String(), event.PublicID)
	assert.Equal(t, "CREATED", event.Status)
}

func TestFeedService_Notifications(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	feed := NewFeedService(adapter)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := feed.SubscribeUser(ctx, 99)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	feed.PublishNotification(&model.Notification{ID: 1, UserID: 99, Title: "New request"})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var n model.Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.EqualValues(t, 99, n.UserID)
	assert.Equal(t, "New request", n.Title)
}

func TestFeedService_PublishSurvivesOutage(t *testing.T) {
	mr, adapter := helpers.SetupTestRedis(t)
	feed := NewFeedService(adapter)
	mr.Close()

	feed.PublishRequestEvent("request.created", &model.ServiceRequest{
		ID:       1,
		PublicID: uuid.New(),
		HotelID:  1,
	})
}
