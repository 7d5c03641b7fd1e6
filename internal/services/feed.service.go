package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/redis"
)

// FeedService pushes live updates to connected dashboards over Redis
// pub/sub. Publishing is fire-and-forget: a pub/sub outage must never fail
// the write that triggered it.
type FeedService struct {
	cache redis.RedisAdapter
}

func NewFeedService(cache redis.RedisAdapter) *FeedService {
	return &FeedService{cache: cache}
}

func hotelChannel(hotelID int64) string {
	return fmt.Sprintf("hotel:%d:requests", hotelID)
}

func userChannel(userID int64) string {
	return fmt.Sprintf("user:%d:notifications", userID)
}

// RequestEvent is the wire shape of a request update on the hotel channel.
type RequestEvent struct {
	Event        string    `json:"event"`
	RequestID    int64     `json:"request_id"`
	PublicID     string    `json:"public_id"`
	Status       string    `json:"status"`
	DepartmentID int64     `json:"department_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PublishRequestEvent announces a request change on the hotel channel.
func (f *FeedService) PublishRequestEvent(event string, req *model.ServiceRequest) {
	payload, err := json.Marshal(RequestEvent{
		Event:        event,
		RequestID:    req.ID,
		PublicID:     req.PublicID.String(),
		Status:       string(req.Status),
		DepartmentID: req.DepartmentID,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		logger.Error("failed to marshal request event", "request", req.ID, "error", err)
		return
	}
	if err := f.cache.Publish(hotelChannel(req.HotelID), payload); err != nil {
		logger.Warn("failed to publish request event", "request", req.ID, "error", err)
	}
}

// PublishNotification pushes a bell notification to the recipient's channel.
func (f *FeedService) PublishNotification(n *model.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		logger.Error("failed to marshal notification", "notification", n.ID, "error", err)
		return
	}
	if err := f.cache.Publish(userChannel(n.UserID), payload); err != nil {
		logger.Warn("failed to publish notification", "notification", n.ID, "error", err)
	}
}

// SubscribeHotel opens a pub/sub subscription on the hotel's request
// channel. The caller owns the subscription and must close it.
func (f *FeedService) SubscribeHotel(ctx context.Context, hotelID int64) *goredis.PubSub {
	return f.cache.Subscribe(ctx, hotelChannel(hotelID))
}

// SubscribeUser opens a pub/sub subscription on a user's notification
// channel.
func (f *FeedService) SubscribeUser(ctx context.Context, userID int64) *goredis.PubSub {
	return f.cache.Subscribe(ctx, userChannel(userID))
}
