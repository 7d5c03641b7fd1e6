package services

import (
	"context"
	"fmt"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/notify"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
)

// DigestHotelStore lists the hotels the digest covers.
type DigestHotelStore interface {
	ListActive(ctx context.Context) ([]*model.Hotel, error)
}

// DigestRequestStore tallies the day's requests per hotel.
type DigestRequestStore interface {
	StatusCountsSince(ctx context.Context, hotelID int64, since time.Time) (map[model.RequestStatus]int64, error)
}

// DigestService sends each hotel's admins a daily summary of request
// volume. Hotels with no requests in the window are skipped.
type DigestService struct {
	hotels     DigestHotelStore
	requests   DigestRequestStore
	notifier   Notifier
	heartbeats HeartbeatWriter
}

func NewDigestService(hotels DigestHotelStore, requests DigestRequestStore, notifier Notifier, heartbeats HeartbeatWriter) *DigestService {
	return &DigestService{hotels: hotels, requests: requests, notifier: notifier, heartbeats: heartbeats}
}

// Run produces one digest per active hotel covering the past 24 hours.
func (s *DigestService) Run(ctx context.Context, now time.Time) error {
	hotels, err := s.hotels.ListActive(ctx)
	if err != nil {
		s.beat(ctx, "daily_digest", "FAILED", now)
		return err
	}

	since := now.Add(-24 * time.Hour)
	for _, hotel := range hotels {
		counts, err := s.requests.StatusCountsSince(ctx, hotel.ID, since)
		if err != nil {
			logger.Error("digest counts failed", "hotel", hotel.ID, "error", err)
			continue
		}

		var total int64
		for _, c := range counts {
			total += c
		}
		if total == 0 {
			continue
		}

		handled := counts[model.RequestStatusAcknowledged] + counts[model.RequestStatusCompleted]
		pending := counts[model.RequestStatusCreated]
		body := fmt.Sprintf("%d requests today, %d handled, %d pending", total, handled, pending)

		event := &notify.Event{
			Type:  model.EventDailyDigest,
			Hotel: hotel,
			Extra: map[string]string{"body": body},
		}
		if err := s.notifier.Dispatch(ctx, event); err != nil {
			logger.Error("digest dispatch failed", "hotel", hotel.ID, "error", err)
		}
	}

	s.beat(ctx, "daily_digest", "OK", now)
	return nil
}

func (s *DigestService) beat(ctx context.Context, task, status string, at time.Time) {
	if s.heartbeats == nil {
		return
	}
	if err := s.heartbeats.Beat(ctx, task, status, at); err != nil {
		logger.Error("failed to write heartbeat", "task", task, "error", err)
	}
}
