package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/notify"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/prom"
)

// DefaultEscalationTiers applies to hotels without a configured override.
var DefaultEscalationTiers = []int64{15, 30, 60}

// EscalationHotelStore lists the hotels the scan covers.
type EscalationHotelStore interface {
	GetByID(ctx context.Context, id int64) (*model.Hotel, error)
	GetDepartment(ctx context.Context, id int64) (*model.Department, error)
	ListActiveEscalationEnabled(ctx context.Context) ([]*model.Hotel, error)
}

// EscalationRequestStore is the request-side surface for the periodic scans.
type EscalationRequestStore interface {
	ListCreatedByHotel(ctx context.Context, hotelID int64) ([]*model.ServiceRequest, error)
	InsertEscalation(ctx context.Context, requestID int64, tier int, details string) (*model.RequestActivity, error)
	TryClaimEscalation(ctx context.Context, activityID int64, staleness time.Duration, now time.Time) (bool, error)
	MarkEscalationNotified(ctx context.Context, activityID int64, at time.Time) error
	ListOverdue(ctx context.Context, now time.Time) ([]*model.ServiceRequest, error)
	MarkReminderSent(ctx context.Context, id int64, at time.Time) (bool, error)
	ListCreatedOlderThan(ctx context.Context, cutoff time.Time) ([]*model.ServiceRequest, error)
	Expire(ctx context.Context, id int64) (bool, error)
	AddActivity(ctx context.Context, activity *model.RequestActivity) error
}

// Notifier fans an event out to the channel adapters.
type Notifier interface {
	Dispatch(ctx context.Context, e *notify.Event) error
}

// HeartbeatWriter records that a periodic task completed a pass.
type HeartbeatWriter interface {
	Beat(ctx context.Context, taskName, status string, at time.Time) error
}

// EscalationService raises tiered escalations for unacknowledged requests
// and runs the related periodic passes: response-due reminders and stale
// request expiry. Raising a tier is exactly-once per (request, tier): an
// insert-or-ignore activity row followed by a claim that only one runner
// can win.
type EscalationService struct {
	hotels         EscalationHotelStore
	requests       EscalationRequestStore
	notifier       Notifier
	heartbeats     HeartbeatWriter
	claimStaleness time.Duration
	expiryAfter    time.Duration
}

func NewEscalationService(hotels EscalationHotelStore, requests EscalationRequestStore, notifier Notifier, heartbeats HeartbeatWriter, claimStaleness, expiryAfter time.Duration) *EscalationService {
	return &EscalationService{
		hotels:         hotels,
		requests:       requests,
		notifier:       notifier,
		heartbeats:     heartbeats,
		claimStaleness: claimStaleness,
		expiryAfter:    expiryAfter,
	}
}

// TiersFor returns the escalation thresholds, in minutes, for a hotel.
func TiersFor(hotel *model.Hotel) []int64 {
	if len(hotel.EscalationTierMinutes) > 0 {
		return hotel.EscalationTierMinutes
	}
	return DefaultEscalationTiers
}

// ResponseDueAt computes when the first reminder for a new request is due,
// from the hotel's first escalation tier.
func ResponseDueAt(hotel *model.Hotel, now time.Time) *time.Time {
	tiers := TiersFor(hotel)
	if len(tiers) == 0 {
		return nil
	}
	due := now.Add(time.Duration(tiers[0]) * time.Minute)
	return &due
}

// Scan walks every escalation-enabled hotel and raises each tier a CREATED
// request has crossed. Rerunning the scan is safe: already-notified tiers
// are rejected by the claim.
func (s *EscalationService) Scan(ctx context.Context, now time.Time) error {
	hotels, err := s.hotels.ListActiveEscalationEnabled(ctx)
	if err != nil {
		s.beat(ctx, "escalation_scan", "FAILED", now)
		return err
	}

	for _, hotel := range hotels {
		tiers := TiersFor(hotel)

		pending, err := s.requests.ListCreatedByHotel(ctx, hotel.ID)
		if err != nil {
			logger.Error("escalation scan failed for hotel", "hotel", hotel.ID, "error", err)
			continue
		}

		for _, req := range pending {
			elapsed := now.Sub(req.CreatedAt)
			for i, threshold := range tiers {
				if elapsed < time.Duration(threshold)*time.Minute {
					break
				}
				tier := i + 1
				if err := s.fire(ctx, hotel, req, tier, now); err != nil {
					logger.Error("escalation failed",
						"request", req.PublicID, "tier", tier, "error", err)
				}
			}
		}
	}

	s.beat(ctx, "escalation_scan", "OK", now)
	return nil
}

// fire raises one tier for one request: insert-or-ignore the activity row,
// claim it, dispatch, stamp notified_at. A lost claim means another runner
// owns the tier; a dispatch failure leaves the claim to go stale so a later
// scan retries.
func (s *EscalationService) fire(ctx context.Context, hotel *model.Hotel, req *model.ServiceRequest, tier int, now time.Time) error {
	activity, err := s.requests.InsertEscalation(ctx, req.ID, tier,
		fmt.Sprintf(`{"department_id":%d}`, req.DepartmentID))
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}

	claimed, err := s.requests.TryClaimEscalation(ctx, activity.ID, s.claimStaleness, now)
	if err != nil {
		return fmt.Errorf("claim escalation: %w", err)
	}
	if !claimed {
		return nil
	}

	event, err := s.buildEvent(ctx, model.EventEscalation, hotel, req)
	if err != nil {
		return err
	}
	event.EscalationTier = tier

	if err := s.notifier.Dispatch(ctx, event); err != nil {
		return fmt.Errorf("dispatch escalation: %w", err)
	}

	if err := s.requests.MarkEscalationNotified(ctx, activity.ID, time.Now()); err != nil {
		return fmt.Errorf("mark escalation notified: %w", err)
	}

	prom.IncEscalationRaised(strconv.Itoa(tier))
	logger.Info("escalation raised", "request", req.PublicID, "tier", tier)
	return nil
}

func (s *EscalationService) buildEvent(ctx context.Context, eventType model.EventType, hotel *model.Hotel, req *model.ServiceRequest) (*notify.Event, error) {
	department, err := s.hotels.GetDepartment(ctx, req.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("load department %d: %w", req.DepartmentID, err)
	}

	event := &notify.Event{
		Type:       eventType,
		Hotel:      hotel,
		Department: department,
		Request:    req,
	}
	if req.EventID != nil {
		event.CalendarEvent = &notify.CalendarEventRef{ID: *req.EventID, NotifyDepartment: true}
	}
	if req.OfferingID != nil {
		event.Offering = &notify.OfferingRef{ID: *req.OfferingID}
	}
	return event, nil
}

// Remind dispatches one response-due reminder per overdue request. The
// reminder stamp is conditional, so two concurrent passes cannot both send.
func (s *EscalationService) Remind(ctx context.Context, now time.Time) error {
	overdue, err := s.requests.ListOverdue(ctx, now)
	if err != nil {
		s.beat(ctx, "response_due_reminders", "FAILED", now)
		return err
	}

	for _, req := range overdue {
		stamped, err := s.requests.MarkReminderSent(ctx, req.ID, now)
		if err != nil {
			logger.Error("failed to stamp reminder", "request", req.PublicID, "error", err)
			continue
		}
		if !stamped {
			continue
		}

		hotel, err := s.hotels.GetByID(ctx, req.HotelID)
		if err != nil {
			logger.Error("reminder hotel lookup failed", "request", req.PublicID, "error", err)
			continue
		}

		event, err := s.buildEvent(ctx, model.EventResponseDue, hotel, req)
		if err != nil {
			logger.Error("reminder event build failed", "request", req.PublicID, "error", err)
			continue
		}
		if err := s.notifier.Dispatch(ctx, event); err != nil {
			logger.Error("reminder dispatch failed", "request", req.PublicID, "error", err)
		}
	}

	s.beat(ctx, "response_due_reminders", "OK", now)
	return nil
}

// ExpireStale flips CREATED requests older than the expiry window to
// EXPIRED and records the transition.
func (s *EscalationService) ExpireStale(ctx context.Context, now time.Time) error {
	stale, err := s.requests.ListCreatedOlderThan(ctx, now.Add(-s.expiryAfter))
	if err != nil {
		s.beat(ctx, "request_expiry", "FAILED", now)
		return err
	}

	expired := 0
	for _, req := range stale {
		flipped, err := s.requests.Expire(ctx, req.ID)
		if err != nil {
			logger.Error("failed to expire request", "request", req.PublicID, "error", err)
			continue
		}
		if !flipped {
			continue
		}
		expired++
		if err := s.requests.AddActivity(ctx, &model.RequestActivity{
			RequestID: req.ID,
			Action:    model.ActivityExpired,
		}); err != nil {
			logger.Error("failed to record expiry", "request", req.PublicID, "error", err)
		}
	}

	if expired > 0 {
		logger.Info("expired stale requests", "count", expired)
	}
	s.beat(ctx, "request_expiry", "OK", now)
	return nil
}

func (s *EscalationService) beat(ctx context.Context, task, status string, at time.Time) {
	if s.heartbeats == nil {
		return
	}
	if err := s.heartbeats.Beat(ctx, task, status, at); err != nil {
		logger.Error("failed to write heartbeat", "task", task, "error", err)
	}
}
