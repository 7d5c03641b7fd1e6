package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/notify"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"github.com/adisharma29/tripcompass-sub000/pkg/prom"
)

var (
	ErrRequestRateLimited = errors.New("too many requests from this room")
	ErrHotelInactive      = errors.New("hotel is not active")
)

// RequestStore is the persistence surface for guest requests.
type RequestStore interface {
	Create(ctx context.Context, req *model.ServiceRequest) (*model.ServiceRequest, error)
	GetByPublicID(ctx context.Context, publicID string) (*model.ServiceRequest, error)
	Acknowledge(ctx context.Context, id int64, at time.Time) (bool, error)
	AddActivity(ctx context.Context, activity *model.RequestActivity) error
	CountByRoomSince(ctx context.Context, hotelID int64, roomNumber string, since time.Time) (int64, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RequestHotelStore resolves the hotel and department for a new request.
type RequestHotelStore interface {
	GetByID(ctx context.Context, id int64) (*model.Hotel, error)
	GetDepartment(ctx context.Context, id int64) (*model.Department, error)
}

// RequestFeed announces request lifecycle changes to connected dashboards.
type RequestFeed interface {
	PublishRequestEvent(event string, req *model.ServiceRequest)
}

// RequestService creates and acknowledges guest requests. Creation runs in
// one transaction: the request row, its CREATED activity, and the fan-out
// delivery records commit together, with queue publishes and feed events
// deferred to after the commit.
type RequestService struct {
	requests    RequestStore
	hotels      RequestHotelStore
	notifier    Notifier
	limiter     *RateLimiter
	feed        RequestFeed
	ratePerRoom int
	rateWindow  time.Duration
}

func NewRequestService(requests RequestStore, hotels RequestHotelStore, notifier Notifier, limiter *RateLimiter, feed RequestFeed, ratePerRoom int, rateWindow time.Duration) *RequestService {
	return &RequestService{
		requests:    requests,
		hotels:      hotels,
		notifier:    notifier,
		limiter:     limiter,
		feed:        feed,
		ratePerRoom: ratePerRoom,
		rateWindow:  rateWindow,
	}
}

func (s *RequestService) Create(ctx context.Context, p model.RequestCreateParams) (*model.ServiceRequest, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	hotel, err := s.hotels.GetByID(ctx, p.HotelID)
	if err != nil {
		return nil, fmt.Errorf("load hotel %d: %w", p.HotelID, err)
	}
	if !hotel.IsActive {
		return nil, ErrHotelInactive
	}

	department, err := s.hotels.GetDepartment(ctx, p.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("load department %d: %w", p.DepartmentID, err)
	}

	now := time.Now()
	if err := s.checkRoomLimit(ctx, p.HotelID, p.RoomNumber, now); err != nil {
		return nil, err
	}

	req := &model.ServiceRequest{
		PublicID:      uuid.New(),
		HotelID:       p.HotelID,
		DepartmentID:  p.DepartmentID,
		ExperienceID:  p.ExperienceID,
		EventID:       p.EventID,
		OfferingID:    p.OfferingID,
		RoomNumber:    p.RoomNumber,
		GuestName:     p.GuestName,
		RequestType:   p.RequestType,
		Status:        model.RequestStatusCreated,
		AfterHours:    department.AfterHours(now),
		ResponseDueAt: ResponseDueAt(hotel, now),
	}

	err = s.requests.WithinTransaction(ctx, func(ctx context.Context) error {
		created, err := s.requests.Create(ctx, req)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req = created

		if err := s.requests.AddActivity(ctx, &model.RequestActivity{
			RequestID: req.ID,
			Action:    model.ActivityCreated,
		}); err != nil {
			return fmt.Errorf("record creation: %w", err)
		}

		event := &notify.Event{
			Type:       model.EventRequestCreated,
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

		if err := s.notifier.Dispatch(ctx, event); err != nil {
			// Notification failures must not lose the request itself.
			logger.Error("request notification dispatch failed",
				"request", req.PublicID, "error", err)
		}

		if req.AfterHours && hotel.FallbackDepartmentID != nil {
			if err := s.dispatchAfterHoursFallback(ctx, hotel, department, req, event.CalendarEvent); err != nil {
				logger.Error("after-hours fallback dispatch failed",
					"request", req.PublicID, "error", err)
			}
		}

		pg.OnCommit(ctx, func() {
			s.feed.PublishRequestEvent("request.created", req)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return req, nil
}

// dispatchAfterHoursFallback raises a second event at the hotel's fallback
// department when the requested department is outside its staffed hours.
// The fallback staff see the original department's name in the message.
func (s *RequestService) dispatchAfterHoursFallback(ctx context.Context, hotel *model.Hotel, department *model.Department, req *model.ServiceRequest, calendarEvent *notify.CalendarEventRef) error {
	fallback, err := s.hotels.GetDepartment(ctx, *hotel.FallbackDepartmentID)
	if err != nil {
		return fmt.Errorf("load fallback department %d: %w", *hotel.FallbackDepartmentID, err)
	}

	event := &notify.Event{
		Type:          model.EventAfterHoursFallback,
		Hotel:         hotel,
		Department:    fallback,
		Request:       req,
		CalendarEvent: calendarEvent,
		Extra:         map[string]string{"original_department_name": department.Name},
	}
	return s.notifier.Dispatch(ctx, event)
}

func (s *RequestService) checkRoomLimit(ctx context.Context, hotelID int64, roomNumber string, now time.Time) error {
	allowed, err := s.limiter.Allow(RoomRequestKey(hotelID, roomNumber), s.ratePerRoom, s.rateWindow)
	if errors.Is(err, ErrLimiterUnavailable) {
		count, countErr := s.requests.CountByRoomSince(ctx, hotelID, roomNumber, now.Add(-s.rateWindow))
		if countErr != nil {
			return countErr
		}
		allowed = count < int64(s.ratePerRoom)
	} else if err != nil {
		return err
	}
	if !allowed {
		prom.IncRateLimitThrottled("room")
		return ErrRequestRateLimited
	}
	return nil
}

// Acknowledge flips a request from CREATED to ACKNOWLEDGED. The transition
// is conditional, so concurrent acknowledgements settle on one winner; the
// losers see ok=false and the request's current state.
func (s *RequestService) Acknowledge(ctx context.Context, publicID, channel, actor string) (*model.ServiceRequest, bool, error) {
	req, err := s.requests.GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	var won bool
	err = s.requests.WithinTransaction(ctx, func(ctx context.Context) error {
		won, err = s.requests.Acknowledge(ctx, req.ID, now)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		if err := s.requests.AddActivity(ctx, &model.RequestActivity{
			RequestID: req.ID,
			Action:    model.ActivityAcknowledged,
			Details:   fmt.Sprintf(`{"channel":%q,"actor":%q}`, channel, actor),
		}); err != nil {
			return fmt.Errorf("record acknowledgement: %w", err)
		}

		req.Status = model.RequestStatusAcknowledged
		req.AcknowledgedAt = &now
		pg.OnCommit(ctx, func() {
			s.feed.PublishRequestEvent("request.updated", req)
		})
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return req, won, nil
}
