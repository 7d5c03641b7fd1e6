package notify

import (
	"context"
	"fmt"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
)

// MembershipLister is the recipient lookup surface of the push adapter.
type MembershipLister interface {
	ListDepartmentRecipients(ctx context.Context, hotelID, departmentID int64) ([]*model.HotelMembership, error)
	ListAdmins(ctx context.Context, hotelID int64) ([]*model.HotelMembership, error)
	ListPushSubscriptions(ctx context.Context, userIDs []int64) ([]*model.PushSubscription, error)
}

// NotificationWriter persists bell notifications.
type NotificationWriter interface {
	CreateBatch(ctx context.Context, ns []*model.Notification) error
}

// FeedPublisher pushes a bell notification to connected clients.
type FeedPublisher interface {
	PublishNotification(n *model.Notification)
}

// PushAdapter writes the in-app bell entries and enqueues one web-push job
// per active subscription. It runs first so staff always have the in-app
// record even when every provider channel fails.
type PushAdapter struct {
	memberships MembershipLister
	bell        NotificationWriter
	queue       JobPublisher
	feed        FeedPublisher
	content     *ContentBuilder
}

func NewPushAdapter(memberships MembershipLister, bell NotificationWriter, queue JobPublisher, feed FeedPublisher, content *ContentBuilder) *PushAdapter {
	return &PushAdapter{
		memberships: memberships,
		bell:        bell,
		queue:       queue,
		feed:        feed,
		content:     content,
	}
}

func (a *PushAdapter) Name() string { return "push" }

func (a *PushAdapter) Notify(ctx context.Context, e *Event) error {
	recipients, err := a.recipients(ctx, e)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil
	}

	title := a.content.Title(e)
	body := a.content.Body(e)

	notifications := make([]*model.Notification, 0, len(recipients))
	userIDs := make([]int64, 0, len(recipients))
	for _, m := range recipients {
		n := &model.Notification{
			UserID:           m.UserID,
			HotelID:          e.Hotel.ID,
			Title:            title,
			Body:             body,
			NotificationType: string(e.Type),
		}
		if e.Request != nil {
			n.RequestID = &e.Request.ID
		}
		notifications = append(notifications, n)
		userIDs = append(userIDs, m.UserID)
	}

	if err := a.bell.CreateBatch(ctx, notifications); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}

	payload, err := a.content.PushPayload(e)
	if err != nil {
		return fmt.Errorf("render push payload: %w", err)
	}

	// Digest summaries stay bell-only; no web push for them.
	var subs []*model.PushSubscription
	if e.Type != model.EventDailyDigest {
		subs, err = a.memberships.ListPushSubscriptions(ctx, userIDs)
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
	}

	pg.OnCommit(ctx, func() {
		if a.feed != nil {
			for _, n := range notifications {
				a.feed.PublishNotification(n)
			}
		}
		for _, sub := range subs {
			job := &DeliveryJob{
				Kind:           JobPush,
				SubscriptionID: sub.ID,
				PushPayload:    payload,
			}
			if _, err := a.queue.PublishJSON(context.Background(), job, nil); err != nil {
				logger.Error("enqueue push job failed", "subscription", sub.ID, "error", err)
			}
		}
	})
	return nil
}

// recipients picks department staff plus admins for request events, admins
// only for hotel-wide events and for calendar events that opted the
// department out.
func (a *PushAdapter) recipients(ctx context.Context, e *Event) ([]*model.HotelMembership, error) {
	notifyDepartment := e.CalendarEvent == nil || e.CalendarEvent.NotifyDepartment
	if e.IsRequestEvent() && notifyDepartment {
		return a.memberships.ListDepartmentRecipients(ctx, e.Hotel.ID, e.Department.ID)
	}
	return a.memberships.ListAdmins(ctx, e.Hotel.ID)
}
