package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name  string
	err   error
	calls []*Event
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) Notify(ctx context.Context, e *Event) error {
	a.calls = append(a.calls, e)
	return a.err
}

type fakeQueue struct {
	jobs []*DeliveryJob
}

func (q *fakeQueue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	var job DeliveryJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return "", err
	}
	q.jobs = append(q.jobs, &job)
	return "1-0", nil
}

type fakeDeliveries struct {
	records map[string]*model.DeliveryRecord
	nextID  int64
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{records: make(map[string]*model.DeliveryRecord)}
}

func (d *fakeDeliveries) GetOrCreate(ctx context.Context, rec *model.DeliveryRecord) (*model.DeliveryRecord, bool, error) {
	if existing, ok := d.records[rec.IdempotencyKey]; ok {
		return existing, false, nil
	}
	d.nextID++
	rec.ID = d.nextID
	d.records[rec.IdempotencyKey] = rec
	return rec, true, nil
}

func (d *fakeDeliveries) ExistsForRequestTier(ctx context.Context, requestID int64, tier int, channel model.Channel, target string) (bool, error) {
	for _, rec := range d.records {
		if rec.RequestID != nil && *rec.RequestID == requestID &&
			rec.EscalationTier != nil && *rec.EscalationTier == tier &&
			rec.Channel == channel && rec.Target == target {
			return true, nil
		}
	}
	return false, nil
}

type fakeRoutes struct {
	department []*model.NotificationRoute
	event      []*model.NotificationRoute
	offering   []*model.NotificationRoute
}

func (r *fakeRoutes) FindForDepartment(ctx context.Context, departmentID int64, experienceID *int64, channel model.Channel) ([]*model.NotificationRoute, error) {
	return filterChannel(r.department, channel), nil
}

func (r *fakeRoutes) FindForEvent(ctx context.Context, eventID int64, channel model.Channel) ([]*model.NotificationRoute, error) {
	return filterChannel(r.event, channel), nil
}

func (r *fakeRoutes) FindForOffering(ctx context.Context, offeringID int64, channel model.Channel) ([]*model.NotificationRoute, error) {
	return filterChannel(r.offering, channel), nil
}

func filterChannel(routes []*model.NotificationRoute, channel model.Channel) []*model.NotificationRoute {
	var out []*model.NotificationRoute
	for _, route := range routes {
		if route.Channel == channel {
			out = append(out, route)
		}
	}
	return out
}

type fakeWindows struct {
	open map[string]bool
}

func (w *fakeWindows) Get(ctx context.Context, hotelID int64, phone string) (*model.WhatsAppServiceWindow, error) {
	if w.open[phone] {
		return &model.WhatsAppServiceWindow{HotelID: hotelID, Phone: phone, LastInboundAt: time.Now()}, nil
	}
	return nil, repository.ErrNotFound
}

type fakeTemplates struct{}

func (fakeTemplates) TemplateIDFor(eventType string) string { return "tpl-" + eventType }

func testEvent(eventType model.EventType) *Event {
	publicID := uuid.New()
	return &Event{
		Type: eventType,
		Hotel: &model.Hotel{
			ID:                           1,
			Name:                         "Seaside",
			WhatsAppNotificationsEnabled: true,
			EmailNotificationsEnabled:    true,
		},
		Department: &model.Department{ID: 5, HotelID: 1, Name: "Housekeeping"},
		Request: &model.ServiceRequest{
			ID:          20,
			PublicID:    publicID,
			HotelID:     1,
			RoomNumber:  "203",
			GuestName:   "A. Guest",
			RequestType: "towels",
		},
	}
}

func TestDispatcher_AdapterIsolation(t *testing.T) {
	failing := &fakeAdapter{name: "push", err: errors.New("boom")}
	second := &fakeAdapter{name: "whatsapp"}
	third := &fakeAdapter{name: "email"}

	d := NewDispatcher(failing, second, third)
	err := d.Dispatch(context.Background(), testEvent(model.EventRequestCreated))

	assert.Error(t, err)
	assert.Len(t, failing.calls, 1)
	assert.Len(t, second.calls, 1)
	assert.Len(t, third.calls, 1)
}

func TestResolveRoutes(t *testing.T) {
	routes := &fakeRoutes{
		department: []*model.NotificationRoute{
			{ID: 1, Channel: model.ChannelWhatsApp, Target: "+15550000001"},
			{ID: 2, Channel: model.ChannelWhatsApp, Target: "+15550000002"},
		},
		event: []*model.NotificationRoute{
			{ID: 3, Channel: model.ChannelWhatsApp, Target: "+15550000001"},
			{ID: 4, Channel: model.ChannelWhatsApp, Target: "+15550000003"},
		},
	}

	t.Run("department and event scopes are unioned and deduped", func(t *testing.T) {
		e := testEvent(model.EventRequestCreated)
		e.CalendarEvent = &CalendarEventRef{ID: 7, Name: "Yoga", NotifyDepartment: true}

		resolved, err := resolveRoutes(context.Background(), routes, e, model.ChannelWhatsApp)
		require.NoError(t, err)
		require.Len(t, resolved, 3)
	})

	t.Run("calendar event can opt the department out", func(t *testing.T) {
		e := testEvent(model.EventRequestCreated)
		e.CalendarEvent = &CalendarEventRef{ID: 7, Name: "Yoga", NotifyDepartment: false}

		resolved, err := resolveRoutes(context.Background(), routes, e, model.ChannelWhatsApp)
		require.NoError(t, err)
		require.Len(t, resolved, 2)
		assert.Equal(t, int64(3), resolved[0].ID)
	})

	t.Run("offering routes are included when present", func(t *testing.T) {
		routes.offering = []*model.NotificationRoute{
			{ID: 5, Channel: model.ChannelWhatsApp, Target: "+15550000004"},
		}
		e := testEvent(model.EventRequestCreated)
		e.Offering = &OfferingRef{ID: 3, Name: "Spa Day"}

		resolved, err := resolveRoutes(context.Background(), routes, e, model.ChannelWhatsApp)
		require.NoError(t, err)
		require.Len(t, resolved, 3)
	})

	t.Run("the lowest-id route wins a shared target across scopes", func(t *testing.T) {
		shared := &fakeRoutes{
			department: []*model.NotificationRoute{
				{ID: 9, Channel: model.ChannelWhatsApp, Target: "+15550000009"},
			},
			offering: []*model.NotificationRoute{
				{ID: 3, Channel: model.ChannelWhatsApp, Target: "+15550000009"},
			},
		}
		e := testEvent(model.EventRequestCreated)
		e.Offering = &OfferingRef{ID: 3, Name: "Spa Day"}

		resolved, err := resolveRoutes(context.Background(), shared, e, model.ChannelWhatsApp)
		require.NoError(t, err)
		require.Len(t, resolved, 1)
		assert.Equal(t, int64(3), resolved[0].ID)
	})
}

func TestWhatsAppAdapter(t *testing.T) {
	newAdapter := func(deliveries *fakeDeliveries, queue *fakeQueue, windows *fakeWindows) *WhatsAppAdapter {
		routes := &fakeRoutes{
			department: []*model.NotificationRoute{
				{ID: 1, Channel: model.ChannelWhatsApp, Target: "+15550000001"},
			},
		}
		return NewWhatsAppAdapter(deliveries, routes, windows, queue,
			NewContentBuilder("https://app.example.com"), fakeTemplates{}, 24*time.Hour)
	}

	t.Run("creates a delivery and enqueues a template job", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		adapter := newAdapter(deliveries, queue, &fakeWindows{})

		e := testEvent(model.EventRequestCreated)
		require.NoError(t, adapter.Notify(context.Background(), e))

		require.Len(t, queue.jobs, 1)
		job := queue.jobs[0]
		assert.Equal(t, JobWhatsAppTemplate, job.Kind)
		assert.Equal(t, "tpl-request.created", job.TemplateID)
		assert.Contains(t, job.Postbacks, "ack:"+e.PublicID())

		key := model.RouteDeliveryKey(model.EventRequestCreated, e.PublicID(), 0, 1)
		rec, ok := deliveries.records[key]
		require.True(t, ok)
		assert.Equal(t, model.MessageTypeTemplate, rec.MessageType)
	})

	t.Run("second dispatch enqueues nothing", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		adapter := newAdapter(deliveries, queue, &fakeWindows{})

		e := testEvent(model.EventRequestCreated)
		require.NoError(t, adapter.Notify(context.Background(), e))
		require.NoError(t, adapter.Notify(context.Background(), e))

		assert.Len(t, queue.jobs, 1)
	})

	t.Run("open window switches to a session job", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		windows := &fakeWindows{open: map[string]bool{"+15550000001": true}}
		adapter := newAdapter(deliveries, queue, windows)

		e := testEvent(model.EventRequestCreated)
		require.NoError(t, adapter.Notify(context.Background(), e))

		require.Len(t, queue.jobs, 1)
		assert.Equal(t, JobWhatsAppSession, queue.jobs[0].Kind)
		assert.NotEmpty(t, queue.jobs[0].SessionText)

		key := model.RouteDeliveryKey(model.EventRequestCreated, e.PublicID(), 0, 1)
		assert.Equal(t, model.MessageTypeSession, deliveries.records[key].MessageType)
	})

	t.Run("disabled hotel sends nothing", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		adapter := newAdapter(deliveries, queue, &fakeWindows{})

		e := testEvent(model.EventRequestCreated)
		e.Hotel.WhatsAppNotificationsEnabled = false
		require.NoError(t, adapter.Notify(context.Background(), e))

		assert.Len(t, queue.jobs, 0)
	})

	t.Run("escalation tiers get distinct deliveries", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		adapter := newAdapter(deliveries, queue, &fakeWindows{})

		e := testEvent(model.EventEscalation)
		e.EscalationTier = 1
		require.NoError(t, adapter.Notify(context.Background(), e))
		e.EscalationTier = 2
		require.NoError(t, adapter.Notify(context.Background(), e))

		assert.Len(t, queue.jobs, 2)
		assert.Len(t, deliveries.records, 2)
	})
}

func TestOncallAdapter(t *testing.T) {
	content := NewContentBuilder("https://app.example.com")

	escalation := func() *Event {
		e := testEvent(model.EventEscalation)
		e.EscalationTier = 2
		e.Hotel.EscalationFallbackChannel = model.FallbackEmailWhatsApp
		e.Hotel.OncallPhone = "+15559998888"
		e.Hotel.OncallEmail = "oncall@example.com"
		return e
	}

	t.Run("notifies both configured contacts", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		adapter := NewOncallAdapter(deliveries, &fakeWindows{}, queue, content, fakeTemplates{}, time.Hour)

		require.NoError(t, adapter.Notify(context.Background(), escalation()))

		require.Len(t, queue.jobs, 2)
		kinds := []JobKind{queue.jobs[0].Kind, queue.jobs[1].Kind}
		assert.Contains(t, kinds, JobWhatsAppTemplate)
		assert.Contains(t, kinds, JobEmail)
	})

	t.Run("every escalation tier alerts the contacts", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		adapter := NewOncallAdapter(deliveries, &fakeWindows{}, queue, content, fakeTemplates{}, time.Hour)

		e := escalation()
		e.EscalationTier = 1
		require.NoError(t, adapter.Notify(context.Background(), e))
		require.Len(t, queue.jobs, 2)

		e2 := escalation()
		e2.EscalationTier = 2
		require.NoError(t, adapter.Notify(context.Background(), e2))
		assert.Len(t, queue.jobs, 4)
		assert.Len(t, deliveries.records, 4)
	})

	t.Run("an open service window makes the whatsapp send a session", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		windows := &fakeWindows{open: map[string]bool{"+15559998888": true}}
		adapter := NewOncallAdapter(deliveries, windows, queue, content, fakeTemplates{}, time.Hour)

		e := escalation()
		require.NoError(t, adapter.Notify(context.Background(), e))

		var kinds []JobKind
		for _, job := range queue.jobs {
			kinds = append(kinds, job.Kind)
		}
		assert.Contains(t, kinds, JobWhatsAppSession)
		assert.NotContains(t, kinds, JobWhatsAppTemplate)

		key := model.OncallDeliveryKey(model.ChannelWhatsApp, e.Type, e.PublicID(), e.EscalationTier)
		assert.Equal(t, model.MessageTypeSession, deliveries.records[key].MessageType)
	})

	t.Run("a route delivery to the same contact suppresses the oncall send", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		adapter := NewOncallAdapter(deliveries, &fakeWindows{}, queue, content, fakeTemplates{}, time.Hour)

		e := escalation()
		tier := e.EscalationTier
		routeID := int64(9)
		_, _, err := deliveries.GetOrCreate(context.Background(), &model.DeliveryRecord{
			IdempotencyKey: model.RouteDeliveryKey(e.Type, e.PublicID(), tier, routeID),
			RequestID:      &e.Request.ID,
			RouteID:        &routeID,
			EscalationTier: &tier,
			Channel:        model.ChannelWhatsApp,
			Target:         e.Hotel.OncallPhone,
		})
		require.NoError(t, err)

		require.NoError(t, adapter.Notify(context.Background(), e))

		require.Len(t, queue.jobs, 1)
		assert.Equal(t, JobEmail, queue.jobs[0].Kind)
	})

	t.Run("oncall notifications are idempotent", func(t *testing.T) {
		deliveries := newFakeDeliveries()
		queue := &fakeQueue{}
		adapter := NewOncallAdapter(deliveries, &fakeWindows{}, queue, content, fakeTemplates{}, time.Hour)

		e := escalation()
		require.NoError(t, adapter.Notify(context.Background(), e))
		require.NoError(t, adapter.Notify(context.Background(), e))

		assert.Len(t, queue.jobs, 2)
	})
}

type fakeMemberships struct {
	staff  []*model.HotelMembership
	admins []*model.HotelMembership
	subs   []*model.PushSubscription
}

func (m *fakeMemberships) ListDepartmentRecipients(ctx context.Context, hotelID, departmentID int64) ([]*model.HotelMembership, error) {
	return append(append([]*model.HotelMembership{}, m.staff...), m.admins...), nil
}

func (m *fakeMemberships) ListAdmins(ctx context.Context, hotelID int64) ([]*model.HotelMembership, error) {
	return m.admins, nil
}

func (m *fakeMemberships) ListPushSubscriptions(ctx context.Context, userIDs []int64) ([]*model.PushSubscription, error) {
	allowed := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = true
	}
	var out []*model.PushSubscription
	for _, sub := range m.subs {
		if allowed[sub.UserID] {
			out = append(out, sub)
		}
	}
	return out, nil
}

type fakeBell struct {
	rows []*model.Notification
}

func (b *fakeBell) CreateBatch(ctx context.Context, ns []*model.Notification) error {
	b.rows = append(b.rows, ns...)
	return nil
}

type fakeFeed struct {
	published []*model.Notification
}

func (f *fakeFeed) PublishNotification(n *model.Notification) {
	f.published = append(f.published, n)
}

func TestPushAdapter(t *testing.T) {
	content := NewContentBuilder("https://app.example.com")

	memberships := &fakeMemberships{
		staff:  []*model.HotelMembership{{UserID: 10, HotelID: 1}},
		admins: []*model.HotelMembership{{UserID: 12, HotelID: 1, Role: model.RoleAdmin}},
		subs: []*model.PushSubscription{
			{ID: 1, UserID: 10, Endpoint: "https://push.example.com/a"},
			{ID: 2, UserID: 12, Endpoint: "https://push.example.com/b"},
		},
	}

	t.Run("request events reach department staff and admins", func(t *testing.T) {
		bell := &fakeBell{}
		queue := &fakeQueue{}
		feed := &fakeFeed{}
		adapter := NewPushAdapter(memberships, bell, queue, feed, content)

		require.NoError(t, adapter.Notify(context.Background(), testEvent(model.EventRequestCreated)))

		assert.Len(t, bell.rows, 2)
		assert.Len(t, feed.published, 2)
		assert.Len(t, queue.jobs, 2)
		assert.Equal(t, JobPush, queue.jobs[0].Kind)
		assert.NotEmpty(t, queue.jobs[0].PushPayload)
	})

	t.Run("daily digest is bell-only and reaches admins only", func(t *testing.T) {
		bell := &fakeBell{}
		queue := &fakeQueue{}
		adapter := NewPushAdapter(memberships, bell, queue, nil, content)

		e := &Event{
			Type:  model.EventDailyDigest,
			Hotel: &model.Hotel{ID: 1, Name: "Seaside"},
			Extra: map[string]string{"body": "3 open requests"},
		}
		require.NoError(t, adapter.Notify(context.Background(), e))

		require.Len(t, bell.rows, 1)
		assert.Equal(t, int64(12), bell.rows[0].UserID)
		assert.Equal(t, "Daily Summary", bell.rows[0].Title)
		assert.Equal(t, "3 open requests", bell.rows[0].Body)
		assert.Empty(t, queue.jobs, "digests never leave the bell as web push")
	})
}
