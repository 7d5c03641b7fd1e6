package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"github.com/adisharma29/tripcompass-sub000/test/helpers"
)

type sessionReply struct {
	destination string
	text        string
}

type fakeSessionSender struct {
	sends []sessionReply
}

func (f *fakeSessionSender) SendSessionText(ctx context.Context, destination, text string) (string, error) {
	f.sends = append(f.sends, sessionReply{destination, text})
	return fmt.Sprintf("session-%d", len(f.sends)), nil
}

type otpEvent struct {
	eventType string
	messageID string
}

type fakeOTPEvents struct {
	events []otpEvent
}

func (f *fakeOTPEvents) HandleDeliveryEvent(ctx context.Context, eventType, providerMessageID string) error {
	f.events = append(f.events, otpEvent{eventType, providerMessageID})
	return nil
}

type webhookFixture struct {
	db         *pg.DB
	deliveries *repository.DeliveryRepository
	windows    *repository.WindowRepository
	requests   *repository.RequestRepository
	session    *fakeSessionSender
	otp        *fakeOTPEvents
	svc        *WebhookService
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	db := helpers.SetupTestDB(t)
	_, adapter := helpers.SetupTestRedis(t)

	f := &webhookFixture{
		db:         db,
		deliveries: repository.NewDeliveryRepository(db),
		windows:    repository.NewWindowRepository(db),
		requests:   repository.NewRequestRepository(db),
		session:    &fakeSessionSender{},
		otp:        &fakeOTPEvents{},
	}
	acks := NewRequestService(f.requests, repository.NewHotelRepository(db),
		&captureNotifier{}, NewRateLimiter(adapter), &captureFeed{}, 5, time.Hour)
	f.svc = NewWebhookService(f.deliveries, f.windows, f.requests, acks,
		f.session, f.otp, "https://dash.example.com")
	return f
}

// seedDelivery inserts a SENT WhatsApp notification for the given request
// and staff phone.
func (f *webhookFixture) seedDelivery(t *testing.T, req *model.ServiceRequest, phone string) *model.DeliveryRecord {
	ctx := context.Background()
	rec, created, err := f.deliveries.GetOrCreate(ctx, &model.DeliveryRecord{
		IdempotencyKey: fmt.Sprintf("test:%s:%s", req.PublicID, phone),
		HotelID:        req.HotelID,
		RequestID:      &req.ID,
		Channel:        model.ChannelWhatsApp,
		Target:         phone,
		EventType:      model.EventRequestCreated,
		MessageType:    model.MessageTypeTemplate,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.deliveries.MarkSent(ctx, rec.ID, "wamid-"+phone))
	return rec
}

func TestWebhookService_HandleInbound_Postbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("ack button acknowledges the request", func(t *testing.T) {
		f := newWebhookFixture(t)
		hotel := helpers.CreateTestHotel(t, f.db, "wh-ack")
		dept := helpers.CreateTestDepartment(t, f.db, hotel.ID, "housekeeping")
		req := helpers.CreateTestRequest(t, f.db, hotel.ID, dept.ID, "204")
		rec := f.seedDelivery(t, req, "15550001111")

		err := f.svc.HandleInbound(ctx, "+1 (555) 000-1111", "ack:"+req.PublicID.String(), "")
		require.NoError(t, err)

		reloaded, err := f.requests.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusAcknowledged, reloaded.Status)

		stamped, err := f.deliveries.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.NotNil(t, stamped.AcknowledgedAt)

		window, err := f.windows.Get(ctx, hotel.ID, "15550001111")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), window.LastInboundAt, time.Minute)
	})

	t.Run("escalation ack carries the same semantics", func(t *testing.T) {
		f := newWebhookFixture(t)
		hotel := helpers.CreateTestHotel(t, f.db, "wh-esc-ack")
		dept := helpers.CreateTestDepartment(t, f.db, hotel.ID, "housekeeping")
		req := helpers.CreateTestRequest(t, f.db, hotel.ID, dept.ID, "204")

		err := f.svc.HandleInbound(ctx, "15550002222", "esc_ack:"+req.PublicID.String()+":2", "")
		require.NoError(t, err)

		reloaded, err := f.requests.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusAcknowledged, reloaded.Status)
	})

	t.Run("view button replies with a dashboard link", func(t *testing.T) {
		f := newWebhookFixture(t)
		hotel := helpers.CreateTestHotel(t, f.db, "wh-view")
		dept := helpers.CreateTestDepartment(t, f.db, hotel.ID, "housekeeping")
		req := helpers.CreateTestRequest(t, f.db, hotel.ID, dept.ID, "204")

		err := f.svc.HandleInbound(ctx, "15550003333", "view:"+req.PublicID.String(), "")
		require.NoError(t, err)

		require.Len(t, f.session.sends, 1)
		assert.Equal(t, "15550003333", f.session.sends[0].destination)
		assert.Contains(t, f.session.sends[0].text,
			"https://dash.example.com/requests/"+req.PublicID.String())
	})

	t.Run("postback for an unknown request is dropped", func(t *testing.T) {
		f := newWebhookFixture(t)

		err := f.svc.HandleInbound(ctx, "15550004444", "ack:a0a0a0a0-0000-0000-0000-000000000000", "")
		require.NoError(t, err)

		var count int64
		require.NoError(t, f.db.Read(ctx).Model(&model.WhatsAppServiceWindow{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestWebhookService_HandleInbound_FreeText(t *testing.T) {
	ctx := context.Background()

	t.Run("typed ack resolves the newest notification", func(t *testing.T) {
		f := newWebhookFixture(t)
		hotel := helpers.CreateTestHotel(t, f.db, "wh-text-ack")
		dept := helpers.CreateTestDepartment(t, f.db, hotel.ID, "housekeeping")
		req := helpers.CreateTestRequest(t, f.db, hotel.ID, dept.ID, "204")
		f.seedDelivery(t, req, "15550005555")

		err := f.svc.HandleInbound(ctx, "15550005555", "", "On it ")
		require.NoError(t, err)

		reloaded, err := f.requests.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusAcknowledged, reloaded.Status)
	})

	t.Run("unrecognized text only refreshes the window", func(t *testing.T) {
		f := newWebhookFixture(t)
		hotel := helpers.CreateTestHotel(t, f.db, "wh-text-other")
		dept := helpers.CreateTestDepartment(t, f.db, hotel.ID, "housekeeping")
		req := helpers.CreateTestRequest(t, f.db, hotel.ID, dept.ID, "204")
		f.seedDelivery(t, req, "15550006666")

		err := f.svc.HandleInbound(ctx, "15550006666", "", "thanks, will check")
		require.NoError(t, err)

		reloaded, err := f.requests.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusCreated, reloaded.Status)

		_, err = f.windows.Get(ctx, hotel.ID, "15550006666")
		assert.NoError(t, err)
	})

	t.Run("no delivery context falls back to the service window", func(t *testing.T) {
		f := newWebhookFixture(t)
		hotel := helpers.CreateTestHotel(t, f.db, "wh-text-window")
		earlier := time.Now().Add(-2 * time.Hour)
		require.NoError(t, f.windows.Touch(ctx, hotel.ID, "15550007777", earlier))

		err := f.svc.HandleInbound(ctx, "15550007777", "", "hello")
		require.NoError(t, err)

		window, err := f.windows.Get(ctx, hotel.ID, "15550007777")
		require.NoError(t, err)
		assert.True(t, window.LastInboundAt.After(earlier), "the window must refresh")
	})

	t.Run("no context at all is ignored", func(t *testing.T) {
		f := newWebhookFixture(t)
		err := f.svc.HandleInbound(ctx, "15550008888", "", "hello")
		require.NoError(t, err)
	})
}

func TestWebhookService_HandleDeliveryStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("delivered stamps the ledger and the otp chain", func(t *testing.T) {
		f := newWebhookFixture(t)
		hotel := helpers.CreateTestHotel(t, f.db, "wh-status-delivered")
		dept := helpers.CreateTestDepartment(t, f.db, hotel.ID, "housekeeping")
		req := helpers.CreateTestRequest(t, f.db, hotel.ID, dept.ID, "204")
		rec := f.seedDelivery(t, req, "15550009999")

		err := f.svc.HandleDeliveryStatus(ctx, "delivered", "wamid-15550009999", "")
		require.NoError(t, err)

		stamped, err := f.deliveries.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusDelivered, stamped.Status)
		assert.NotNil(t, stamped.DeliveredAt)

		require.Len(t, f.otp.events, 1)
		assert.Equal(t, otpEvent{"delivered", "wamid-15550009999"}, f.otp.events[0])
	})

	t.Run("failed records the reason", func(t *testing.T) {
		f := newWebhookFixture(t)
		hotel := helpers.CreateTestHotel(t, f.db, "wh-status-failed")
		dept := helpers.CreateTestDepartment(t, f.db, hotel.ID, "housekeeping")
		req := helpers.CreateTestRequest(t, f.db, hotel.ID, dept.ID, "204")
		rec := f.seedDelivery(t, req, "15550010000")

		err := f.svc.HandleDeliveryStatus(ctx, "failed", "wamid-15550010000", "template paused")
		require.NoError(t, err)

		stamped, err := f.deliveries.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusFailed, stamped.Status)
		assert.Equal(t, "template paused", stamped.ErrorMessage)
	})

	t.Run("blank message ids are ignored", func(t *testing.T) {
		f := newWebhookFixture(t)
		require.NoError(t, f.svc.HandleDeliveryStatus(ctx, "delivered", "", ""))
		assert.Empty(t, f.otp.events)
	})
}
