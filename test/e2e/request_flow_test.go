package e2e

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateway "github.com/adisharma29/tripcompass-sub000/internal/gateways"
	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/notify"
	"github.com/adisharma29/tripcompass-sub000/internal/processor"
	"github.com/adisharma29/tripcompass-sub000/internal/queue"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/internal/services"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"github.com/adisharma29/tripcompass-sub000/pkg/redis"
	"github.com/adisharma29/tripcompass-sub000/test/fixtures"
	"github.com/adisharma29/tripcompass-sub000/test/helpers"
)

// fakeWhatsAppGateway stands in for the Gupshup client on both the send and
// the session-reply surfaces.
type fakeWhatsAppGateway struct {
	mu            sync.Mutex
	nextID        int
	sessionClosed bool
	templateSends []string
	sessionSends  []string
	sessionTexts  []string
}

func (g *fakeWhatsAppGateway) messageID() string {
	g.nextID++
	return fmt.Sprintf("wamid-%d", g.nextID)
}

func (g *fakeWhatsAppGateway) SendTemplate(ctx context.Context, destination, templateID string, params []string, postbacks []gateway.Postback) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.templateSends = append(g.templateSends, destination)
	return g.messageID(), nil
}

func (g *fakeWhatsAppGateway) SendSession(ctx context.Context, destination string, message interface{}) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionClosed {
		return "", gateway.ErrServiceWindowExpired
	}
	g.sessionSends = append(g.sessionSends, destination)
	return g.messageID(), nil
}

func (g *fakeWhatsAppGateway) SendSessionText(ctx context.Context, destination, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionTexts = append(g.sessionTexts, text)
	return g.messageID(), nil
}

func (g *fakeWhatsAppGateway) TemplateIDFor(eventType string) string {
	return "tpl-" + eventType
}

func (g *fakeWhatsAppGateway) setSessionClosed(closed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionClosed = closed
}

func (g *fakeWhatsAppGateway) templateCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.templateSends)
}

type fakeEmailGateway struct {
	mu     sync.Mutex
	nextID int
	sends  []string
}

func (g *fakeEmailGateway) Send(ctx context.Context, to, subject, html string, tags []gateway.EmailTag) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, to)
	g.nextID++
	return fmt.Sprintf("email-%d", g.nextID), nil
}

type fakePushGateway struct {
	mu    sync.Mutex
	sends []string
}

func (g *fakePushGateway) Send(ctx context.Context, sub *model.PushSubscription, payload []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, sub.Endpoint)
	return nil
}

type fakeOTPEvents struct{}

func (fakeOTPEvents) HandleDeliveryEvent(ctx context.Context, eventType, providerMessageID string) error {
	return nil
}

type TestEnvironment struct {
	DB           *pg.DB
	Redis        *miniredis.Miniredis
	RedisAdapter redis.RedisAdapter
	Queue        *queue.Queue

	RequestRepo  *repository.RequestRepository
	DeliveryRepo *repository.DeliveryRepository
	WindowRepo   *repository.WindowRepository

	RequestService *services.RequestService
	WebhookService *services.WebhookService
	Processor      *processor.DeliveryProcessor

	WhatsApp *fakeWhatsAppGateway
	Email    *fakeEmailGateway
	Push     *fakePushGateway
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db := helpers.SetupTestDB(t)
	mr, redisAdapter := helpers.SetupTestRedis(t)

	queueConfig := queue.QueueConfig{
		Name:              "test:deliveries",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}

	q, err := queue.NewQueue(redisAdapter, queueConfig)
	require.NoError(t, err)

	requestRepo := repository.NewRequestRepository(db)
	hotelRepo := repository.NewHotelRepository(db)
	routeRepo := repository.NewRouteRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	windowRepo := repository.NewWindowRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	whatsapp := &fakeWhatsAppGateway{}
	email := &fakeEmailGateway{}
	push := &fakePushGateway{}

	feed := services.NewFeedService(redisAdapter)
	content := notify.NewContentBuilder("https://dashboard.test")
	dispatcher := notify.NewDispatcher(
		notify.NewPushAdapter(membershipRepo, notificationRepo, q, feed, content),
		notify.NewWhatsAppAdapter(deliveryRepo, routeRepo, windowRepo, q, content, whatsapp, 24*time.Hour),
		notify.NewEmailAdapter(deliveryRepo, routeRepo, q, content),
		notify.NewOncallAdapter(deliveryRepo, windowRepo, q, content, whatsapp, 24*time.Hour),
	)

	limiter := services.NewRateLimiter(redisAdapter)
	requestService := services.NewRequestService(requestRepo, hotelRepo, dispatcher, limiter, feed, 2, time.Minute)
	webhookService := services.NewWebhookService(deliveryRepo, windowRepo, requestRepo, requestService, whatsapp, fakeOTPEvents{}, "https://dashboard.test")

	idempotency := processor.NewIdempotencyService(redisAdapter, processor.DefaultIdempotencyConfig())
	deliveryProcessor := processor.NewDeliveryProcessor(deliveryRepo, membershipRepo, whatsapp, email, push, q, idempotency)

	return &TestEnvironment{
		DB:             db,
		Redis:          mr,
		RedisAdapter:   redisAdapter,
		Queue:          q,
		RequestRepo:    requestRepo,
		DeliveryRepo:   deliveryRepo,
		WindowRepo:     windowRepo,
		RequestService: requestService,
		WebhookService: webhookService,
		Processor:      deliveryProcessor,
		WhatsApp:       whatsapp,
		Email:          email,
		Push:           push,
	}
}

func (env *TestEnvironment) Cleanup() {
	// Stop queue first (gracefully drain messages)
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	// Give time for any in-flight operations to complete
	time.Sleep(100 * time.Millisecond)
}

// startProcessing wires the delivery processor as the queue consumer.
func (env *TestEnvironment) startProcessing(t *testing.T) {
	err := env.Queue.Consume(func(ctx context.Context, msg *queue.Message) error {
		return env.Processor.Process(ctx, msg)
	})
	require.NoError(t, err)
}

func (env *TestEnvironment) deliveriesForRequest(t *testing.T, requestID int64) []*model.DeliveryRecord {
	var records []*model.DeliveryRecord
	err := env.DB.Read(context.Background()).
		Where("request_id = ?", requestID).
		Order("id").
		Find(&records).Error
	require.NoError(t, err)
	return records
}

func TestE2E_RequestCreationFanout(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	hotel := helpers.CreateTestHotel(t, env.DB, "grand-plaza")
	dept := helpers.CreateTestDepartment(t, env.DB, hotel.ID, "housekeeping")
	helpers.CreateTestRoute(t, env.DB, hotel.ID, dept.ID, model.ChannelWhatsApp, "15550001111")
	helpers.CreateTestRoute(t, env.DB, hotel.ID, dept.ID, model.ChannelEmail, "desk@grand-plaza.test")
	member := helpers.CreateTestMembership(t, env.DB, hotel.ID, &dept.ID, model.RoleStaff)

	sub := &model.PushSubscription{
		UserID:   member.UserID,
		Endpoint: "https://push.test/sub-1",
		P256dh:   "p256dh-key",
		Auth:     "auth-secret",
		IsActive: true,
	}
	require.NoError(t, env.DB.Write(ctx).Create(sub).Error)

	req, err := env.RequestService.Create(ctx, model.RequestCreateParams{
		HotelID:      hotel.ID,
		DepartmentID: dept.ID,
		RoomNumber:   "412",
		GuestName:    "Riya",
		RequestType:  "Extra towels",
	})
	require.NoError(t, err)
	assert.NotZero(t, req.ID)
	assert.Equal(t, model.RequestStatusCreated, req.Status)

	records := env.deliveriesForRequest(t, req.ID)
	require.Len(t, records, 2)
	byChannel := map[model.Channel]*model.DeliveryRecord{}
	for _, rec := range records {
		assert.Equal(t, model.DeliveryStatusQueued, rec.Status)
		byChannel[rec.Channel] = rec
	}
	require.Contains(t, byChannel, model.ChannelWhatsApp)
	require.Contains(t, byChannel, model.ChannelEmail)
	assert.Equal(t, "15550001111", byChannel[model.ChannelWhatsApp].Target)
	// No open service window, so the WhatsApp send goes out as a template.
	assert.Equal(t, model.MessageTypeTemplate, byChannel[model.ChannelWhatsApp].MessageType)

	var activityCount int64
	env.DB.Read(ctx).Model(&model.RequestActivity{}).
		Where("request_id = ?", req.ID).Count(&activityCount)
	assert.Equal(t, int64(1), activityCount)

	var notificationCount int64
	env.DB.Read(ctx).Model(&model.Notification{}).
		Where("user_id = ?", member.UserID).Count(&notificationCount)
	assert.Equal(t, int64(1), notificationCount)

	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(3))
}

func TestE2E_InactiveHotelRejected(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	hotel := helpers.CreateTestHotel(t, env.DB, "shuttered")
	require.NoError(t, env.DB.Write(ctx).Model(hotel).Update("is_active", false).Error)
	dept := helpers.CreateTestDepartment(t, env.DB, hotel.ID, "housekeeping")

	req, err := env.RequestService.Create(ctx, fixtures.NewTestRequestCreateParams(hotel.ID, dept.ID, "101"))
	assert.ErrorIs(t, err, services.ErrHotelInactive)
	assert.Nil(t, req)

	var count int64
	env.DB.Read(ctx).Model(&model.ServiceRequest{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestE2E_RoomRateLimit(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	hotel := helpers.CreateTestHotel(t, env.DB, "grand-plaza")
	dept := helpers.CreateTestDepartment(t, env.DB, hotel.ID, "housekeeping")
	helpers.CreateTestRoute(t, env.DB, hotel.ID, dept.ID, model.ChannelWhatsApp, "15550001111")

	params := fixtures.NewTestRequestCreateParams(hotel.ID, dept.ID, "707")

	for i := 0; i < 2; i++ {
		_, err := env.RequestService.Create(ctx, params)
		require.NoError(t, err)
	}

	_, err := env.RequestService.Create(ctx, params)
	assert.ErrorIs(t, err, services.ErrRequestRateLimited)

	var count int64
	env.DB.Read(ctx).Model(&model.ServiceRequest{}).
		Where("room_number = ?", "707").Count(&count)
	assert.Equal(t, int64(2), count)

	// A different room in the same hotel is unaffected.
	params.RoomNumber = "708"
	_, err = env.RequestService.Create(ctx, params)
	assert.NoError(t, err)
}

func TestE2E_DeliveryLifecycle(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	hotel := helpers.CreateTestHotel(t, env.DB, "grand-plaza")
	dept := helpers.CreateTestDepartment(t, env.DB, hotel.ID, "housekeeping")
	helpers.CreateTestRoute(t, env.DB, hotel.ID, dept.ID, model.ChannelWhatsApp, "15550001111")

	req, err := env.RequestService.Create(ctx, model.RequestCreateParams{
		HotelID:      hotel.ID,
		DepartmentID: dept.ID,
		RoomNumber:   "412",
		RequestType:  "Extra towels",
	})
	require.NoError(t, err)

	env.startProcessing(t)

	var sent *model.DeliveryRecord
	helpers.AssertEventually(t, 3*time.Second, func() bool {
		records := env.deliveriesForRequest(t, req.ID)
		for _, rec := range records {
			if rec.Status == model.DeliveryStatusSent {
				sent = rec
				return true
			}
		}
		return false
	}, "delivery record never reached SENT")

	require.NotEmpty(t, sent.ProviderMessageID)
	assert.Contains(t, sent.ProviderMessageID, "wamid-")
	assert.Equal(t, 1, env.WhatsApp.templateCount())

	err = env.WebhookService.HandleDeliveryStatus(ctx, "delivered", sent.ProviderMessageID, "")
	require.NoError(t, err)

	updated, err := env.DeliveryRepo.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, updated.Status)
	require.NotNil(t, updated.DeliveredAt)

	err = env.WebhookService.HandleDeliveryStatus(ctx, "failed", "wamid-unknown", "1002: number blocked")
	assert.NoError(t, err)
}

func TestE2E_SessionWindowDemotion(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	hotel := helpers.CreateTestHotel(t, env.DB, "grand-plaza")
	dept := helpers.CreateTestDepartment(t, env.DB, hotel.ID, "housekeeping")
	helpers.CreateTestRoute(t, env.DB, hotel.ID, dept.ID, model.ChannelWhatsApp, "15550001111")

	// An open service window makes dispatch choose a session send, but the
	// provider rejects it, so the processor demotes the record and retries
	// as a template.
	require.NoError(t, env.WindowRepo.Touch(ctx, hotel.ID, "15550001111", time.Now()))
	env.WhatsApp.setSessionClosed(true)

	req, err := env.RequestService.Create(ctx, model.RequestCreateParams{
		HotelID:      hotel.ID,
		DepartmentID: dept.ID,
		RoomNumber:   "412",
		RequestType:  "Extra towels",
	})
	require.NoError(t, err)

	records := env.deliveriesForRequest(t, req.ID)
	require.Len(t, records, 1)
	assert.Equal(t, model.MessageTypeSession, records[0].MessageType)

	env.startProcessing(t)

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		rec, err := env.DeliveryRepo.GetByID(ctx, records[0].ID)
		return err == nil && rec.Status == model.DeliveryStatusSent
	}, "demoted delivery never reached SENT")

	rec, err := env.DeliveryRepo.GetByID(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeTemplate, rec.MessageType)
	assert.Equal(t, 1, env.WhatsApp.templateCount())
}

func TestE2E_InboundAcknowledgement(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	hotel := helpers.CreateTestHotel(t, env.DB, "grand-plaza")
	dept := helpers.CreateTestDepartment(t, env.DB, hotel.ID, "housekeeping")
	helpers.CreateTestRoute(t, env.DB, hotel.ID, dept.ID, model.ChannelWhatsApp, "15550001111")

	req, err := env.RequestService.Create(ctx, model.RequestCreateParams{
		HotelID:      hotel.ID,
		DepartmentID: dept.ID,
		RoomNumber:   "412",
		RequestType:  "Extra towels",
	})
	require.NoError(t, err)

	postback := "ack:" + req.PublicID.String()
	err = env.WebhookService.HandleInbound(ctx, "+1 (555) 000-1111", postback, "")
	require.NoError(t, err)

	acked, err := env.RequestRepo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)
	firstAck := *acked.AcknowledgedAt

	// Any inbound message opens the sender's 24h service window.
	window, err := env.WindowRepo.Get(ctx, hotel.ID, "15550001111")
	require.NoError(t, err)
	require.NotNil(t, window)

	records := env.deliveriesForRequest(t, req.ID)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].AcknowledgedAt)

	// A second tap on the same button is a no-op.
	err = env.WebhookService.HandleInbound(ctx, "+1 (555) 000-1111", postback, "")
	require.NoError(t, err)

	again, err := env.RequestRepo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusAcknowledged, again.Status)
	require.NotNil(t, again.AcknowledgedAt)
	assert.Equal(t, firstAck.Unix(), again.AcknowledgedAt.Unix())
}
