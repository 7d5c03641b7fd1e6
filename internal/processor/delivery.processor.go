package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	gateway "github.com/adisharma29/tripcompass-sub000/internal/gateways"
	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/notify"
	"github.com/adisharma29/tripcompass-sub000/internal/queue"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/prom"
)

// DeliveryRepository is the ledger surface the processor needs.
type DeliveryRepository interface {
	GetByID(ctx context.Context, id int64) (*model.DeliveryRecord, error)
	MarkSent(ctx context.Context, id int64, providerMessageID string) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	DemoteToTemplate(ctx context.Context, id int64) error
}

// SubscriptionRepository resolves and retires push endpoints.
type SubscriptionRepository interface {
	GetPushSubscription(ctx context.Context, id int64) (*model.PushSubscription, error)
	DeactivatePushSubscription(ctx context.Context, endpoint string) error
}

// WhatsAppSender is the provider surface for WhatsApp sends.
type WhatsAppSender interface {
	SendTemplate(ctx context.Context, destination, templateID string, params []string, postbacks []gateway.Postback) (string, error)
	SendSession(ctx context.Context, destination string, message interface{}) (string, error)
}

// EmailSender is the provider surface for transactional email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string, tags []gateway.EmailTag) (string, error)
}

// PushSender is the provider surface for web push.
type PushSender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload []byte) error
}

// JobRequeuer re-enqueues a job, used when a session send is demoted to a
// template send.
type JobRequeuer interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// DeliveryProcessor executes delivery jobs against the providers and drives
// each job's delivery record through its lifecycle. Error classification
// decides the queue outcome: transient provider errors are retried,
// permanent ones are recorded and dropped.
type DeliveryProcessor struct {
	deliveries    DeliveryRepository
	subscriptions SubscriptionRepository
	whatsapp      WhatsAppSender
	email         EmailSender
	push          PushSender
	requeue       JobRequeuer
	idempotency   *IdempotencyService
}

func NewDeliveryProcessor(
	deliveries DeliveryRepository,
	subscriptions SubscriptionRepository,
	whatsapp WhatsAppSender,
	email EmailSender,
	push PushSender,
	requeue JobRequeuer,
	idempotency *IdempotencyService,
) *DeliveryProcessor {
	return &DeliveryProcessor{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		whatsapp:      whatsapp,
		email:         email,
		push:          push,
		requeue:       requeue,
		idempotency:   idempotency,
	}
}

func (p *DeliveryProcessor) GetType() string {
	return "delivery"
}

func (p *DeliveryProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var job notify.DeliveryJob
	if err := json.Unmarshal(queueMessage.Data, &job); err != nil {
		logger.Error("failed to unmarshal delivery job", "error", err)
		return err
	}

	jobID := p.jobID(&job, queueMessage)

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			return nil
		case errors.Is(err, ErrMaxRetriesExceeded):
			if job.DeliveryID != 0 {
				_ = p.deliveries.MarkFailed(ctx, job.DeliveryID, "max retries exceeded")
			}
			return nil
		case errors.Is(err, ErrLockAcquireFailed):
			return errors.New("lock held by another consumer")
		default:
			return err
		}
	}
	defer p.idempotency.ReleaseLock(ctx, procCtx)

	var processErr error
	switch job.Kind {
	case notify.JobWhatsAppTemplate:
		processErr = p.processWhatsAppTemplate(ctx, &job)
	case notify.JobWhatsAppSession:
		processErr = p.processWhatsAppSession(ctx, &job)
	case notify.JobEmail:
		processErr = p.processEmail(ctx, &job)
	case notify.JobPush:
		processErr = p.processPush(ctx, &job)
	default:
		logger.Error("unknown delivery job kind", "kind", job.Kind)
		prom.IncDeliveryAttempt(string(job.Kind), "invalid")
		return nil
	}

	if processErr == nil {
		_ = p.idempotency.MarkSuccess(ctx, procCtx)
		return nil
	}

	if gateway.IsTransient(processErr) {
		_ = p.idempotency.MarkFailure(ctx, procCtx, processErr)
		return processErr
	}

	// Permanent failure: the record already carries the error, retrying
	// cannot help, so the job is acked.
	_ = p.idempotency.MarkSuccess(ctx, procCtx)
	return nil
}

func (p *DeliveryProcessor) jobID(job *notify.DeliveryJob, msg *queue.Message) string {
	if job.DeliveryID != 0 {
		return strconv.FormatInt(job.DeliveryID, 10)
	}
	return "push:" + msg.ID
}

// loadRecord fetches the job's delivery record and reports whether the send
// still needs to happen.
func (p *DeliveryProcessor) loadRecord(ctx context.Context, deliveryID int64) (*model.DeliveryRecord, bool, error) {
	rec, err := p.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, false, err
	}
	if rec.Status == model.DeliveryStatusSent || rec.Status == model.DeliveryStatusDelivered {
		return rec, false, nil
	}
	return rec, true, nil
}

func (p *DeliveryProcessor) processWhatsAppTemplate(ctx context.Context, job *notify.DeliveryJob) error {
	rec, pending, err := p.loadRecord(ctx, job.DeliveryID)
	if err != nil {
		return fmt.Errorf("load delivery %d: %w", job.DeliveryID, err)
	}
	if !pending {
		return nil
	}

	msgID, err := p.whatsapp.SendTemplate(ctx, rec.Target, job.TemplateID, job.Params, postbacks(job.Postbacks))
	return p.finish(ctx, rec, "whatsapp", msgID, err)
}

func (p *DeliveryProcessor) processWhatsAppSession(ctx context.Context, job *notify.DeliveryJob) error {
	rec, pending, err := p.loadRecord(ctx, job.DeliveryID)
	if err != nil {
		return fmt.Errorf("load delivery %d: %w", job.DeliveryID, err)
	}
	if !pending {
		return nil
	}

	msgID, err := p.whatsapp.SendSession(ctx, rec.Target, sessionQuickReply(job))
	if errors.Is(err, gateway.ErrServiceWindowExpired) {
		return p.demote(ctx, rec, job)
	}
	return p.finish(ctx, rec, "whatsapp", msgID, err)
}

// demote flips the record to a template send and re-enqueues the job as a
// template job. The original session attempt is not a delivery failure.
func (p *DeliveryProcessor) demote(ctx context.Context, rec *model.DeliveryRecord, job *notify.DeliveryJob) error {
	logger.Info("service window expired, demoting to template",
		"delivery", rec.ID, "target", rec.Target)

	if err := p.deliveries.DemoteToTemplate(ctx, rec.ID); err != nil {
		return fmt.Errorf("demote delivery %d: %w", rec.ID, err)
	}

	templateJob := &notify.DeliveryJob{
		Kind:       notify.JobWhatsAppTemplate,
		DeliveryID: rec.ID,
		TemplateID: job.TemplateID,
		Params:     job.Params,
		Postbacks:  job.Postbacks,
	}
	if _, err := p.requeue.PublishJSON(ctx, templateJob, nil); err != nil {
		return fmt.Errorf("requeue template job for delivery %d: %w", rec.ID, err)
	}

	prom.IncDeliveryAttempt("whatsapp", "demoted")
	return nil
}

func (p *DeliveryProcessor) processEmail(ctx context.Context, job *notify.DeliveryJob) error {
	rec, pending, err := p.loadRecord(ctx, job.DeliveryID)
	if err != nil {
		return fmt.Errorf("load delivery %d: %w", job.DeliveryID, err)
	}
	if !pending {
		return nil
	}

	id, err := p.email.Send(ctx, rec.Target, job.Subject, job.HTML, []gateway.EmailTag{
		{Name: "event_type", Value: string(rec.EventType)},
	})
	return p.finish(ctx, rec, "email", id, err)
}

func (p *DeliveryProcessor) processPush(ctx context.Context, job *notify.DeliveryJob) error {
	sub, err := p.subscriptions.GetPushSubscription(ctx, job.SubscriptionID)
	if err != nil {
		logger.Warn("push subscription not found, dropping", "subscription", job.SubscriptionID)
		return nil
	}
	if !sub.IsActive {
		return nil
	}

	err = p.push.Send(ctx, sub, []byte(job.PushPayload))
	if errors.Is(err, gateway.ErrSubscriptionGone) {
		logger.Info("push endpoint gone, deactivating", "subscription", sub.ID)
		if err := p.subscriptions.DeactivatePushSubscription(ctx, sub.Endpoint); err != nil {
			logger.Error("failed to deactivate subscription", "subscription", sub.ID, "error", err)
		}
		prom.IncDeliveryAttempt("push", "gone")
		return nil
	}
	if err != nil {
		result := "permanent"
		if gateway.IsTransient(err) {
			result = "transient"
		}
		prom.IncDeliveryAttempt("push", result)
		return err
	}

	prom.IncDeliveryAttempt("push", "sent")
	return nil
}

// finish records the provider outcome on the delivery record.
func (p *DeliveryProcessor) finish(ctx context.Context, rec *model.DeliveryRecord, channel, providerMessageID string, sendErr error) error {
	if sendErr == nil {
		if err := p.deliveries.MarkSent(ctx, rec.ID, providerMessageID); err != nil {
			logger.Error("failed to mark delivery sent", "delivery", rec.ID, "error", err)
		}
		prom.IncDeliveryAttempt(channel, "sent")
		return nil
	}

	if markErr := p.deliveries.MarkFailed(ctx, rec.ID, sendErr.Error()); markErr != nil {
		logger.Error("failed to mark delivery failed", "delivery", rec.ID, "error", markErr)
	}

	result := "permanent"
	if gateway.IsTransient(sendErr) {
		result = "transient"
	}
	prom.IncDeliveryAttempt(channel, result)

	logger.Error("delivery send failed",
		"delivery", rec.ID, "channel", channel, "result", result, "error", sendErr)
	return sendErr
}

func postbacks(texts []string) []gateway.Postback {
	out := make([]gateway.Postback, 0, len(texts))
	for i, text := range texts {
		out = append(out, gateway.Postback{Index: i, Text: text})
	}
	return out
}

func sessionQuickReply(job *notify.DeliveryJob) gateway.SessionQuickReply {
	options := make([]gateway.SessionReplyOption, 0, len(job.ReplyOptions))
	for i, title := range job.ReplyOptions {
		option := gateway.SessionReplyOption{Type: "text", Title: title}
		if i < len(job.Postbacks) {
			option.PostbackText = job.Postbacks[i]
		}
		options = append(options, option)
	}
	return gateway.SessionQuickReply{
		Type:    "quick_reply",
		MsgID:   strconv.FormatInt(job.DeliveryID, 10),
		Content: gateway.SessionContent{Type: "text", Text: job.SessionText},
		Options: options,
	}
}
