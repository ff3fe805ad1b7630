package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/nimasrn/time-capsule/internal/mail"
	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/internal/queue"
	"github.com/nimasrn/time-capsule/internal/repository"
	"github.com/nimasrn/time-capsule/internal/scheduler"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/prom"
)

const failureLogMessage = "Email sending failed."

// Outcomes reported to metrics.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeDropped = "dropped"
	OutcomeError   = "error"
)

type CapsuleRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Capsule, error)
	MarkDelivered(ctx context.Context, id int64) error
}

type RecipientRepository interface {
	FindByID(ctx context.Context, id int64) (*model.CapsuleRecipient, error)
	EnsureToken(ctx context.Context, id int64, candidate uuid.UUID, at time.Time) (uuid.UUID, error)
	Transition(ctx context.Context, id int64, to model.RecipientStatus, at time.Time) (bool, error)
}

type PrincipalRepository interface {
	FindByID(ctx context.Context, id int64) (*model.Principal, error)
}

type DeliveryLogRepository interface {
	Append(ctx context.Context, l *model.DeliveryLog) (*model.DeliveryLog, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type DeliveryConfig struct {
	FrontendBaseURL string
	From            string
	FromName        string
	Location        *time.Location
	CommitRetries   uint64
	CommitBackoff   time.Duration
	Now             func() time.Time
}

type DeliveryDeps struct {
	Capsules      CapsuleRepository
	Recipients    RecipientRepository
	Principals    PrincipalRepository
	Logs          DeliveryLogRepository
	Notifications NotificationRepository
	Tx            Transactor
	Sender        mail.Sender
	Lock          *DeliveryLock
}

// CapsuleDeliveryProcessor runs one capsule delivery job: it issues the
// access token, emails the view link and records the outcome.
type CapsuleDeliveryProcessor struct {
	DeliveryDeps
	config DeliveryConfig
	log    logger.Logger
}

func NewCapsuleDeliveryProcessor(deps DeliveryDeps, config DeliveryConfig, log logger.Logger) *CapsuleDeliveryProcessor {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.CommitRetries == 0 {
		config.CommitRetries = 3
	}
	if config.CommitBackoff <= 0 {
		config.CommitBackoff = 200 * time.Millisecond
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CapsuleDeliveryProcessor{DeliveryDeps: deps, config: config, log: log}
}

func (p *CapsuleDeliveryProcessor) GetType() string {
	return model.DeliveryJobName
}

func (p *CapsuleDeliveryProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var job model.DeliveryJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		prom.IncDeliveryOutcome(OutcomeDropped)
		return queue.Permanent(fmt.Errorf("decode delivery job: %w", err))
	}

	if p.Lock != nil {
		lease, err := p.Lock.Acquire(ctx, job.Key())
		if err != nil {
			p.log.Info("delivery lock busy, retrying later", "job", job.Key(), "error", err)
			return err
		}
		defer func() {
			if _, err := p.Lock.Release(context.WithoutCancel(ctx), lease); err != nil {
				p.log.Warn("failed to release delivery lock", "job", job.Key(), "error", err)
			}
		}()
	}

	outcome, err := p.deliver(ctx, job, msg.Attempts)
	prom.IncDeliveryOutcome(outcome)
	return err
}

func (p *CapsuleDeliveryProcessor) deliver(ctx context.Context, job model.DeliveryJob, attempt int) (string, error) {
	log := p.log.With("capsule_id", job.CapsuleID, "recipient_id", job.RecipientID, "attempt", attempt)

	capsule, recipient, err := p.load(ctx, job)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("capsule or recipient no longer exists, dropping delivery", "error", err)
		return OutcomeDropped, queue.Permanent(err)
	}
	if err != nil {
		return OutcomeError, err
	}

	if capsule.IsDelivered && (recipient.Status == model.RecipientSent || recipient.Status == model.RecipientOpened) {
		log.Info("capsule already delivered to recipient, skipping", "status", recipient.Status)
		return OutcomeSkipped, nil
	}

	token, err := p.token(ctx, recipient)
	if errors.Is(err, repository.ErrNotFound) {
		return OutcomeDropped, queue.Permanent(err)
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("issue access token: %w", err)
	}

	email, err := p.compose(ctx, capsule, recipient, token)
	if err != nil {
		return OutcomeError, err
	}

	ok, message := p.Sender.Send(ctx, email)
	if !ok {
		p.recordFailure(ctx, log, capsule, recipient, message)
		return OutcomeFailed, fmt.Errorf("email sending failed: %s", message)
	}

	p.recordSuccess(ctx, log, capsule, recipient, message)
	return OutcomeSent, nil
}

func (p *CapsuleDeliveryProcessor) load(ctx context.Context, job model.DeliveryJob) (*model.Capsule, *model.CapsuleRecipient, error) {
	capsule, err := p.Capsules.FindByID(ctx, job.CapsuleID)
	if err != nil {
		return nil, nil, fmt.Errorf("capsule %d: %w", job.CapsuleID, err)
	}
	recipient, err := p.Recipients.FindByID(ctx, job.RecipientID)
	if err != nil {
		return nil, nil, fmt.Errorf("recipient %d: %w", job.RecipientID, err)
	}
	if recipient.CapsuleID != capsule.ID {
		return nil, nil, fmt.Errorf("recipient %d of capsule %d: %w", recipient.ID, capsule.ID, repository.ErrNotFound)
	}
	return capsule, recipient, nil
}

func (p *CapsuleDeliveryProcessor) token(ctx context.Context, recipient *model.CapsuleRecipient) (uuid.UUID, error) {
	if recipient.AccessToken != nil {
		return *recipient.AccessToken, nil
	}
	token, err := p.Recipients.EnsureToken(ctx, recipient.ID, uuid.New(), p.config.Now())
	if err != nil {
		return uuid.Nil, err
	}
	recipient.AccessToken = &token
	p.log.Info("access token issued", "recipient_id", recipient.ID)
	return token, nil
}

func (p *CapsuleDeliveryProcessor) compose(ctx context.Context, capsule *model.Capsule, recipient *model.CapsuleRecipient, token uuid.UUID) (mail.Email, error) {
	var owner *model.Principal
	if p.Principals != nil {
		var err error
		if owner, err = p.Principals.FindByID(ctx, capsule.OwnerID); err != nil {
			p.log.Warn("capsule owner lookup failed, using fallback name", "capsule_id", capsule.ID, "error", err)
			owner = nil
		}
	}
	text, _ := capsule.FirstText()

	email, err := mail.ComposeCapsuleLink(mail.CapsuleLink{
		To:        recipient.Email,
		Title:     capsule.Title,
		OwnerName: owner.SenderName(),
		Text:      text,
		Link:      mail.ViewURL(p.config.FrontendBaseURL, token.String()),
	})
	if err != nil {
		return mail.Email{}, fmt.Errorf("compose email: %w", err)
	}
	email.MessageID = model.DeliveryJob{CapsuleID: capsule.ID, RecipientID: recipient.ID}.Key()
	email.From = p.config.From
	email.FromName = p.config.FromName
	return email, nil
}

// recordSuccess commits the delivered state. The email is already out, so a
// commit that keeps failing is logged for reconciliation and never retried
// through the queue.
func (p *CapsuleDeliveryProcessor) recordSuccess(ctx context.Context, log logger.Logger, capsule *model.Capsule, recipient *model.CapsuleRecipient, message string) {
	now := p.config.Now()

	backoff := retry.WithMaxRetries(p.config.CommitRetries, retry.NewConstant(p.config.CommitBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := p.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
			if err := p.Capsules.MarkDelivered(ctx, capsule.ID); err != nil {
				return err
			}
			moved, err := p.Recipients.Transition(ctx, recipient.ID, model.RecipientSent, now)
			if err != nil {
				return err
			}
			if !moved {
				log.Warn("recipient status not moved to sent", "status", recipient.Status)
			}
			return nil
		})
		if err == nil || errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		log.Error("email sent but delivery state was not saved, capsule needs reconciliation", "error", err)
	}

	if eta, err := scheduler.ETA(capsule, p.config.Location); err == nil && now.After(eta) {
		prom.ObserveDeliveryLag(now.Sub(eta).Seconds())
	}

	if _, err := p.Logs.Append(ctx, &model.DeliveryLog{
		CapsuleID:      capsule.ID,
		AttemptedAt:    now,
		Method:         model.DeliveryMethodEmail,
		RecipientEmail: recipient.Email,
		PrincipalID:    recipient.PrincipalID,
		Status:         model.DeliveryLogSuccess,
		Details:        message,
	}); err != nil {
		log.Error("failed to append delivery log", "error", err)
	}

	p.notify(ctx, log, capsule, model.NotificationDeliverySuccess,
		fmt.Sprintf("Your time capsule '%s' has been successfully delivered to %s.", capsule.Title, recipient.Email))

	log.Info("capsule delivered", "recipient", recipient.Email)
}

func (p *CapsuleDeliveryProcessor) recordFailure(ctx context.Context, log logger.Logger, capsule *model.Capsule, recipient *model.CapsuleRecipient, message string) {
	now := p.config.Now()

	if _, err := p.Recipients.Transition(ctx, recipient.ID, model.RecipientFailed, now); err != nil {
		log.Error("failed to mark recipient failed", "error", err)
	}

	p.notify(ctx, log, capsule, model.NotificationDeliveryFail,
		fmt.Sprintf("Failed to deliver your time capsule '%s' to %s. Reason: %s", capsule.Title, recipient.Email, message))

	if _, err := p.Logs.Append(ctx, &model.DeliveryLog{
		CapsuleID:      capsule.ID,
		AttemptedAt:    now,
		Method:         model.DeliveryMethodEmail,
		RecipientEmail: recipient.Email,
		PrincipalID:    recipient.PrincipalID,
		Status:         model.DeliveryLogFailure,
		ErrorMessage:   failureLogMessage,
		Details:        message,
	}); err != nil {
		log.Error("failed to append delivery log", "error", err)
	}

	log.Error("email sending failed", "recipient", recipient.Email, "reason", message)
}

func (p *CapsuleDeliveryProcessor) notify(ctx context.Context, log logger.Logger, capsule *model.Capsule, typ model.NotificationType, message string) {
	id := capsule.ID
	if _, err := p.Notifications.Create(ctx, &model.Notification{
		OwnerID:   capsule.OwnerID,
		CapsuleID: &id,
		Message:   message,
		Type:      typ,
	}); err != nil {
		log.Error("failed to create notification", "type", typ, "error", err)
	}
}
