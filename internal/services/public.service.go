package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/internal/scheduler"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/prom"
)

type TokenRecipientRepository interface {
	FindByToken(ctx context.Context, token uuid.UUID) (*model.CapsuleRecipient, error)
	Transition(ctx context.Context, id int64, to model.RecipientStatus, at time.Time) (bool, error)
}

type CapsuleReader interface {
	FindByID(ctx context.Context, id int64) (*model.Capsule, error)
}

type PrincipalReader interface {
	FindByID(ctx context.Context, id int64) (*model.Principal, error)
}

type GateConfig struct {
	Location *time.Location
	// BypassTimelock serves capsules before their delivery instant and
	// before they are unlocked. Staging only.
	BypassTimelock bool
	Now            func() time.Time
}

type GateDeps struct {
	Recipients    TokenRecipientRepository
	Capsules      CapsuleReader
	Principals    PrincipalReader
	Notifications NotificationRepository
}

// PublicCapsuleService resolves access tokens for unauthenticated readers.
// Every refusal is the same ErrNotFound; only the log says why.
type PublicCapsuleService struct {
	GateDeps
	config GateConfig
	log    logger.Logger
}

func NewPublicCapsuleService(deps GateDeps, config GateConfig, log logger.Logger) *PublicCapsuleService {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &PublicCapsuleService{GateDeps: deps, config: config, log: log}
}

func (s *PublicCapsuleService) Open(ctx context.Context, rawToken string) (*model.PublicCapsule, error) {
	token, err := uuid.Parse(rawToken)
	if err != nil {
		s.log.Debug("malformed access token")
		return nil, ErrNotFound
	}

	recipient, err := s.Recipients.FindByToken(ctx, token)
	if err != nil {
		s.log.Info("unknown access token", "error", err)
		return nil, mapNotFound(err)
	}
	log := s.log.With("capsule_id", recipient.CapsuleID, "recipient_id", recipient.ID)

	capsule, err := s.Capsules.FindByID(ctx, recipient.CapsuleID)
	if err != nil {
		log.Warn("capsule of access token not found", "error", err)
		return nil, mapNotFound(err)
	}

	now := s.config.Now()
	eta, err := scheduler.ETA(capsule, s.config.Location)
	if err != nil {
		log.Error("capsule has an invalid delivery schedule", "error", err)
		return nil, ErrNotFound
	}
	due := !eta.After(now)

	if !s.config.BypassTimelock {
		if !due {
			log.Warn("capsule accessed before delivery time", "eta", eta)
			return nil, ErrNotFound
		}
		if !capsule.IsUnlocked {
			log.Warn("capsule accessed while locked")
			return nil, ErrNotFound
		}
	}

	s.markOpened(ctx, log, capsule, recipient, due, now)

	var owner *model.Principal
	if s.Principals != nil {
		if owner, err = s.Principals.FindByID(ctx, capsule.OwnerID); err != nil {
			log.Warn("capsule owner lookup failed", "error", err)
			owner = nil
		}
	}
	return model.NewPublicCapsule(capsule, owner), nil
}

// markOpened moves the recipient to opened with a compare-and-set, so of two
// concurrent visits only one notifies the owner. A pending recipient is
// opened only once the delivery instant passed.
func (s *PublicCapsuleService) markOpened(ctx context.Context, log logger.Logger, capsule *model.Capsule, recipient *model.CapsuleRecipient, due bool, now time.Time) {
	from := recipient.Status
	switch {
	case from == model.RecipientSent:
	case from == model.RecipientPending && due:
	default:
		return
	}

	moved, err := s.Recipients.Transition(ctx, recipient.ID, model.RecipientOpened, now)
	if err != nil {
		log.Error("failed to mark capsule opened", "error", err)
		return
	}
	if !moved {
		return
	}
	recipient.Status = model.RecipientOpened
	prom.IncCapsuleOpened(string(from))

	message := fmt.Sprintf("Your time capsule '%s' was opened by %s.", capsule.Title, recipient.Email)
	if from == model.RecipientPending {
		log.Warn("capsule opened while recipient was still pending")
		message = fmt.Sprintf("Your time capsule '%s' was opened by %s (was pending).", capsule.Title, recipient.Email)
	}
	log.Info("capsule opened", "from", from)

	id := capsule.ID
	if _, err := s.Notifications.Create(ctx, &model.Notification{
		OwnerID:   capsule.OwnerID,
		CapsuleID: &id,
		Message:   message,
		Type:      model.NotificationCapsuleOpened,
	}); err != nil {
		log.Error("failed to create notification", "type", model.NotificationCapsuleOpened, "error", err)
	}
}
