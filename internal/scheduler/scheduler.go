package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/pkg/logger"
)

const DefaultGraceDelay = 10 * time.Second

// Submitter is the job backbone as the scheduler sees it.
type Submitter interface {
	PublishAt(ctx context.Context, jobID string, data []byte, metadata map[string]string, at time.Time) error
	PublishAfter(ctx context.Context, jobID string, data []byte, metadata map[string]string, delay time.Duration) error
	Cancel(ctx context.Context, jobID string) (bool, error)
}

type Config struct {
	Location   *time.Location
	GraceDelay time.Duration
	Now        func() time.Time
}

type Scheduler struct {
	submitter Submitter
	loc       *time.Location
	grace     time.Duration
	now       func() time.Time
	log       logger.Logger
}

func New(submitter Submitter, cfg Config, log logger.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		submitter: submitter,
		loc:       cfg.Location,
		grace:     cfg.GraceDelay,
		now:       cfg.Now,
		log:       log,
	}
}

// Location is the zone capsule dates are read in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Schedule submits the delivery job for one recipient. A due date in the past
// runs after the grace delay, never inline. An unschedulable date is logged
// and skipped so the capsule itself is kept.
func (s *Scheduler) Schedule(ctx context.Context, c *model.Capsule, r *model.CapsuleRecipient) error {
	eta, err := ETA(c, s.loc)
	if err != nil {
		s.log.Warn("delivery not scheduled, capsule needs reconciliation",
			"capsule_id", c.ID,
			"recipient_id", r.ID,
			"delivery_date", c.DeliveryDate,
			"delivery_time", c.DeliveryTime,
			"error", err,
		)
		return nil
	}

	job := model.DeliveryJob{CapsuleID: c.ID, RecipientID: r.ID}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode delivery job: %w", err)
	}
	metadata := map[string]string{"type": model.DeliveryJobName}

	now := s.now()
	if eta.After(now) {
		err = s.submitter.PublishAt(ctx, job.Key(), data, metadata, eta)
	} else {
		err = s.submitter.PublishAfter(ctx, job.Key(), data, metadata, s.grace)
	}
	if err != nil {
		return fmt.Errorf("submit %s: %w", job.Key(), err)
	}

	s.log.Info("delivery scheduled",
		"capsule_id", c.ID,
		"recipient_id", r.ID,
		"eta", eta,
		"immediate", !eta.After(now),
	)
	return nil
}

// Cancel drops the pending jobs of the given recipients. Jobs already handed
// to a worker still run and find their rows gone.
func (s *Scheduler) Cancel(ctx context.Context, capsuleID int64, recipientIDs ...int64) error {
	var errs []error
	for _, id := range recipientIDs {
		job := model.DeliveryJob{CapsuleID: capsuleID, RecipientID: id}
		if _, err := s.submitter.Cancel(ctx, job.Key()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
