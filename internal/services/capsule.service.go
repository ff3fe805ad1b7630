package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/internal/repository"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/prom"
	"github.com/nimasrn/time-capsule/pkg/storage"
)

type CapsuleRepository interface {
	Create(ctx context.Context, c *model.Capsule) (*model.Capsule, error)
	AddContents(ctx context.Context, capsuleID int64, contents []*model.CapsuleContent) ([]*model.CapsuleContent, error)
	FindForOwner(ctx context.Context, id, ownerID int64) (*model.Capsule, error)
	List(ctx context.Context, f model.CapsuleFilter) ([]*model.Capsule, int64, error) // results, totalCount
	Delete(ctx context.Context, id int64) ([]model.BlobRef, error)
}

type RecipientRepository interface {
	Create(ctx context.Context, r *model.CapsuleRecipient) (*model.CapsuleRecipient, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
}

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DeliveryScheduler plans and cancels delivery jobs.
type DeliveryScheduler interface {
	Schedule(ctx context.Context, c *model.Capsule, r *model.CapsuleRecipient) error
	Cancel(ctx context.Context, capsuleID int64, recipientIDs ...int64) error
}

type CapsuleDeps struct {
	Capsules      CapsuleRepository
	Recipients    RecipientRepository
	Notifications NotificationRepository
	Tx            Transactor
	Scheduler     DeliveryScheduler
	Blobs         storage.Storage
}

type CapsuleService struct {
	CapsuleDeps
	log logger.Logger
	now func() time.Time
}

func NewCapsuleService(deps CapsuleDeps, log logger.Logger) *CapsuleService {
	return &CapsuleService{CapsuleDeps: deps, log: log, now: time.Now}
}

// Create seals a capsule: blobs are uploaded first, then the capsule, its
// contents and its recipient are written in one transaction. Uploaded blobs
// are released when the transaction fails. The delivery is scheduled once
// after commit.
func (s *CapsuleService) Create(ctx context.Context, req model.CapsuleCreateRequest) (*model.Capsule, error) {
	if err := normalizeCreate(&req); err != nil {
		return nil, err
	}

	uploaded, err := s.upload(ctx, req.Files)
	if err != nil {
		return nil, err
	}

	contents, err := buildContents(req.TextContent, uploaded)
	if err != nil {
		s.release(uploaded)
		return nil, err
	}

	var (
		capsule   *model.Capsule
		recipient *model.CapsuleRecipient
	)
	err = s.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		created, err := s.Capsules.Create(ctx, &model.Capsule{
			OwnerID:                req.OwnerID,
			Title:                  req.Title,
			Description:            req.Description,
			CreatedAt:              s.now(),
			DeliveryDate:           req.DeliveryDate,
			DeliveryTime:           req.DeliveryTime,
			DeliveryMethod:         req.DeliveryMethod,
			PrivacyStatus:          req.PrivacyStatus,
			TransferOnInactivity:   req.TransferOnInactivity,
			TransferRecipientEmail: req.TransferRecipientEmail,
		})
		if err != nil {
			return fmt.Errorf("create capsule: %w", err)
		}

		stored, err := s.Capsules.AddContents(ctx, created.ID, contents)
		if err != nil {
			return fmt.Errorf("add contents: %w", err)
		}
		created.Contents = stored

		recipient, err = s.Recipients.Create(ctx, &model.CapsuleRecipient{
			CapsuleID: created.ID,
			Email:     req.RecipientEmail,
			Status:    model.RecipientPending,
		})
		if errors.Is(err, repository.ErrDuplicateRecipient) {
			verr := &ValidationError{}
			verr.Add("recipient_email", "This recipient is already attached to the capsule.")
			return verr
		}
		if err != nil {
			return fmt.Errorf("create recipient: %w", err)
		}
		created.Recipients = []*model.CapsuleRecipient{recipient}

		capsule = created
		return nil
	})
	if err != nil {
		s.release(uploaded)
		return nil, err
	}

	log := s.log.With("capsule_id", capsule.ID, "owner_id", capsule.OwnerID)
	log.Info("capsule created", "contents", len(capsule.Contents), "recipient", recipient.Email)
	prom.IncCapsuleCreated()

	if err := s.Scheduler.Schedule(ctx, capsule, recipient); err != nil {
		log.Error("failed to schedule capsule delivery, capsule needs reconciliation", "recipient_id", recipient.ID, "error", err)
	}

	s.notify(ctx, log, capsule.OwnerID, &capsule.ID, model.NotificationCapsuleCreated,
		fmt.Sprintf("Your time capsule '%s' has been successfully created and sealed.", capsule.Title))

	return capsule, nil
}

// buildContents orders the text first, then the files in upload order.
func buildContents(text string, blobs []uploadedBlob) ([]*model.CapsuleContent, error) {
	var contents []*model.CapsuleContent
	if text != "" {
		c, err := model.NewTextContent(text, 0)
		if err != nil {
			return nil, err
		}
		contents = append(contents, c)
	}
	start := len(contents)
	for i, b := range blobs {
		c, err := model.NewBlobContent(b.contentType, model.BlobRef{Key: b.Key, URL: b.URL}, start+i)
		if err != nil {
			return nil, err
		}
		contents = append(contents, c)
	}
	return contents, nil
}

type uploadedBlob struct {
	storage.Object
	contentType model.ContentType
}

func (s *CapsuleService) upload(ctx context.Context, files []model.Upload) ([]uploadedBlob, error) {
	uploaded := make([]uploadedBlob, 0, len(files))
	for _, f := range files {
		obj, err := s.Blobs.Put(ctx, f.Name, f.ContentType, f.Body)
		if err != nil {
			s.release(uploaded)
			return nil, fmt.Errorf("upload %s: %w", f.Name, err)
		}
		uploaded = append(uploaded, uploadedBlob{Object: obj, contentType: model.ContentTypeForFile(f.Name)})
	}
	return uploaded, nil
}

// release deletes blobs no row points at. It runs detached from the request
// so a cancelled request still cleans up.
func (s *CapsuleService) release(blobs []uploadedBlob) {
	refs := make([]model.BlobRef, len(blobs))
	for i, b := range blobs {
		refs[i] = model.BlobRef{Key: b.Key, URL: b.URL}
	}
	s.releaseRefs(context.Background(), refs)
}

func (s *CapsuleService) releaseRefs(ctx context.Context, refs []model.BlobRef) {
	for _, ref := range refs {
		if err := s.Blobs.Delete(ctx, ref.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.Error("failed to release blob", "key", ref.Key, "error", err)
		}
	}
}

func (s *CapsuleService) List(ctx context.Context, ownerID int64, limit, offset int) ([]*model.Capsule, int64, error) {
	return s.Capsules.List(ctx, model.CapsuleFilter{OwnerID: ownerID, Limit: limit, Offset: offset})
}

func (s *CapsuleService) Get(ctx context.Context, ownerID, id int64) (*model.Capsule, error) {
	c, err := s.Capsules.FindForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return c, nil
}

// Delete removes an owned capsule. Pending deliveries are cancelled first; a
// job that already left the delayed set finds no rows and is dropped.
func (s *CapsuleService) Delete(ctx context.Context, ownerID, id int64) (*model.Capsule, error) {
	c, err := s.Capsules.FindForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	log := s.log.With("capsule_id", c.ID, "owner_id", ownerID)

	recipientIDs := make([]int64, len(c.Recipients))
	for i, r := range c.Recipients {
		recipientIDs[i] = r.ID
	}
	if err := s.Scheduler.Cancel(ctx, c.ID, recipientIDs...); err != nil {
		log.Warn("failed to cancel scheduled deliveries", "error", err)
	}

	blobs, err := s.Capsules.Delete(ctx, c.ID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	s.releaseRefs(context.WithoutCancel(ctx), blobs)
	log.Info("capsule deleted", "released_blobs", len(blobs))

	s.notify(ctx, log, ownerID, nil, model.NotificationSystemAlert,
		fmt.Sprintf("Your time capsule '%s' and any scheduled deliveries have been successfully canceled and deleted.", c.Title))

	return c, nil
}

func (s *CapsuleService) notify(ctx context.Context, log logger.Logger, ownerID int64, capsuleID *int64, typ model.NotificationType, message string) {
	if _, err := s.Notifications.Create(ctx, &model.Notification{
		OwnerID:   ownerID,
		CapsuleID: capsuleID,
		Message:   message,
		Type:      typ,
	}); err != nil {
		log.Error("failed to create notification", "type", typ, "error", err)
	}
}
