package repository

import (
	"context"

	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/pkg/pg"
	"gorm.io/gorm"
)

type CapsuleRepository struct {
	*pg.DB
}

func NewCapsuleRepository(db *pg.DB) *CapsuleRepository {
	return &CapsuleRepository{
		db,
	}
}

func orderedContents(db *gorm.DB) *gorm.DB {
	return db.Order("display_order ASC, id ASC")
}

func (r *CapsuleRepository) Create(ctx context.Context, c *model.Capsule) (*model.Capsule, error) {
	entity, err := toCapsuleEntity(c)
	if err != nil {
		return nil, err
	}

	if err := r.Write(ctx).WithContext(ctx).Omit("Contents", "Recipients").Create(entity).Error; err != nil {
		return nil, err
	}

	return toCapsuleModel(entity), nil
}

// AddContents stores contents in the given order.
func (r *CapsuleRepository) AddContents(ctx context.Context, capsuleID int64, contents []*model.CapsuleContent) ([]*model.CapsuleContent, error) {
	if len(contents) == 0 {
		return nil, nil
	}
	entities := make([]*ContentEntity, len(contents))
	for i, c := range contents {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		entities[i] = toContentEntity(capsuleID, c)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(&entities).Error; err != nil {
		return nil, err
	}

	return toContentModels(entities), nil
}

// FindByID loads the capsule with its contents (by display order) and recipients.
func (r *CapsuleRepository) FindByID(ctx context.Context, id int64) (*model.Capsule, error) {
	var entity CapsuleEntity
	err := r.Read(ctx).WithContext(ctx).
		Preload("Contents", orderedContents).
		Preload("Recipients").
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		return nil, notFound(err)
	}
	return toCapsuleModel(&entity), nil
}

// FindForOwner is FindByID restricted to one owner. A foreign capsule is ErrNotFound.
func (r *CapsuleRepository) FindForOwner(ctx context.Context, id, ownerID int64) (*model.Capsule, error) {
	var entity CapsuleEntity
	err := r.Read(ctx).WithContext(ctx).
		Preload("Contents", orderedContents).
		Preload("Recipients").
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&entity).
		Error
	if err != nil {
		return nil, notFound(err)
	}
	return toCapsuleModel(&entity), nil
}

// List returns the owner's capsules, newest first.
func (r *CapsuleRepository) List(ctx context.Context, f model.CapsuleFilter) ([]*model.Capsule, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&CapsuleEntity{}).Where("owner_id = ?", f.OwnerID)
	if !f.IncludeArchived {
		q = q.Where("is_archived = ?", false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*CapsuleEntity
	err := q.Preload("Contents", orderedContents).
		Preload("Recipients").
		Order("creation_date DESC, id DESC").
		Limit(pageLimit(f.Limit)).
		Offset(offset).
		Find(&entities).
		Error
	if err != nil {
		return nil, 0, err
	}

	return toCapsuleModels(entities), total, nil
}

// MarkDelivered sets is_delivered and is_unlocked together.
func (r *CapsuleRepository) MarkDelivered(ctx context.Context, id int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&CapsuleEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_delivered": true,
			"is_unlocked":  true,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the capsule and everything hanging off it. Notifications
// keep their row with the capsule reference cleared. The blob references of
// the removed contents are returned so the caller can release them.
func (r *CapsuleRepository) Delete(ctx context.Context, id int64) ([]model.BlobRef, error) {
	var blobs []model.BlobRef

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		db := r.Write(ctx).WithContext(ctx)

		var contents []*ContentEntity
		if err := db.Where("capsule_id = ? AND file_key IS NOT NULL", id).Find(&contents).Error; err != nil {
			return err
		}
		for _, c := range contents {
			if blob := toContentModel(c).Blob; blob != nil {
				blobs = append(blobs, *blob)
			}
		}

		if err := db.Where("capsule_id = ?", id).Delete(&ContentEntity{}).Error; err != nil {
			return err
		}
		if err := db.Where("capsule_id = ?", id).Delete(&RecipientEntity{}).Error; err != nil {
			return err
		}
		if err := db.Where("capsule_id = ?", id).Delete(&DeliveryLogEntity{}).Error; err != nil {
			return err
		}
		if err := db.Model(&NotificationEntity{}).Where("capsule_id = ?", id).Update("capsule_id", nil).Error; err != nil {
			return err
		}

		result := db.Where("id = ?", id).Delete(&CapsuleEntity{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blobs, nil
}
