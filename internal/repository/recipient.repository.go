package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/time-capsule/internal/model"
	"github.com/nimasrn/time-capsule/pkg/pg"
)

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{
		db,
	}
}

func (r *RecipientRepository) Create(ctx context.Context, rec *model.CapsuleRecipient) (*model.CapsuleRecipient, error) {
	entity := toRecipientEntity(rec)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateRecipient
		}
		return nil, err
	}

	return toRecipientModel(entity), nil
}

func (r *RecipientRepository) FindByID(ctx context.Context, id int64) (*model.CapsuleRecipient, error) {
	var entity RecipientEntity
	if err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		return nil, notFound(err)
	}
	return toRecipientModel(&entity), nil
}

func (r *RecipientRepository) FindByToken(ctx context.Context, token uuid.UUID) (*model.CapsuleRecipient, error) {
	var entity RecipientEntity
	if err := r.Read(ctx).WithContext(ctx).Where("access_token = ?", token).First(&entity).Error; err != nil {
		return nil, notFound(err)
	}
	return toRecipientModel(&entity), nil
}

func (r *RecipientRepository) ListByCapsule(ctx context.Context, capsuleID int64) ([]*model.CapsuleRecipient, error) {
	var entities []*RecipientEntity
	if err := r.Read(ctx).WithContext(ctx).Where("capsule_id = ?", capsuleID).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toRecipientModels(entities), nil
}

// EnsureToken stores candidate as the access token unless one is already
// set, and returns whichever token the row ends up with.
func (r *RecipientRepository) EnsureToken(ctx context.Context, id int64, candidate uuid.UUID, at time.Time) (uuid.UUID, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Where("id = ? AND access_token IS NULL", id).
		Updates(map[string]interface{}{
			"access_token":       candidate,
			"token_generated_at": at,
		})
	if result.Error != nil {
		return uuid.Nil, result.Error
	}

	var entity RecipientEntity
	if err := r.Write(ctx).WithContext(ctx).Select("id", "access_token").Where("id = ?", id).First(&entity).Error; err != nil {
		return uuid.Nil, notFound(err)
	}
	if entity.AccessToken == nil {
		return uuid.Nil, ErrNotFound
	}
	return *entity.AccessToken, nil
}

// Transition moves the recipient to status `to` with a compare-and-set on the
// allowed source states. It reports false, without error, when the current
// state does not allow the move. Moving to sent also stamps sent_date.
func (r *RecipientRepository) Transition(ctx context.Context, id int64, to model.RecipientStatus, at time.Time) (bool, error) {
	from := model.TransitionSources(to)
	if len(from) == 0 {
		return false, nil
	}
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	updates := map[string]interface{}{"status": string(to)}
	if to == model.RecipientSent {
		updates["sent_date"] = at
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := r.Write(ctx).WithContext(ctx).Model(&RecipientEntity{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}
