package repository

import (
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
)

type ContentEntity struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;column:id"`
	CapsuleID   int64     `gorm:"column:capsule_id;not null;index"`
	ContentType string    `gorm:"column:content_type;size:20;not null"`
	TextContent *string   `gorm:"column:text_content;type:text"`
	FileKey     *string   `gorm:"column:file_key;size:512"`
	FileURL     *string   `gorm:"column:file_url;size:1024"`
	Order       int       `gorm:"column:display_order;not null;default:0"`
	UploadedAt  time.Time `gorm:"column:uploaded_at;autoCreateTime"`
}

func (ContentEntity) TableName() string {
	return "capsule_contents"
}

func toContentEntity(capsuleID int64, c *model.CapsuleContent) *ContentEntity {
	e := &ContentEntity{
		ID:          c.ID,
		CapsuleID:   capsuleID,
		ContentType: string(c.Type),
		Order:       c.Order,
		UploadedAt:  c.UploadedAt,
	}
	if c.Text != "" {
		text := c.Text
		e.TextContent = &text
	}
	if c.Blob != nil {
		key, url := c.Blob.Key, c.Blob.URL
		e.FileKey = &key
		e.FileURL = &url
	}
	return e
}

func toContentModel(e *ContentEntity) *model.CapsuleContent {
	if e == nil {
		return nil
	}
	c := &model.CapsuleContent{
		ID:         e.ID,
		CapsuleID:  e.CapsuleID,
		Type:       model.ContentType(e.ContentType),
		Order:      e.Order,
		UploadedAt: e.UploadedAt,
	}
	if e.TextContent != nil {
		c.Text = *e.TextContent
	}
	if e.FileKey != nil {
		c.Blob = &model.BlobRef{Key: *e.FileKey}
		if e.FileURL != nil {
			c.Blob.URL = *e.FileURL
		}
	}
	return c
}

func toContentModels(entities []*ContentEntity) []*model.CapsuleContent {
	if entities == nil {
		return nil
	}
	models := make([]*model.CapsuleContent, len(entities))
	for i, e := range entities {
		models[i] = toContentModel(e)
	}
	return models
}
