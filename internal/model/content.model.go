package model

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeVideo    ContentType = "video"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeDocument ContentType = "document"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeImage, ContentTypeVideo, ContentTypeAudio, ContentTypeDocument:
		return true
	}
	return false
}

var (
	ErrContentPayload = errors.New("content must carry exactly one of text or blob")
	ErrContentType    = errors.New("invalid content type")
)

var fileTypesByExtension = map[string]ContentType{}

func init() {
	for ct, exts := range map[ContentType][]string{
		ContentTypeImage:    {"jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff"},
		ContentTypeVideo:    {"mp4", "avi", "mov", "webm", "mkv", "flv", "wmv"},
		ContentTypeAudio:    {"mp3", "wav", "ogg", "m4a", "flac", "aac", "wma"},
		ContentTypeDocument: {"pdf", "doc", "docx", "txt", "rtf", "odt", "epub"},
	} {
		for _, ext := range exts {
			fileTypesByExtension[ext] = ct
		}
	}
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// ContentTypeForFile classifies an upload by extension. Unknown extensions
// are documents.
func ContentTypeForFile(filename string) ContentType {
	if ct, ok := fileTypesByExtension[extension(filename)]; ok {
		return ct
	}
	return ContentTypeDocument
}

// BlobRef points at an object in blob storage.
type BlobRef struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type CapsuleContent struct {
	ID         int64       `json:"id"`
	CapsuleID  int64       `json:"capsule_id"`
	Type       ContentType `json:"content_type"`
	Text       string      `json:"text_content,omitempty"`
	Blob       *BlobRef    `json:"file,omitempty"`
	Order      int         `json:"order"`
	UploadedAt time.Time   `json:"uploaded_at"`
}

// NewTextContent builds a text content.
func NewTextContent(text string, order int) (*CapsuleContent, error) {
	if text == "" {
		return nil, ErrContentPayload
	}
	return &CapsuleContent{Type: ContentTypeText, Text: text, Order: order}, nil
}

// NewBlobContent builds a media content. Text is not allowed as a blob type.
func NewBlobContent(ct ContentType, blob BlobRef, order int) (*CapsuleContent, error) {
	if !ct.Valid() || ct == ContentTypeText {
		return nil, ErrContentType
	}
	if blob.Key == "" {
		return nil, ErrContentPayload
	}
	return &CapsuleContent{Type: ct, Blob: &blob, Order: order}, nil
}

// Validate checks the payload invariant on contents loaded from elsewhere.
func (c *CapsuleContent) Validate() error {
	if !c.Type.Valid() {
		return ErrContentType
	}
	hasText := c.Text != ""
	hasBlob := c.Blob != nil && c.Blob.Key != ""
	if hasText == hasBlob {
		return ErrContentPayload
	}
	if hasText != (c.Type == ContentTypeText) {
		return ErrContentPayload
	}
	return nil
}

// FileURL is the blob URL, empty for text.
func (c *CapsuleContent) FileURL() string {
	if c.Blob == nil {
		return ""
	}
	return c.Blob.URL
}
