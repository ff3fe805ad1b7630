package model

import (
	"time"
)

type DeliveryMethod string

const (
	DeliveryMethodEmail DeliveryMethod = "email"
	DeliveryMethodInApp DeliveryMethod = "in_app"
	DeliveryMethodSMS   DeliveryMethod = "sms"
)

func (m DeliveryMethod) Valid() bool {
	switch m {
	case DeliveryMethodEmail, DeliveryMethodInApp, DeliveryMethodSMS:
		return true
	}
	return false
}

type PrivacyStatus string

const (
	PrivacyPrivate PrivacyStatus = "private"
	PrivacyShared  PrivacyStatus = "shared"
)

func (p PrivacyStatus) Valid() bool {
	return p == PrivacyPrivate || p == PrivacyShared
}

// Layouts of the civil delivery date and time-of-day.
const (
	DateLayout        = "2006-01-02"
	TimeLayout        = "15:04"
	TimeLayoutSeconds = "15:04:05"
	DefaultDeliveryAt = "00:00"
)

// Capsule holds the delivery instant as a civil date and time. The zone they
// are read in is the application timezone, resolved by the scheduler.
type Capsule struct {
	ID                     int64          `json:"id"`
	OwnerID                int64          `json:"owner_id"`
	Title                  string         `json:"title"`
	Description            string         `json:"description"`
	CreatedAt              time.Time      `json:"creation_date"`
	DeliveryDate           string         `json:"delivery_date"`
	DeliveryTime           string         `json:"delivery_time"`
	DeliveryMethod         DeliveryMethod `json:"delivery_method"`
	PrivacyStatus          PrivacyStatus  `json:"privacy_status"`
	IsDelivered            bool           `json:"is_delivered"`
	IsArchived             bool           `json:"is_archived"`
	IsUnlocked             bool           `json:"is_unlocked"`
	TransferOnInactivity   bool           `json:"transfer_on_inactivity"`
	TransferRecipientEmail string         `json:"transfer_recipient_email,omitempty"`

	Contents   []*CapsuleContent   `json:"contents,omitempty"`
	Recipients []*CapsuleRecipient `json:"recipients,omitempty"`
}

// FirstText returns the lowest ordered text content, if any.
func (c *Capsule) FirstText() (string, bool) {
	var first *CapsuleContent
	for _, content := range c.Contents {
		if content.Type != ContentTypeText {
			continue
		}
		if first == nil || content.Order < first.Order {
			first = content
		}
	}
	if first == nil {
		return "", false
	}
	return first.Text, true
}

// CapsuleFilter controls List queries.
type CapsuleFilter struct {
	OwnerID         int64
	IncludeArchived bool
	Limit           int // default 50
	Offset          int
}
