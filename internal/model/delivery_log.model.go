package model

import "time"

type DeliveryLogStatus string

const (
	DeliveryLogSuccess DeliveryLogStatus = "success"
	DeliveryLogFailure DeliveryLogStatus = "failure"
	DeliveryLogPending DeliveryLogStatus = "pending"
)

// DeliveryLog is an append-only record of one delivery attempt.
type DeliveryLog struct {
	ID             int64             `json:"id"`
	CapsuleID      int64             `json:"capsule_id"`
	AttemptedAt    time.Time         `json:"delivery_attempt_date"`
	Method         DeliveryMethod    `json:"delivery_method"`
	RecipientEmail string            `json:"recipient_email"`
	PrincipalID    *int64            `json:"recipient_user,omitempty"`
	Status         DeliveryLogStatus `json:"status"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Details        string            `json:"details,omitempty"`
}
