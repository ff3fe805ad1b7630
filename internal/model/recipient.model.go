package model

import (
	"time"

	"github.com/google/uuid"
)

type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
	RecipientOpened  RecipientStatus = "opened"
)

var recipientTransitions = map[RecipientStatus][]RecipientStatus{
	RecipientPending: {RecipientSent, RecipientFailed, RecipientOpened},
	RecipientSent:    {RecipientFailed, RecipientOpened},
	// a retried attempt may still succeed
	RecipientFailed: {RecipientSent},
}

// CanTransition reports whether a recipient may move from s to next.
// Opened is terminal.
func (s RecipientStatus) CanTransition(next RecipientStatus) bool {
	for _, allowed := range recipientTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionSources lists the states that may move to next.
func TransitionSources(next RecipientStatus) []RecipientStatus {
	var from []RecipientStatus
	for _, s := range []RecipientStatus{RecipientPending, RecipientSent, RecipientFailed, RecipientOpened} {
		if s.CanTransition(next) {
			from = append(from, s)
		}
	}
	return from
}

type CapsuleRecipient struct {
	ID               int64           `json:"id"`
	CapsuleID        int64           `json:"capsule_id"`
	Email            string          `json:"recipient_email"`
	PrincipalID      *int64          `json:"recipient_user,omitempty"`
	Status           RecipientStatus `json:"status"`
	AccessToken      *uuid.UUID      `json:"-"`
	TokenGeneratedAt *time.Time      `json:"-"`
	SentAt           *time.Time      `json:"sent_date,omitempty"`
}
