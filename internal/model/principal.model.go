package model

import "strings"

// Principal is an authenticated user as seen by this service. Accounts are
// owned by the identity service; this is a read model.
type Principal struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// SenderName is how the owner is introduced in a delivery email.
func (p *Principal) SenderName() string {
	if p == nil {
		return "A friend"
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if p.Email != "" {
		return p.Email
	}
	return "A friend"
}

// DisplayName is how the owner is shown on the public capsule view.
func (p *Principal) DisplayName() string {
	if p == nil {
		return "The Sender"
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(p.Email, "@"); ok && local != "" {
		return local
	}
	return "The Sender"
}
