package mail

import (
	"context"
	"errors"
	"net/mail"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid email address")

// Email is one outgoing message with a plain body and an optional HTML body.
type Email struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	Subject   string `json:"subject"`
	Plain     string `json:"text"`
	HTML      string `json:"html,omitempty"`
}

// Sender reports delivery as a flag plus a message that is stored verbatim
// in the delivery log, success or not.
type Sender interface {
	Send(ctx context.Context, email Email) (bool, string)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, email Email) (bool, string)

func (f SenderFunc) Send(ctx context.Context, email Email) (bool, string) {
	return f(ctx, email)
}

// ValidAddress reports whether s is a single bare address.
func ValidAddress(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && addr.Name == ""
}

// LocalPart returns the part of an address before '@'.
func LocalPart(address string) string {
	local, _, _ := strings.Cut(address, "@")
	return local
}
