package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/time-capsule/internal/mail"
	"github.com/nimasrn/time-capsule/pkg/logger"
)

func TestBuildMIME(t *testing.T) {
	raw, err := BuildMIME("Time Capsule <noreply@example.com>", mail.Email{
		To:      "bob@example.com",
		Subject: "A Time Capsule from Ada is ready for you!",
		Plain:   "plain body",
		HTML:    "<p>html body</p>",
	})
	require.NoError(t, err)
	msg := string(raw)

	assert.Contains(t, msg, "From: Time Capsule <noreply@example.com>\r\n")
	assert.Contains(t, msg, "To: bob@example.com\r\n")
	assert.Contains(t, msg, "Subject: A Time Capsule from Ada is ready for you!\r\n")
	assert.Contains(t, msg, "Content-Type: multipart/alternative;")
	assert.Less(t, strings.Index(msg, "plain body"), strings.Index(msg, "<p>html body</p>"))
}

func TestBuildMIME_MessageID(t *testing.T) {
	raw, err := BuildMIME("a@example.com", mail.Email{MessageID: "deliver_capsule_email:7:9", To: "b@example.com", Subject: "s", Plain: "p"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Message-ID: <deliver_capsule_email.7.9@time-capsule>\r\n")

	raw, err = BuildMIME("a@example.com", mail.Email{To: "b@example.com", Subject: "s", Plain: "p"})
	require.NoError(t, err)
	assert.Regexp(t, `Message-ID: <[0-9A-Z]{26}@time-capsule>\r\n`, string(raw))
}

func TestBuildMIME_PlainOnly(t *testing.T) {
	raw, err := BuildMIME("a@example.com", mail.Email{To: "b@example.com", Subject: "s", Plain: "only"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "text/html")
}

func TestSMTPSender_ReportsDialFailure(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1, Username: "u@example.com"}, logger.Nop())
	ok, msg := s.Send(t.Context(), mail.Email{To: "bob@example.com", Subject: "s", Plain: "p"})
	assert.False(t, ok)
	assert.Contains(t, msg, "Error sending email to bob@example.com from u@example.com")
}
