package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nimasrn/time-capsule/internal/mail"
	"github.com/nimasrn/time-capsule/pkg/logger"
	"github.com/nimasrn/time-capsule/pkg/prom"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

// SMTPSender delivers through a single SMTP relay. Port 465 uses implicit
// TLS, any other port upgrades with STARTTLS when the server offers it.
type SMTPSender struct {
	config SMTPConfig
	log    logger.Logger
}

func NewSMTPSender(config SMTPConfig, log logger.Logger) *SMTPSender {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.From == "" {
		config.From = config.Username
	}
	return &SMTPSender{config: config, log: log}
}

func (s *SMTPSender) Send(ctx context.Context, email mail.Email) (bool, string) {
	start := time.Now()
	err := s.send(ctx, email)
	prom.ObserveEmailSend("smtp", err == nil, time.Since(start).Seconds())
	if err != nil {
		s.log.Error("smtp send failed", "to", email.To, "host", s.config.Host, "error", err)
		return false, fmt.Sprintf("Error sending email to %s from %s: %v", email.To, s.config.From, err)
	}
	s.log.Info("smtp email sent", "to", email.To)
	return true, mail.SuccessMessage
}

func (s *SMTPSender) send(ctx context.Context, email mail.Email) error {
	msg, err := BuildMIME(s.fromHeader(), email)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.config.Timeout)
	}
	dialer := &net.Dialer{Deadline: deadline}
	tlsConfig := &tls.Config{ServerName: s.config.Host}

	var conn net.Conn
	if s.config.Port == 465 {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if s.config.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}
	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(s.config.From); err != nil {
		return err
	}
	if err := client.Rcpt(email.To); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (s *SMTPSender) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return mime.QEncoding.Encode("utf-8", s.config.FromName) + " <" + s.config.From + ">"
}

// BuildMIME renders a multipart/alternative message, plain part first.
func BuildMIME(from string, email mail.Email) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct{ contentType, content string }{
		{"text/plain; charset=utf-8", email.Plain},
		{"text/html; charset=utf-8", email.HTML},
	}
	for _, part := range parts {
		if part.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", email.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", email.Subject))
	fmt.Fprintf(&msg, "Message-ID: <%s@time-capsule>\r\n", messageID(email))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// messageID reuses the caller's id so both transports report the same one.
// Colons are not allowed in the left part of a Message-ID.
func messageID(email mail.Email) string {
	if email.MessageID == "" {
		return ulid.Make().String()
	}
	return strings.ReplaceAll(email.MessageID, ":", ".")
}
