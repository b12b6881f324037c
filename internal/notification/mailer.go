package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/config"
	"github.com/stanstork/notification-api/internal/models"
)

//go:embed templates/notification_email.html
var templateFS embed.FS

var emailTemplate = template.Must(template.ParseFS(templateFS, "templates/notification_email.html"))

const productName = "Insyd"

var ErrEmailNotConfigured = errors.New("email transport is not configured")

// Mailer is the outbound email transport.
type Mailer interface {
	// VerifyConnection checks that the transport is reachable and accepts
	// our credentials. It never fails hard; false means email is unusable.
	VerifyConnection(ctx context.Context) bool
	// Send makes exactly one delivery attempt.
	Send(ctx context.Context, notif models.Notification, recipientEmail string) models.DeliveryOutcome
}

// SMTPMailer sends notification emails over SMTP, upgrading with STARTTLS
// when offered and using implicit TLS on port 465.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSMTPMailer(cfg config.EmailConfig, logger zerolog.Logger) *SMTPMailer {
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	return &SMTPMailer{
		host:     strings.TrimSpace(cfg.SMTPHost),
		port:     port,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		from:     strings.TrimSpace(cfg.From),
		logger:   logger.With().Str("component", "smtp_mailer").Logger(),
		now:      time.Now,
	}
}

func (m *SMTPMailer) Configured() bool {
	return m.host != "" && m.from != ""
}

func (m *SMTPMailer) VerifyConnection(ctx context.Context) bool {
	if !m.Configured() {
		m.logger.Warn().Msg("Email service not configured; email delivery disabled")
		return false
	}
	client, err := m.dial(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("host", m.host).Int("port", m.port).Msg("Email service not properly configured")
		return false
	}
	defer client.Close()
	if err := client.Quit(); err != nil {
		m.logger.Warn().Err(err).Msg("SMTP quit failed during verify")
		return false
	}
	m.logger.Info().Str("host", m.host).Int("port", m.port).Msg("SMTP connection verified")
	return true
}

func (m *SMTPMailer) Send(ctx context.Context, notif models.Notification, recipientEmail string) (outcome models.DeliveryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = models.Failed(fmt.Errorf("panic while sending email: %v", r))
		}
	}()

	if !m.Configured() {
		return models.Failed(ErrEmailNotConfigured)
	}
	recipientEmail = strings.TrimSpace(recipientEmail)
	if recipientEmail == "" {
		return models.Skipped("no recipient email")
	}
	rcpt, err := mail.ParseAddress(recipientEmail)
	if err != nil {
		return models.Failed(fmt.Errorf("invalid recipient email: %w", err))
	}
	sender, err := mail.ParseAddress(m.from)
	if err != nil {
		return models.Failed(fmt.Errorf("invalid sender email: %w", err))
	}

	messageID := m.messageID(sender.Address)
	msg, err := m.compose(notif, sender, rcpt, messageID)
	if err != nil {
		return models.Failed(err)
	}
	if err := m.deliver(ctx, sender.Address, rcpt.Address, msg); err != nil {
		m.logger.Error().Err(err).Str("notification_id", notif.ID).Msg("Failed to send email")
		return models.Failed(err)
	}

	m.logger.Info().
		Str("notification_id", notif.ID).
		Str("message_id", messageID).
		Msg("email notification sent")
	return models.Sent(messageID)
}

func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	var (
		conn net.Conn
		err  error
	)
	if m.port == 465 {
		dialer := &tls.Dialer{Config: &tls.Config{ServerName: m.host}}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if _, isTLS := conn.(*tls.Conn); !isTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
				client.Close()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if m.username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			client.Close()
			return nil, errors.New("smtp server does not support AUTH")
		}
		if err := client.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

func (m *SMTPMailer) deliver(ctx context.Context, from, to string, msg []byte) error {
	client, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return client.Quit()
}

func (m *SMTPMailer) messageID(sender string) string {
	domain := m.host
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}

// RenderEmailHTML renders the fixed notification template. Title and body are
// escaped.
func RenderEmailHTML(notif models.Notification) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Title   string
		Body    string
		Product string
	}{
		Title:   notif.Title,
		Body:    notif.Body,
		Product: productName,
	})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

func (m *SMTPMailer) compose(notif models.Notification, from, to *mail.Address, messageID string) ([]byte, error) {
	html, err := RenderEmailHTML(notif)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var msg bytes.Buffer
	headers := []struct{ key, value string }{
		{"From", from.String()},
		{"To", to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", notif.Title)},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"Message-ID", messageID},
		{"MIME-Version", "1.0"},
		{"Content-Type", `multipart/alternative; boundary="` + mw.Boundary() + `"`},
	}
	for _, h := range headers {
		fmt.Fprintf(&msg, "%s: %s\r\n", h.key, h.value)
	}
	msg.WriteString("\r\n")

	parts := []struct{ contentType, content string }{
		{`text/plain; charset="UTF-8"`, notif.Body},
		{`text/html; charset="UTF-8"`, html},
	}
	for _, p := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
