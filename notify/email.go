package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/casualjim/shuttle/pkg/uuidx"
)

const (
	// DefaultEmailSubject is used when no subject is configured.
	DefaultEmailSubject = "Notification from ADS Subscriber"
	// EmailSenderName is the display name of the sender.
	EmailSenderName = "ADS Notification"
)

// EmailConfig configures the SMTP channel. Port 465 uses implicit TLS and 587
// upgrades with STARTTLS.
type EmailConfig struct {
	AgentDescription string `yaml:"agent_description,omitempty"`
	SMTPHost         string `yaml:"smtp_host"`
	SMTPPort         int    `yaml:"smtp_port"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	From             string `yaml:"from"`
	To               string `yaml:"to"`
	Subject          string `yaml:"subject,omitempty"`
}

// Validate reports every missing or invalid field.
func (c EmailConfig) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"smtp_host", c.SMTPHost},
		{"username", c.Username},
		{"password", c.Password},
		{"from", c.From},
		{"to", c.To},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%w: email %s is required", ErrInvalidConfig, f.name))
		}
	}
	if c.SMTPPort != 465 && c.SMTPPort != 587 {
		errs = append(errs, fmt.Errorf("%w: smtp port must be 465 (implicit tls) or 587 (starttls), got %d", ErrInvalidConfig, c.SMTPPort))
	}
	if c.From != "" {
		if _, err := mail.ParseAddress(c.From); err != nil {
			errs = append(errs, fmt.Errorf("%w: invalid from address: %w", ErrInvalidConfig, err))
		}
	}
	if c.To != "" {
		if _, err := mail.ParseAddress(c.To); err != nil {
			errs = append(errs, fmt.Errorf("%w: invalid to address: %w", ErrInvalidConfig, err))
		}
	}
	return errors.Join(errs...)
}

// Email sends notifications as HTML mail.
type Email struct {
	cfg    EmailConfig
	header Header
	addr   string
	from   string
	to     string
	log    *slog.Logger
}

// NewEmail validates cfg and creates the channel.
func NewEmail(cfg EmailConfig) (*Email, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultEmailSubject
	}
	from, _ := mail.ParseAddress(cfg.From)
	to, _ := mail.ParseAddress(cfg.To)
	return &Email{
		cfg:    cfg,
		header: NewHeader(cfg.AgentDescription),
		addr:   net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		from:   from.Address,
		to:     to.Address,
		log:    slog.Default().With(slogx.LoggerName("shuttle.notify.email")),
	}, nil
}

func (e *Email) Name() string { return "EmailNotificationChannel" }

func (e *Email) Fire(ctx context.Context, body string) bool {
	msg := e.message(e.header.HTML(body))
	if err := e.send(ctx, msg); err != nil {
		e.log.Warn("failed to send email notification", slogx.Error(err))
		return false
	}
	e.log.Info("email sent", slog.String("to", e.to))
	return true
}

func (e *Email) message(html string) []byte {
	from := (&mail.Address{Name: EmailSenderName, Address: e.from}).String()
	headers := []struct{ key, value string }{
		{"From", from},
		{"To", e.to},
		{"Subject", mime.QEncoding.Encode("utf-8", e.cfg.Subject)},
		{"Date", time.Now().UTC().Format(time.RFC1123Z)},
		{"Message-ID", "<" + uuidx.NewString() + "@" + e.cfg.SMTPHost + ">"},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="utf-8"`},
		{"Content-Transfer-Encoding", "8bit"},
	}

	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h.key)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(html, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func (e *Email) send(ctx context.Context, msg []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	var (
		conn net.Conn
		err  error
	)
	if e.cfg.SMTPPort == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: e.cfg.SMTPHost}}).DialContext(ctx, "tcp", e.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", e.addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", e.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if e.cfg.SMTPPort == 587 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: e.cfg.SMTPHost}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(e.from); err != nil {
		return err
	}
	if err := client.Rcpt(e.to); err != nil {
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
