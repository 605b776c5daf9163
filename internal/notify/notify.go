// Package notify mails a digest of newly found relevant jobs.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// Config holds the SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS dials TLS directly (port 465) instead of upgrading with
	// STARTTLS.
	ImplicitTLS bool
	Timeout     time.Duration
}

// SendFunc delivers one message.
type SendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Mailer sends job digests.
type Mailer struct {
	cfg    Config
	send   SendFunc
	now    func() time.Time
	logger *zap.Logger
}

// New builds a Mailer that delivers over SMTP.
func New(cfg Config, logger *zap.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, errors.New("sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	m := NewWithSender(cfg, nil, logger)
	m.send = m.smtpSend
	return m, nil
}

// NewWithSender builds a Mailer around a custom delivery function.
func NewWithSender(cfg Config, send SendFunc, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{
		cfg:    cfg,
		send:   send,
		now:    time.Now,
		logger: logger.Named("notify"),
	}
}

// Notify sends one digest listing jobs to recipient. An empty list is a no-op.
func (m *Mailer) Notify(ctx context.Context, jobs []crawler.StoredJob, recipient string) error {
	if len(jobs) == 0 {
		return nil
	}
	if recipient == "" {
		return errors.New("recipient is required")
	}
	msg := m.compose(jobs, recipient)
	if err := m.send(ctx, m.cfg.From, []string{recipient}, msg); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	m.logger.Info("digest sent", zap.Int("jobs", len(jobs)), zap.String("recipient", recipient))
	return nil
}

func (m *Mailer) compose(jobs []crawler.StoredJob, recipient string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: Job Agent: Found %d New Jobs\r\n", len(jobs))
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	fmt.Fprintf(&b, "Job Agent found %d new opportunities for you.\r\n\r\n", len(jobs))
	b.WriteString("Quick List:\r\n")
	for _, j := range jobs {
		fmt.Fprintf(&b, "- %s at %s\r\n", j.Title, j.Company)
	}
	b.WriteString("\r\n--- Detailed View ---\r\n\r\n")
	for _, j := range jobs {
		fmt.Fprintf(&b, "TITLE: %s\r\n", j.Title)
		fmt.Fprintf(&b, "COMPANY: %s\r\n", j.Company)
		fmt.Fprintf(&b, "LOCATION: %s\r\n", j.Location)
		fmt.Fprintf(&b, "LINK: %s\r\n", j.URL)
		if len(j.TechStack) > 0 {
			fmt.Fprintf(&b, "STACK: %s\r\n", strings.Join(j.TechStack, ", "))
		}
		fmt.Fprintf(&b, "FOUND AT: %s\r\n", j.DiscoveredAt.UTC().Format(time.RFC3339))
		b.WriteString(strings.Repeat("-", 30) + "\r\n")
	}
	return []byte(b.String())
}

func (m *Mailer) smtpSend(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	var (
		conn net.Conn
		err  error
	)
	if m.cfg.ImplicitTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() {
		_ = client.Close()
	}()

	if !m.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if m.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return client.Quit()
}
