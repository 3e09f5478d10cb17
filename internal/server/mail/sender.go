// Package mail delivers out-of-band recovery codes.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	netmail "net/mail"
	gosmtp "net/smtp"
	"strings"
	"time"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/logging"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Credentials resolves the SMTP login from the unlocked keyring.
type Credentials interface {
	ConfigValue(key string) (string, error)
}

type SMTPSettings struct {
	Host       string
	Port       int
	From       string
	Encryption string // starttls, ssl or none
}

type SMTPSender struct {
	settings SMTPSettings
	creds    Credentials
	now      func() time.Time
}

func NewSMTPSender(settings SMTPSettings, creds Credentials) *SMTPSender {
	return &SMTPSender{settings: settings, creds: creds, now: time.Now}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	user, err := s.creds.ConfigValue(common.ConfigMailUser)
	if err != nil {
		return fmt.Errorf("mail user: %w", err)
	}
	pass, err := s.creds.ConfigValue(common.ConfigMailPass)
	if err != nil {
		return fmt.Errorf("mail password: %w", err)
	}

	from := s.settings.From
	if from == "" {
		from = user
	}
	msg := buildMessage(from, to, subject, body, s.now())
	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)

	switch s.settings.Encryption {
	case "ssl":
		return s.sendSSL(addr, user, pass, from, to, msg)
	case "none":
		return s.sendPlain(addr, user, pass, from, to, msg)
	default:
		return s.sendStartTLS(addr, user, pass, from, to, msg)
	}
}

func buildMessage(from, to, subject, body string, now time.Time) string {
	addr := netmail.Address{Address: from}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", addr.String())
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

func (s *SMTPSender) sendStartTLS(addr, user, pass, from, to, msg string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: s.settings.Host, MinVersion: tls.VersionTLS12}); err != nil {
		return fmt.Errorf("starting TLS: %w", err)
	}
	if err := s.auth(client, user, pass); err != nil {
		return err
	}
	return sendMessage(client, from, to, msg)
}

func (s *SMTPSender) sendSSL(addr, user, pass, from, to, msg string) error {
	tlsConfig := &tls.Config{ServerName: s.settings.Host, MinVersion: tls.VersionTLS12}
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("connecting to %s (SSL): %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := s.auth(client, user, pass); err != nil {
		return err
	}
	return sendMessage(client, from, to, msg)
}

// sendPlain talks to relays that offer neither TLS mode. PlainAuth refuses
// to send credentials over such a link unless the host is localhost.
func (s *SMTPSender) sendPlain(addr, user, pass, from, to, msg string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("AUTH"); ok {
		if err := s.auth(client, user, pass); err != nil {
			return err
		}
	}
	return sendMessage(client, from, to, msg)
}

func (s *SMTPSender) auth(client *gosmtp.Client, user, pass string) error {
	if user == "" {
		return nil
	}
	if err := client.Auth(gosmtp.PlainAuth("", user, pass, s.settings.Host)); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	return nil
}

func sendMessage(client *gosmtp.Client, from, to, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", to, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

// LogSender writes messages to the log instead of delivering them. Used when
// no SMTP host is configured.
type LogSender struct {
	logger logging.Logger
}

func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Warn(ctx, "smtp not configured, message not delivered", "to", to, "subject", subject)
	return nil
}
