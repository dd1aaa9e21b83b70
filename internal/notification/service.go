// Package notification emails saved payments through SMTP, SendGrid or Resend.
package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/storage"
)

var ErrDisabled = errors.New("notifications are disabled")

const resendURL = "https://api.resend.com/emails"

type Config struct {
	Enabled     bool
	Provider    string // smtp, sendgrid, resend
	FromAddress string
	FromName    string
	To          []string
	APIKey      string
	Host        string
	Port        int
	Username    string
	Password    string
	Encryption  string // none, starttls, ssl
}

// message is a rendered email ready for a provider.
type message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type Service struct {
	cfg    Config
	log    *zap.Logger
	client *http.Client
	// resendURL is swapped in tests.
	resendURL string
}

func NewService(cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, log: log.Named("notify"), client: http.DefaultClient, resendURL: resendURL}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// NotifyPayment sends the payment notice to every configured recipient. It
// stops at the first delivery failure.
func (s *Service) NotifyPayment(ctx context.Context, p storage.Payment) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	subject, html, text, err := RenderPayment(p)
	if err != nil {
		return err
	}
	for _, to := range s.cfg.To {
		msg := message{To: to, Subject: subject, HTML: html, Text: text}
		if err := s.send(ctx, msg); err != nil {
			return fmt.Errorf("notify %s via %s: %w", to, s.cfg.Provider, err)
		}
		s.log.Info("payment notice sent", zap.String("to", to), zap.String("reference", p.Reference))
	}
	return nil
}

// SendTest delivers a short test message to to.
func (s *Service) SendTest(ctx context.Context, to string) error {
	return s.send(ctx, message{
		To:      to,
		Subject: "Test email",
		HTML:    "<p>This is a test email from watermeter.</p>",
		Text:    "This is a test email from watermeter.",
	})
}

func (s *Service) send(ctx context.Context, msg message) error {
	switch s.cfg.Provider {
	case "smtp", "gmail":
		return s.sendSMTP(msg)
	case "sendgrid":
		return s.sendSendgrid(ctx, msg)
	case "resend":
		return s.sendResend(ctx, msg)
	default:
		return fmt.Errorf("unknown provider: %s", s.cfg.Provider)
	}
}

func (s *Service) smtpMessage(msg message) []byte {
	from := s.cfg.FromAddress
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromAddress)
	}
	return []byte("From: " + from + "\r\n" +
		"To: " + msg.To + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" +
		msg.HTML + "\r\n")
}

func (s *Service) sendSMTP(msg message) error {
	cfg := s.cfg
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	body := s.smtpMessage(msg)

	switch strings.ToLower(cfg.Encryption) {
	case "ssl":
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return err
		}
		defer conn.Close()
		c, err := smtp.NewClient(conn, cfg.Host)
		if err != nil {
			return err
		}
		defer c.Quit()
		return s.deliver(c, msg.To, body)

	case "starttls", "tls":
		c, err := smtp.Dial(addr)
		if err != nil {
			return err
		}
		defer c.Quit()
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				return err
			}
		}
		return s.deliver(c, msg.To, body)

	default:
		var auth smtp.Auth
		if cfg.Username != "" {
			auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		}
		return smtp.SendMail(addr, auth, cfg.FromAddress, []string{msg.To}, body)
	}
}

func (s *Service) deliver(c *smtp.Client, to string, body []byte) error {
	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(s.cfg.FromAddress); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Close()
}

func (s *Service) sendSendgrid(ctx context.Context, msg message) error {
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromAddress)
	m := mail.NewSingleEmail(from, msg.Subject, mail.NewEmail("", msg.To), msg.Text, msg.HTML)
	resp, err := sendgrid.NewSendClient(s.cfg.APIKey).SendWithContext(ctx, m)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (s *Service) sendResend(ctx context.Context, msg message) error {
	payload, err := json.Marshal(map[string]string{
		"from":    fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromAddress),
		"to":      msg.To,
		"subject": msg.Subject,
		"html":    msg.HTML,
		"text":    msg.Text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.resendURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resend error: %d %s", resp.StatusCode, string(b))
	}
	return nil
}
