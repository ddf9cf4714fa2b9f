package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"time"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer delivers messages through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.From == "" {
		cfg.From = fmt.Sprintf("Seujia Honey <%s>", cfg.Username)
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	from, err := mail.ParseAddress(m.cfg.From)
	if err != nil {
		return fmt.Errorf("notify: invalid from address: %w", err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("notify: invalid recipient: %w", err)
	}

	body, err := m.buildMIME(from, to, msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.send(addr, auth, from.Address, []string{to.Address}, body)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("notify: smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify: smtp send: %w", ctx.Err())
	}
}

func (m *SMTPMailer) buildMIME(from, to *mail.Address, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []struct{ k, v string }{
		{"From", from.String()},
		{"To", to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/alternative; boundary=" + mw.Boundary()},
	}
	var head bytes.Buffer
	for _, h := range headers {
		fmt.Fprintf(&head, "%s: %s\r\n", h.k, h.v)
	}
	head.WriteString("\r\n")

	text := msg.Text
	if text == "" {
		text = msg.Subject
	}
	parts := []struct{ contentType, body string }{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("notify: failed to build message: %w", err)
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("notify: failed to build message: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("notify: failed to build message: %w", err)
	}

	return append(head.Bytes(), buf.Bytes()...), nil
}
