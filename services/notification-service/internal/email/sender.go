package email

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
	ProviderID() string
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

// SMTPSender delivers HTML mail through a relay. Without credentials it
// talks plain unauthenticated SMTP (Mailpit in development).
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	host := strings.TrimSpace(cfg.Host)
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply@pdsa-vet.local"
	}
	s := &SMTPSender{
		addr: net.JoinHostPort(host, strings.TrimSpace(cfg.Port)),
		from: from,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return s
}

func (s *SMTPSender) ProviderID() string {
	return "smtp"
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(m.To, "\r\n") {
		return fmt.Errorf("invalid recipient %q", m.To)
	}
	return smtp.SendMail(s.addr, s.auth, s.from, []string{m.To}, buildMessage(s.from, m))
}

func buildMessage(from string, m Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", m.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.HTML)
	b.WriteString("\r\n")
	return []byte(b.String())
}
