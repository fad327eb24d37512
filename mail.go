package main

import (
	"log"

	cfg "github.com/example/accountd/internal/config"
	"gopkg.in/gomail.v2"
)

// Mailer is the outbound notification sink. One attempt per message, no
// retries.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends plain-text mail through a single SMTP account.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	d := gomail.NewDialer(m.host, m.port, m.username, m.password)
	return d.DialAndSend(msg)
}

// logMailer stands in when SMTP is not configured. It logs that a message
// would have been sent but never the body, which carries the reset secret.
type logMailer struct{}

func (logMailer) Send(to, subject, body string) error {
	log.Printf("mail not configured: dropping %q to %s", subject, to)
	return nil
}

// NewMailer picks the SMTP mailer when the config carries SMTP credentials
// and the log-only fallback otherwise.
func NewMailer(c *cfg.Config) Mailer {
	if c.SMTPHost == "" {
		return logMailer{}
	}
	from := c.MailFrom
	if from == "" {
		from = c.SMTPUser
	}
	return &SMTPMailer{
		host:     c.SMTPHost,
		port:     c.SMTPPort,
		username: c.SMTPUser,
		password: c.SMTPPassword,
		from:     from,
	}
}
