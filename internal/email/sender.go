// Package email delivers appointment reminder emails.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender sends reminders via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@clinicops.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

// SendReminder emails the 24h appointment reminder to the patient.
func (s *SMTPSender) SendReminder(_ context.Context, to, patientName, doctorName string, start time.Time) error {
	subject := "Appointment reminder"
	body := fmt.Sprintf(
		"Hello %s,\n\nThis is a reminder that your appointment with %s is scheduled for %s.\n\nPlease confirm or arrive up to 30 minutes early to check in.\n",
		patientName,
		doctorName,
		start.UTC().Format("Mon, 02 Jan 2006 15:04 MST"),
	)
	msg := buildMessage(s.from, to, subject, body)
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg))
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}
