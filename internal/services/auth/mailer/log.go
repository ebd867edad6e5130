package mailer

import (
	"context"
	"log"
)

// LogMailer logs mail instead of sending it. Used when no SMTP settings are
// configured, so local development works without a mail server.
type LogMailer struct{}

// Send logs the template, recipient, and vars.
func (LogMailer) Send(ctx context.Context, tmpl Template, to string, vars map[string]string) error {
	log.Printf("mail %s to %s: %v", tmpl, to, vars)
	return nil
}
