// Package mailer delivers the transactional mail the auth flows produce.
package mailer

import "context"

// Template names a transactional mail body.
type Template string

const (
	// TemplateEmailVerification carries an email verification link.
	TemplateEmailVerification Template = "email_verification"
	// TemplatePasswordReset carries a password reset link.
	TemplatePasswordReset Template = "password_reset"
	// TemplateEmailChangeConfirm asks the new address to confirm the change.
	TemplateEmailChangeConfirm Template = "email_change_confirm"
	// TemplateEmailChangedNotice informs an address of a completed change.
	TemplateEmailChangedNotice Template = "email_changed_notice"
)

// Mailer sends one transactional mail.
type Mailer interface {
	Send(ctx context.Context, template Template, to string, vars map[string]string) error
}
