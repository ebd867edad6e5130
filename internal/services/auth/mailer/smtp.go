package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
	FromName string `env:"SMTP_FROM_NAME" envDefault:"Driftly"`
}

// Validate reports missing required SMTP settings.
func (cfg SMTPConfig) Validate() error {
	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "Host")
	}
	if cfg.Port == 0 {
		missing = append(missing, "Port")
	}
	if cfg.From == "" {
		missing = append(missing, "From")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing SMTP configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SMTPMailer delivers templated mail over SMTP with multipart MIME bodies.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer builds a mailer over validated SMTP settings.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}, nil
}

// Send renders the named template and delivers it to one recipient.
func (m *SMTPMailer) Send(ctx context.Context, tmpl Template, to string, vars map[string]string) error {
	body, ok := bodies[tmpl]
	if !ok {
		return fmt.Errorf("unknown mail template %q", tmpl)
	}

	htmlBody, err := body.renderHTML(vars)
	if err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}
	textBody := body.renderText(vars)

	msg := m.buildMIMEMessage(to, body.subject, textBody, htmlBody)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) buildMIMEMessage(to, subject, textBody, htmlBody string) []byte {
	var buf bytes.Buffer
	boundary := "==DriftlyMailBoundary=="

	fromHeader := m.cfg.From
	if m.cfg.FromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From)
	}

	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(textBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(htmlBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return buf.Bytes()
}

type mailBody struct {
	subject string
	text    string
	html    string
}

func (b mailBody) renderText(vars map[string]string) string {
	text := b.text
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{{."+key+"}}", value)
	}
	return text
}

func (b mailBody) renderHTML(vars map[string]string) (string, error) {
	tmpl, err := template.New("mail").Parse(b.html)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var bodies = map[Template]mailBody{
	TemplateEmailVerification: {
		subject: "Verify your email address",
		text: `Verify your email address

Open the link below to verify your address.

{{.Link}}

If you didn't create a Driftly account, you can safely ignore this email.
`,
		html: `<p>Open the link below to verify your address.</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>If you didn't create a Driftly account, you can safely ignore this email.</p>`,
	},
	TemplatePasswordReset: {
		subject: "Reset your password",
		text: `Reset your password

Open the link below to choose a new password.

{{.Link}}

If you didn't request a reset, you can safely ignore this email.
`,
		html: `<p>Open the link below to choose a new password.</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>If you didn't request a reset, you can safely ignore this email.</p>`,
	},
	TemplateEmailChangeConfirm: {
		subject: "Confirm your new email address",
		text: `Confirm your new email address

Open the link below to confirm this address for your Driftly account.

{{.Link}}

If you didn't request this change, you can safely ignore this email.
`,
		html: `<p>Open the link below to confirm this address for your Driftly account.</p>
<p><a href="{{.Link}}">Confirm address</a></p>
<p>If you didn't request this change, you can safely ignore this email.</p>`,
	},
	TemplateEmailChangedNotice: {
		subject: "Your email address was changed",
		text: `Your email address was changed

The email on your Driftly account is now {{.NewEmail}}.

If this wasn't you, reset your password immediately.
`,
		html: `<p>The email on your Driftly account is now {{.NewEmail}}.</p>
<p>If this wasn't you, reset your password immediately.</p>`,
	},
}
