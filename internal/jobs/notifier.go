// notifier.go implements the email notifier used by the review and conversion
// flows. It sends a "changes requested" email to the submitter when an admin
// asks for changes, and a "tool published" email when a conversion completes.
// The notifier is a no-op when notifications.enabled is false or when the SMTP
// host is not configured, so it is always safe to wire regardless of
// deployment environment.
package jobs

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"text/template"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/config"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/telemetry"
)

const (
	templateNeedsChanges  = "needs_changes"
	templateToolPublished = "tool_published"
)

var needsChangesTemplate = template.Must(template.New(templateNeedsChanges).Parse(`Hello,

Your submission '{{.PackageName}}' to the Power Platform ToolBox was reviewed
and changes were requested before it can be approved.

Reviewer notes:
{{.Notes}}

Please address the notes, publish an updated package version, and contact the
review team to reopen your submission.

— Power Platform ToolBox
`))

var toolPublishedTemplate = template.Must(template.New(templateToolPublished).Parse(`Hello,

Good news: your submission '{{.DisplayName}}' ({{.PackageName}}) was approved,
built, and is now published in the Power Platform ToolBox.

{{if .ToolURL}}You can see the published tool here:
  {{.ToolURL}}

{{end}}Thank you for contributing!

— Power Platform ToolBox
`))

// Notifier sends review lifecycle emails over SMTP.
type Notifier struct {
	cfg *config.NotificationsConfig
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg *config.NotificationsConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

// enabled reports whether the notifier has enough configuration to send.
// A disabled notifier logs once per call site and treats sends as successes.
func (n *Notifier) enabled() bool {
	return n.cfg.Enabled && n.cfg.SMTP.Host != "" && n.cfg.From != ""
}

// NotifyNeedsChanges emails the submitter that an admin requested changes.
func (n *Notifier) NotifyNeedsChanges(toEmail, packageName, notes string) error {
	if !n.enabled() {
		log.Printf("notifier: skipping needs-changes email for %s (notifications disabled)", packageName)
		return nil
	}
	if notes == "" {
		notes = "(no notes were provided)"
	}

	var body bytes.Buffer
	if err := needsChangesTemplate.Execute(&body, map[string]string{
		"PackageName": packageName,
		"Notes":       notes,
	}); err != nil {
		return fmt.Errorf("failed to render needs-changes email: %w", err)
	}

	subject := fmt.Sprintf("Changes requested for your ToolBox submission '%s'", packageName)
	return n.deliver(templateNeedsChanges, []string{toEmail}, subject, body.String())
}

// NotifyToolPublished emails the submitter that their tool is live.
func (n *Notifier) NotifyToolPublished(toEmail, packageName, displayName, toolID string) error {
	if !n.enabled() {
		log.Printf("notifier: skipping tool-published email for %s (notifications disabled)", packageName)
		return nil
	}

	toolURL := ""
	if n.cfg.ToolURLBase != "" {
		toolURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(n.cfg.ToolURLBase, "/"), toolID)
	}

	var body bytes.Buffer
	if err := toolPublishedTemplate.Execute(&body, map[string]string{
		"PackageName": packageName,
		"DisplayName": displayName,
		"ToolURL":     toolURL,
	}); err != nil {
		return fmt.Errorf("failed to render tool-published email: %w", err)
	}

	subject := fmt.Sprintf("Your ToolBox submission '%s' is now published", displayName)
	return n.deliver(templateToolPublished, []string{toEmail}, subject, body.String())
}

// NotifyAdmins sends a plain-text email to every configured admin address.
func (n *Notifier) NotifyAdmins(recipients []string, subject, body string) error {
	if !n.enabled() {
		log.Println("notifier: skipping admin email (notifications disabled)")
		return nil
	}
	if len(recipients) == 0 {
		return nil
	}
	return n.deliver("admin_notice", recipients, subject, body)
}

// deliver composes the MIME message and hands it to SMTP, recording the
// outcome metric per template.
func (n *Notifier) deliver(templateName string, to []string, subject, body string) error {
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		n.cfg.From, strings.Join(to, ", "), subject,
	)
	msg := []byte(headers + strings.ReplaceAll(body, "\n", "\r\n") + "\r\n")

	smtpCfg := &n.cfg.SMTP
	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}

	var err error
	if smtpCfg.UseTLS {
		err = sendMailTLS(addr, smtpCfg.Host, auth, n.cfg.From, to, msg)
	} else {
		err = smtp.SendMail(addr, auth, n.cfg.From, to, msg)
	}

	result := "sent"
	if err != nil {
		result = "failed"
	}
	telemetry.NotificationEmailsTotal.WithLabelValues(templateName, result).Inc()
	return err
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// For port 587 STARTTLS, smtp.SendMail handles the upgrade automatically; a
// failed TLS dial falls back to that path so UseTLS works on either port.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
