package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
)

var passwordResetTemplate = template.Must(template.New("password_reset").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px; background: #f9f9f9; border-radius: 10px;">
		<h2 style="color: #4F46E5;">Password Reset</h2>
		<p>Hello {{.Name}},</p>
		<p>We received a request to reset the password of your course files account.</p>
		<p style="margin: 30px 0;">
			<a href="{{.Link}}" style="background: #4F46E5; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block;">Reset Password</a>
		</p>
		<p style="color: #666; font-size: 0.9em;">
			Or copy and paste this link into your browser:<br>
			<code style="background: #eee; padding: 4px 8px; border-radius: 4px;">{{.Link}}</code>
		</p>
		<p style="color: #666; font-size: 0.85em; margin-top: 30px;">
			This link expires in {{.ValidFor}}.<br>
			If you didn't request a password reset, please ignore this email.
		</p>
	</div>
</body>
</html>`))

type passwordResetData struct {
	Name     string
	Link     string
	ValidFor string
}

// PasswordResetLink appends the ticket to the reset page URL.
func PasswordResetLink(baseURL, ticket string) string {
	return fmt.Sprintf("%s/reset-password?token=%s", baseURL, url.QueryEscape(ticket))
}

// PasswordResetMessage renders the reset email for the given link.
func PasswordResetMessage(to, name, link, validFor string) (Message, error) {
	var buf bytes.Buffer
	if err := passwordResetTemplate.Execute(&buf, passwordResetData{Name: name, Link: link, ValidFor: validFor}); err != nil {
		return Message{}, fmt.Errorf("render password reset email: %w", err)
	}
	return Message{
		To:      to,
		Subject: "Password Reset Request - Course Files",
		HTML:    buf.String(),
	}, nil
}
