package services

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"
	"time"

	"github.com/BradenHooton/loanguard/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// NotificationType selects the message template
type NotificationType string

const (
	NotifyVerificationCode  NotificationType = "verification_code"
	NotifyTemporaryPassword NotificationType = "temporary_password"
	NotifyUnlockCode        NotificationType = "unlock_code"
	NotifyAccountLocked     NotificationType = "account_locked"
	NotifyAccountUnlocked   NotificationType = "account_unlocked"
	NotifySuspiciousLogin   NotificationType = "suspicious_login"
)

// NotificationPayload carries template values such as "code" and "expires_at"
type NotificationPayload map[string]string

// Notifier delivers user-facing messages. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationType, recipient string, payload NotificationPayload) error
}

const htmlLayout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.subject}}</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2c3e50;">{{.subject}}</h2>
        <p>{{template "message" .}}</p>
        <hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
        <p style="color: #999; font-size: 12px;">
            This is an automated security message. Please do not reply to this email.
        </p>
    </div>
</body>
</html>`

type emailTemplate struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// newEmailTemplate parses message for both bodies. Values are HTML-escaped
// in the HTML body only.
func newEmailTemplate(subject, message string) emailTemplate {
	html := htmltemplate.Must(htmltemplate.New("layout").Option("missingkey=zero").Parse(htmlLayout))
	htmltemplate.Must(html.New("message").Parse(message))

	return emailTemplate{
		subject: subject,
		text:    texttemplate.Must(texttemplate.New("message").Option("missingkey=zero").Parse(message)),
		html:    html,
	}
}

var emailTemplates = map[NotificationType]emailTemplate{
	NotifyVerificationCode: newEmailTemplate("Your verification code",
		"Your email verification code is {{.code}}. It expires at {{.expires_at}}."),
	NotifyTemporaryPassword: newEmailTemplate("Your temporary password",
		"Use the temporary password {{.code}} to sign in. It expires at {{.expires_at}}. You will be asked to choose a new password."),
	NotifyUnlockCode: newEmailTemplate("Unlock your account",
		"Your account unlock code is {{.code}}. It expires at {{.expires_at}}."),
	NotifyAccountLocked: newEmailTemplate("Your account has been locked",
		"Your account was locked ({{.reason}}) until {{.expires_at}}. If this was not you, contact support."),
	NotifyAccountUnlocked: newEmailTemplate("Your account has been unlocked",
		"Your account was unlocked at {{.unlocked_at}}."),
	NotifySuspiciousLogin: newEmailTemplate("Unusual sign-in activity",
		"We noticed a sign-in attempt with risk score {{.risk_score}} from {{.ip_address}}. If this was not you, change your password."),
}

// renderedNotification is a message ready to send
type renderedNotification struct {
	Subject  string
	TextBody string
	HTMLBody string
}

// renderNotification fills the template for kind with payload values
func renderNotification(kind NotificationType, payload NotificationPayload) (*renderedNotification, error) {
	tmpl, ok := emailTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("unknown notification type %q", kind)
	}

	data := make(map[string]string, len(payload)+1)
	for key, value := range payload {
		data[key] = value
	}
	data["subject"] = tmpl.subject

	var text, html bytes.Buffer
	if err := tmpl.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render %s text body: %w", kind, err)
	}
	if err := tmpl.html.ExecuteTemplate(&html, "layout", data); err != nil {
		return nil, fmt.Errorf("failed to render %s html body: %w", kind, err)
	}

	return &renderedNotification{
		Subject:  tmpl.subject,
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}

// AWSSESNotifier sends notifications as HTML and plain-text email using AWS SES
type AWSSESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESNotifier creates a new AWS SES notifier
func NewAWSSESNotifier(region, fromAddress string, logger *slog.Logger) (*AWSSESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// Notify renders and sends a single email
func (n *AWSSESNotifier) Notify(ctx context.Context, kind NotificationType, recipient string, payload NotificationPayload) error {
	msg, err := renderNotification(kind, payload)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(msg.Subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(msg.HTMLBody),
				},
				Text: &types.Content{
					Data: aws.String(msg.TextBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send notification via SES",
			slog.String("type", string(kind)),
			slog.String("email", logger.SanitizedEmail(recipient)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("notification sent",
		slog.String("type", string(kind)),
		slog.String("email", logger.SanitizedEmail(recipient)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogNotifier writes notifications to the log instead of sending them.
// Code values are redacted outside development.
type LogNotifier struct {
	logger *slog.Logger
	env    string
}

// NewLogNotifier creates a notifier for local development
func NewLogNotifier(log *slog.Logger, env string) *LogNotifier {
	return &LogNotifier{logger: log, env: env}
}

func (n *LogNotifier) Notify(ctx context.Context, kind NotificationType, recipient string, payload NotificationPayload) error {
	msg, err := renderNotification(kind, payload)
	if err != nil {
		return err
	}

	attrs := []any{
		slog.String("type", string(kind)),
		slog.String("email", logger.SanitizedEmail(recipient)),
		slog.String("subject", msg.Subject),
	}
	if code, ok := payload["code"]; ok {
		attrs = append(attrs, logger.RedactedAttr("code", code, n.env))
	}

	n.logger.InfoContext(ctx, "notification", attrs...)
	return nil
}

// notifyAsync hands a notification to n without blocking the caller.
// Failures are logged and never propagate.
func notifyAsync(n Notifier, log *slog.Logger, timeout time.Duration, kind NotificationType, recipient string, payload NotificationPayload) {
	if n == nil || recipient == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := n.Notify(ctx, kind, recipient, payload); err != nil {
			log.Warn("notification delivery failed",
				slog.String("type", string(kind)),
				slog.String("email", logger.SanitizedEmail(recipient)),
				slog.Any("error", err))
		}
	}()
}
