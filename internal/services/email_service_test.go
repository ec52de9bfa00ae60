package services

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderNotification(t *testing.T) {
	msg, err := renderNotification(NotifyUnlockCode, NotificationPayload{
		"code":       "A1B2C3D4",
		"expires_at": "2024-03-01T13:00:00Z",
	})

	require.NoError(t, err)
	assert.Equal(t, "Unlock your account", msg.Subject)
	assert.Equal(t, "Your account unlock code is A1B2C3D4. It expires at 2024-03-01T13:00:00Z.", msg.TextBody)
	assert.Contains(t, msg.HTMLBody, "<!DOCTYPE html>")
	assert.Contains(t, msg.HTMLBody, "<title>Unlock your account</title>")
	assert.Contains(t, msg.HTMLBody, "Your account unlock code is A1B2C3D4.")
}

func TestRenderNotification_EscapesHTMLOnly(t *testing.T) {
	msg, err := renderNotification(NotifySuspiciousLogin, NotificationPayload{
		"risk_score": "60",
		"ip_address": "<script>alert(1)</script>",
	})

	require.NoError(t, err)
	assert.Contains(t, msg.TextBody, "from <script>alert(1)</script>.")
	assert.NotContains(t, msg.HTMLBody, "<script>")
	assert.Contains(t, msg.HTMLBody, "&lt;script&gt;")
}

func TestRenderNotification_MissingValueIsBlank(t *testing.T) {
	msg, err := renderNotification(NotifyAccountUnlocked, nil)

	require.NoError(t, err)
	assert.Equal(t, "Your account was unlocked at .", msg.TextBody)
}

func TestRenderNotification_UnknownType(t *testing.T) {
	_, err := renderNotification("carrier_pigeon", nil)

	assert.Error(t, err)
}

func TestLogNotifier_RedactsCodeInProduction(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)), "production")

	err := notifier.Notify(context.Background(), NotifyVerificationCode, "user@example.com", NotificationPayload{"code": "12ABCD"})

	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "12ABCD")
	assert.NotContains(t, buf.String(), "user@example.com")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestLogNotifier_ShowsCodeInDevelopment(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)), "development")

	err := notifier.Notify(context.Background(), NotifyVerificationCode, "user@example.com", NotificationPayload{"code": "12ABCD"})

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "12ABCD")
}
