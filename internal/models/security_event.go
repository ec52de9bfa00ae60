package models

import (
	"strings"
	"time"
)

// SecurityEventType classifies an observed security-relevant action
type SecurityEventType string

const (
	EventLoginSuccess       SecurityEventType = "login_success"
	EventLoginFailed        SecurityEventType = "login_failed"
	EventPasswordChange     SecurityEventType = "password_change"
	EventAccountLocked      SecurityEventType = "account_locked"
	EventAccountUnlocked    SecurityEventType = "account_unlocked"
	EventSuspiciousActivity SecurityEventType = "suspicious_activity"
)

// RiskLevel is the discrete band of a risk score
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// DeviceClass is the coarse device category derived from a user agent
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceDesktop DeviceClass = "desktop"
)

// ClassifyDevice is a case-insensitive substring match for "mobile"
func ClassifyDevice(userAgent string) DeviceClass {
	if strings.Contains(strings.ToLower(userAgent), "mobile") {
		return DeviceMobile
	}
	return DeviceDesktop
}

// GeoLocation is the result of an IP lookup
type GeoLocation struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// SecurityEvent is immutable once created
type SecurityEvent struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	EventType   SecurityEventType `json:"event_type"`
	Timestamp   time.Time         `json:"timestamp"`
	IPAddress   string            `json:"ip_address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	DeviceClass DeviceClass       `json:"device_class,omitempty"`
	GeoLocation *GeoLocation      `json:"geo_location,omitempty"`
	RiskScore   int               `json:"risk_score"`
	RiskLevel   RiskLevel         `json:"risk_level"`
}

// RiskAssessment is the output of the risk scorer
type RiskAssessment struct {
	Score   int       `json:"score"`
	Level   RiskLevel `json:"level"`
	Factors []string  `json:"factors,omitempty"`
}
