package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
)

// Scoring weights and thresholds
const (
	RiskHistoryLimit = 10

	geoJumpDistanceKm  = 500.0
	geoJumpPoints      = 30
	recentFailureSpan  = time.Hour
	recentFailurePoint = 10
	unknownDevicePoint = 20

	criticalThreshold = 70
	highThreshold     = 50
	mediumThreshold   = 30

	earthRadiusKm = 6371.0
)

// Risk factor labels
const (
	FactorGeoJump        = "geo_jump"
	FactorRecentFailures = "recent_failures"
	FactorUnknownDevice  = "unknown_device"
)

// GeoLocator resolves an IP address to a location.
// A nil location with nil error means the address is unknown.
type GeoLocator interface {
	Lookup(ctx context.Context, ipAddress string) (*models.GeoLocation, error)
}

// RiskScorer assigns an additive risk score to login events
type RiskScorer struct {
	geo           GeoLocator
	lookupTimeout time.Duration
	logger        *slog.Logger
}

// NewRiskScorer creates a new RiskScorer. geo may be nil.
func NewRiskScorer(geo GeoLocator, lookupTimeout time.Duration, logger *slog.Logger) *RiskScorer {
	if lookupTimeout <= 0 {
		lookupTimeout = 2 * time.Second
	}
	return &RiskScorer{
		geo:           geo,
		lookupTimeout: lookupTimeout,
		logger:        logger,
	}
}

// Locate resolves ipAddress with a bounded timeout. Any failure yields nil.
func (s *RiskScorer) Locate(ctx context.Context, ipAddress string) *models.GeoLocation {
	if s.geo == nil || ipAddress == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	location, err := s.geo.Lookup(ctx, ipAddress)
	if err != nil {
		attrs := []any{slog.String("ip_address", ipAddress), slog.Any("error", err)}
		if errors.Is(err, context.DeadlineExceeded) {
			attrs = append(attrs, slog.Duration("timeout", s.lookupTimeout))
		}
		s.logger.WarnContext(ctx, "geolocation lookup failed", attrs...)
		return nil
	}

	return location
}

// Score evaluates event against history, newest first. Only the first
// RiskHistoryLimit entries are considered. The result is deterministic.
func (s *RiskScorer) Score(event *models.SecurityEvent, history []*models.SecurityEvent, trusted []models.DeviceClass) models.RiskAssessment {
	if len(history) > RiskHistoryLimit {
		history = history[:RiskHistoryLimit]
	}

	var assessment models.RiskAssessment

	if len(history) > 0 {
		previous := history[0]
		if previous.GeoLocation != nil && event.GeoLocation != nil {
			if Haversine(*previous.GeoLocation, *event.GeoLocation) > geoJumpDistanceKm {
				assessment.Score += geoJumpPoints
				assessment.Factors = append(assessment.Factors, FactorGeoJump)
			}
		}
	}

	failures := 0
	for _, prior := range history {
		if prior.EventType == models.EventLoginFailed && event.Timestamp.Sub(prior.Timestamp) < recentFailureSpan {
			failures++
		}
	}
	if failures > 0 {
		assessment.Score += recentFailurePoint * failures
		assessment.Factors = append(assessment.Factors, FactorRecentFailures)
	}

	class := event.DeviceClass
	if class == "" {
		class = models.ClassifyDevice(event.UserAgent)
	}
	if !slices.Contains(trusted, class) {
		assessment.Score += unknownDevicePoint
		assessment.Factors = append(assessment.Factors, FactorUnknownDevice)
	}

	assessment.Level = LevelForScore(assessment.Score)
	return assessment
}

// LevelForScore maps a score to its band. Thresholds are exclusive.
func LevelForScore(score int) models.RiskLevel {
	switch {
	case score > criticalThreshold:
		return models.RiskCritical
	case score > highThreshold:
		return models.RiskHigh
	case score > mediumThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Haversine returns the great-circle distance between a and b in kilometres
func Haversine(a, b models.GeoLocation) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
