package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGeoLocator_Lookup_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/203.0.113.7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","country":"France","city":"Paris","lat":48.8566,"lon":2.3522}`))
	}))
	defer server.Close()

	geo := NewHTTPGeoLocator(server.URL+"/json/", time.Second)

	location, err := geo.Lookup(context.Background(), "203.0.113.7")

	require.NoError(t, err)
	assert.Equal(t, &models.GeoLocation{Country: "France", City: "Paris", Latitude: 48.8566, Longitude: 2.3522}, location)
}

func TestHTTPGeoLocator_Lookup_PrivateAddressIsUnknown(t *testing.T) {
	geo := NewHTTPGeoLocator("http://127.0.0.1:1", time.Second)

	for _, ip := range []string{"10.0.0.1", "192.168.1.20", "127.0.0.1", "::1"} {
		location, err := geo.Lookup(context.Background(), ip)
		assert.NoError(t, err, ip)
		assert.Nil(t, location, ip)
	}
}

func TestHTTPGeoLocator_Lookup_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/198.51.100.1":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/198.51.100.2":
			_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer server.Close()

	geo := NewHTTPGeoLocator(server.URL, time.Second)

	for _, ip := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3", "not-an-ip"} {
		_, err := geo.Lookup(context.Background(), ip)
		assert.ErrorIs(t, err, models.ErrLookupFailed, ip)
	}
}

func TestHTTPGeoLocator_Lookup_HonoursContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	geo := NewHTTPGeoLocator(server.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := geo.Lookup(ctx, "203.0.113.7")

	assert.ErrorIs(t, err, models.ErrLookupFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
