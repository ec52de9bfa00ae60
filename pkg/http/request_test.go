package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/loanguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP(t *testing.T) {
	internal := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "::1/128"}}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct client cannot spoof forwarding headers",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			xRealIP:    "192.168.1.1",
			config:     internal,
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy forwards first valid client address",
			remoteAddr: "10.0.0.5:54321",
			xff:        "not-an-ip, 203.0.113.42, 10.0.0.5",
			config:     internal,
			want:       "203.0.113.42",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.5:54321",
			xRealIP:    "203.0.113.77",
			config:     internal,
			want:       "203.0.113.77",
		},
		{
			name:       "trusted ipv6 proxy",
			remoteAddr: "[::1]:54321",
			xff:        "2001:db8::1",
			config:     internal,
			want:       "2001:db8::1",
		},
		{
			name:       "nil config trusts only the peer",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			want:       "203.0.113.10",
		},
		{
			name:       "invalid cidrs are ignored",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"invalid-cidr-range"}},
			want:       "203.0.113.10",
		},
		{
			name:       "localhost claim from untrusted peer",
			remoteAddr: "203.0.113.10:54321",
			xff:        "127.0.0.1",
			config:     internal,
			want:       "203.0.113.10",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.10",
			want:       "203.0.113.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}

func TestEndpointKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/codes/validate", nil)
	assert.Equal(t, "POST /api/v1/codes/validate", pkghttp.EndpointKey(req))

	var got []string
	router := chi.NewRouter()
	router.Get("/users/{id}/lock-status", func(w http.ResponseWriter, r *http.Request) {
		got = append(got, pkghttp.EndpointKey(r))
	})
	for _, id := range []string{"a", "b"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/"+id+"/lock-status", nil))
	}

	assert.Equal(t, []string{"GET /users/{id}/lock-status", "GET /users/{id}/lock-status"}, got)
}
