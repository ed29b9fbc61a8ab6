package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPExtractor(t *testing.T) {
	extract := buildIPExtractor([]string{"10.0.0.0/8", " ", "not-a-cidr", "fd00::/8"})

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		want       string
	}{
		{"direct client", "203.0.113.7:5000", "", "", "203.0.113.7"},
		{"untrusted peer cannot spoof", "198.51.100.9:5000", "1.2.3.4", "5.6.7.8", "198.51.100.9"},
		{"trusted proxy X-Real-IP", "10.0.0.2:80", "203.0.113.7", "", "203.0.113.7"},
		{"trusted proxy first forwarded hop", "10.0.0.2:80", "", "203.0.113.7, 10.0.0.9", "203.0.113.7"},
		{"garbage header falls back to peer", "10.0.0.2:80", "<script>", "also bad", "10.0.0.2"},
		{"mapped IPv4 is unmapped", "10.0.0.2:80", "::ffff:203.0.113.7", "", "203.0.113.7"},
		{"IPv6 trusted proxy", "[fd00::1]:443", "", "2001:db8::5", "2001:db8::5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, extract(req))
		})
	}
}
