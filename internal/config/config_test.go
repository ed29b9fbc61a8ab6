package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.Whitelist.TTL)
	assert.Equal(t, time.Hour, cfg.Whitelist.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.Zoraxy.Timeout)
	assert.False(t, cfg.Zoraxy.Configured())
	assert.Contains(t, cfg.TrustedProxies, "10.0.0.0/8")
	assert.True(t, cfg.MetricsEnabled)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 10, cfg.Database.ConnectAttempts)
	assert.Equal(t, 5, cfg.Redis.ConnectAttempts)
}

func TestLoad_Zoraxy(t *testing.T) {
	t.Setenv("ZORAXY_API_URL", "https://zoraxy.internal:8000/")
	t.Setenv("ZORAXY_USERNAME", "admin")
	t.Setenv("ZORAXY_PASSWORD", "s3cret")
	t.Setenv("ZORAXY_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Zoraxy.Configured())
	assert.Equal(t, "https://zoraxy.internal:8000", cfg.Zoraxy.URL)
	assert.Equal(t, 3*time.Second, cfg.Zoraxy.Timeout)
}

func TestLoad_RejectsRelativeZoraxyURL(t *testing.T) {
	t.Setenv("ZORAXY_API_URL", "zoraxy:8000")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveTTL(t *testing.T) {
	t.Setenv("WHITELIST_TTL", "0s")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_TrustedProxiesList(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", " 10.1.0.0/16, ,192.168.5.1/32 ")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.0.0/16", "192.168.5.1/32"}, cfg.TrustedProxies)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", User: "lf", Password: "p@ss", Name: "lf"}
	assert.Contains(t, d.DSN(), "tcp(db:3306)/lf")
	assert.Contains(t, d.DSN(), "parseTime=true")

	d.dsnOverride = "x:y@tcp(h:1)/z"
	assert.Equal(t, "x:y@tcp(h:1)/z", d.DSN())
}
