package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ROUTING_ACCESS_TOKEN", "token")

	cfg := Load()

	assert.Equal(t, 30*time.Minute, cfg.Matching.TimeWindow)
	assert.Equal(t, 0.1, cfg.Matching.RadiusFraction)
	assert.Equal(t, 45.0, cfg.Matching.BearingThreshold)
	assert.Equal(t, 30*time.Second, cfg.Group.CountdownWindow)
	assert.Equal(t, 12, cfg.Group.MaxMembers)
	assert.Equal(t, "X-User-ID", cfg.Auth.UserHeader)
	assert.False(t, cfg.Kafka.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ROUTING_PROVIDER", "osrm")
	t.Setenv("GROUP_COUNTDOWN_WINDOW", "5s")
	t.Setenv("MATCH_RADIUS_FRACTION", "0.2")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	assert.Equal(t, "osrm", cfg.Routing.Provider)
	assert.Equal(t, 5*time.Second, cfg.Group.CountdownWindow)
	assert.Equal(t, 0.2, cfg.Matching.RadiusFraction)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0, cfg.Redis.DB, "invalid ints fall back to the default")
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Load()
	cfg.Routing.Provider = "mapbox"
	cfg.Routing.AccessToken = ""
	cfg.Matching.RadiusFraction = 0
	cfg.Group.FinalizeRetries = 0

	err := cfg.Validate()
	require.Error(t, err)

	assert.Contains(t, err.Error(), "ROUTING_ACCESS_TOKEN")
	assert.Contains(t, err.Error(), "MATCH_RADIUS_FRACTION")
	assert.Contains(t, err.Error(), "GROUP_FINALIZE_RETRIES")
}

func TestValidate_GroupSizeFitsRoutingProvider(t *testing.T) {
	t.Setenv("ROUTING_ACCESS_TOKEN", "token")

	tests := []struct {
		name       string
		provider   string
		maxMembers int
		wantErr    bool
	}{
		{"mapbox at limit", "mapbox", 12, false},
		{"mapbox over limit", "mapbox", 13, true},
		{"mapbox unlimited", "mapbox", 0, true},
		{"osrm large", "osrm", 40, false},
		{"osrm unlimited", "osrm", 0, false},
		{"single member", "osrm", 1, true},
		{"negative", "osrm", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.Routing.Provider = tt.provider
			cfg.Group.MaxMembers = tt.maxMembers

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "GROUP_MAX_MEMBERS")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
