package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/carrierbridge/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 80, cfg.Port)
	assert.True(t, cfg.DHLEnabled)
	assert.True(t, cfg.FedExEnabled)
	assert.Equal(t, 20*time.Second, cfg.Timeouts().Rate)
	assert.Equal(t, 60*time.Second, cfg.Timeouts().Book)
	assert.Equal(t, 15*time.Second, cfg.TokenTimeout)
	assert.Equal(t, 300*time.Second, cfg.TokenRefreshBuffer)
	assert.Equal(t, config.SyncLog, cfg.SyncBackend)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)

	breaker := cfg.Breaker()
	assert.False(t, breaker.Disabled)
	assert.Equal(t, uint32(5), breaker.MinRequests)
	assert.InDelta(t, 0.5, breaker.FailureRatio, 0.0001)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("FEDEX_ENABLED", "false")
	t.Setenv("BOOKING_TIMEOUT", "45s")
	t.Setenv("SYNC_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.FedExEnabled)
	assert.Equal(t, 45*time.Second, cfg.Timeouts().Book)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_SyncBackendRequirements(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "kafka without brokers", env: map[string]string{"SYNC_BACKEND": "kafka"}, wantErr: "KAFKA_BROKERS"},
		{name: "amqp without url", env: map[string]string{"SYNC_BACKEND": "amqp"}, wantErr: "AMQP_URL"},
		{name: "unknown backend", env: map[string]string{"SYNC_BACKEND": "sftp"}, wantErr: "unknown sync backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("RATE_TIMEOUT", "soon")

	_, err := config.Load()

	assert.Error(t, err)
}

func TestConfig_Attributes(t *testing.T) {
	cfg := &config.Config{ServiceName: "carrierbridge", Version: "1.2.3", DHLEnabled: true, SyncBackend: config.SyncAMQP}

	attrs := cfg.Attributes()

	assert.Contains(t, attrs, attribute.String("service.name", "carrierbridge"))
	assert.Contains(t, attrs, attribute.Bool("dhl.enabled", true))
	assert.Contains(t, attrs, attribute.Bool("fedex.enabled", false))
	assert.Contains(t, attrs, attribute.String("sync.backend", "amqp"))
}
