package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "3000", cfg.AppPort)
	assert.Equal(t, "senders", cfg.DynamoTables.Senders)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 24*time.Hour, cfg.ZoneExportTTL)
	assert.True(t, cfg.SNSVerifySignatures)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTExpiry)
	assert.Empty(t, cfg.SESEventTopicARNs)
	assert.False(t, cfg.TrustProxyHeaders)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://api.example.com/")
	t.Setenv("SCHEDULE_LEASE", "90s")
	t.Setenv("WORKER_BATCH_SIZE", "10")
	t.Setenv("SNS_VERIFY_SIGNATURES", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg := Load()
	assert.Equal(t, "https://api.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 90*time.Second, cfg.ScheduleLease)
	assert.Equal(t, 10, cfg.WorkerBatchSize)
	assert.False(t, cfg.SNSVerifySignatures)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_EventTopicList(t *testing.T) {
	t.Setenv("SES_EVENTS_TOPIC_ARNS", " arn:aws:sns:us-east-1:1:ses-events ,, arn:aws:sns:eu-west-1:1:ses-events")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg := Load()
	assert.Equal(t, []string{"arn:aws:sns:us-east-1:1:ses-events", "arn:aws:sns:eu-west-1:1:ses-events"}, cfg.SESEventTopicARNs)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "hourly")
	t.Setenv("WORKER_BATCH_SIZE", "lots")
	t.Setenv("SNS_VERIFY_SIGNATURES", "maybe")

	cfg := Load()
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 50, cfg.WorkerBatchSize)
	assert.True(t, cfg.SNSVerifySignatures)
}
