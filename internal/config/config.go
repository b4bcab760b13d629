package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	PublicBaseURL  string // used to build mailbox verification links
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	AWSAccountID   string
	DynamoTables   DynamoTables

	S3BucketName  string
	ZoneExportTTL time.Duration

	SESRegion       string
	SESTenantPrefix string // empty disables SES tenant associations

	SNSRegion            string
	NotificationTopicARN string
	SNSVerifySignatures  bool
	SESEventTopicARNs    []string // topics allowed to deliver provider events

	RedisURL        string
	ScheduleKey     string
	ScheduleLease   time.Duration
	WorkerInterval  time.Duration
	WorkerBatchSize int
	SweepInterval   time.Duration
	MetricsPort     string // worker metrics listener

	TokenKey string // 32-byte key, hex encoded

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	AllowedOrigins    []string // CORS allowed origins
	TrustProxyHeaders bool     // take the client address from X-Forwarded-For / X-Real-IP
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Senders             string
	DomainVerifications string
	OrphanedIdentities  string
	Tenants             string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSAccountID:   getEnv("AWS_ACCOUNT_ID", ""),
		DynamoTables: DynamoTables{
			Senders:             getEnv("DYNAMO_TABLE_SENDERS", "senders"),
			DomainVerifications: getEnv("DYNAMO_TABLE_DOMAIN_VERIFICATIONS", "domain_verifications"),
			OrphanedIdentities:  getEnv("DYNAMO_TABLE_ORPHANED_IDENTITIES", "orphaned_identities"),
			Tenants:             getEnv("DYNAMO_TABLE_TENANTS", "tenants"),
		},
		S3BucketName:         getEnv("S3_BUCKET_NAME", "sender-dns-exports"),
		ZoneExportTTL:        getEnvDuration("ZONE_EXPORT_TTL", 24*time.Hour),
		SESRegion:            getEnv("SES_REGION", getEnv("AWS_REGION", "us-east-1")),
		SESTenantPrefix:      getEnv("SES_TENANT_PREFIX", ""),
		SNSRegion:            getEnv("SNS_REGION", "us-east-1"),
		NotificationTopicARN: getEnv("NOTIFICATION_TOPIC_ARN", ""),
		SNSVerifySignatures:  getEnvBool("SNS_VERIFY_SIGNATURES", true),
		SESEventTopicARNs:    getEnvList("SES_EVENTS_TOPIC_ARNS"),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ScheduleKey:          getEnv("SCHEDULE_KEY", "sender-verification:schedule"),
		ScheduleLease:        getEnvDuration("SCHEDULE_LEASE", 5*time.Minute),
		WorkerInterval:       getEnvDuration("WORKER_INTERVAL", 15*time.Second),
		WorkerBatchSize:      getEnvInt("WORKER_BATCH_SIZE", 50),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", time.Hour),
		MetricsPort:          getEnv("WORKER_METRICS_PORT", "9090"),
		TokenKey:             getEnv("VERIFICATION_TOKEN_KEY", ""),
		JWTPrivateKeyPath:    getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:     getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:            time.Duration(getEnvInt("JWT_EXPIRY_DAYS", 7)) * 24 * time.Hour,
		SMTPHost:             getEnv("SMTP_HOST", "localhost"),
		SMTPPort:             getEnv("SMTP_PORT", "1025"),
		SMTPFrom:             getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		AllowedOrigins:       strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxyHeaders:    getEnvBool("TRUST_PROXY_HEADERS", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvDuration accepts Go duration strings such as "90s" or "1h".
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
