package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	EventStore   EventStoreConfig
	Redis        RedisConfig
	TSA          TSAConfig
	Retention    RetentionConfig
	Archive      ArchiveConfig
	Verification VerificationConfig
	Auth         AuthConfig
	LogLevel     string
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// EventStoreConfig holds configuration for the EventStoreDB event bus.
type EventStoreConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

// RedisConfig holds configuration for the verification result cache.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// TSAConfig holds configuration for timestamp issuance and the reseal
// schedule.
type TSAConfig struct {
	// PrimaryURL is the primary RFC 3161 provider endpoint. Empty means the
	// in-process TSA is primary (development).
	PrimaryURL string
	// FallbackURL is the secondary provider used after the retry budget on
	// the primary is exhausted.
	FallbackURL string
	// RequestTimeout bounds a single provider round trip.
	RequestTimeout time.Duration
	// MaxAttempts is the per-provider retry budget.
	MaxAttempts int
	// RequestsPerSecond rate-limits outbound TSA traffic.
	RequestsPerSecond int
	// TokenValidityDays is the assumed validity of issued tokens when the
	// provider certificate does not state one.
	TokenValidityDays int
	// ResealLeadDays is subtracted from token expiry to get the reseal due
	// date.
	ResealLeadDays int
	// MaxResealIntervalDays caps how far out a reseal may be scheduled
	// regardless of token validity.
	MaxResealIntervalDays int
	// CertExpiryWarnDays controls the near-expiry warning window during
	// chain verification.
	CertExpiryWarnDays int
	// MaxChainLength completes a chain and opens a successor once reached.
	MaxChainLength int
	// OrgName for the self-signed in-process TSA certificate (development).
	OrgName string
	// CertPath / KeyPath for a production in-process TSA certificate.
	CertPath string
	KeyPath  string
}

// RetentionConfig holds the retention policy engine knobs.
type RetentionConfig struct {
	// MaxYears is the absolute system-wide retention ceiling measured from
	// archive time. Extensions can never push expiry past it.
	MaxYears int
	// DefaultYears / DefaultDays back the runtime fallback policy used when
	// no persisted policy matches.
	DefaultYears int
	DefaultDays  int
	// DefaultResealIntervalDays for the fallback policy.
	DefaultResealIntervalDays int
	// DefaultExpiryAction for the fallback policy: archive, delete, notify
	// or extend.
	DefaultExpiryAction string
}

// ArchiveConfig holds storage tier configuration.
type ArchiveConfig struct {
	// HotDisk, ColdDisk and ArchiveDisk name the storage backends per tier.
	HotDisk     string
	ColdDisk    string
	ArchiveDisk string
	// LocalRoot is the base directory for local filesystem disks.
	LocalRoot string
	// S3 settings for object-store disks.
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
	// ColdAfterDays moves hot documents to cold storage.
	ColdAfterDays int
	// ArchiveAfterDays moves cold documents to deep archive.
	ArchiveAfterDays int
}

// VerificationConfig holds the confidence scoring knobs. Weights sum to 100
// by default; the engine scores with whatever is configured.
type VerificationConfig struct {
	WeightDocumentHash int
	WeightChainHash    int
	WeightTimestamp    int
	WeightFingerprint  int
	WeightGeolocation  int
	WeightIPResolution int
	WeightConsent      int

	HighThreshold   int
	MediumThreshold int

	// CodeMinLength rejects shorter lookups as invalid format before any
	// repository access.
	CodeMinLength int
	// CacheTTL for verification results (success and failure alike).
	CacheTTL time.Duration
	// RateLimitPerSecond and RateLimitBurst bound the public endpoint per IP.
	RateLimitPerSecond int
	RateLimitBurst     int
}

type AuthConfig struct {
	JWTSecret string
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "evidence"),
			Password: getEnv("DB_PASSWORD", "evidence"),
			Database: getEnv("DB_NAME", "evidence"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		EventStore: EventStoreConfig{
			Enabled:  getEnvBool("EVENTSTORE_ENABLED", false),
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		TSA: TSAConfig{
			PrimaryURL:            getEnv("TSA_PRIMARY_URL", ""),
			FallbackURL:           getEnv("TSA_FALLBACK_URL", ""),
			RequestTimeout:        getEnvDuration("TSA_REQUEST_TIMEOUT", 10*time.Second),
			MaxAttempts:           getEnvInt("TSA_MAX_ATTEMPTS", 3),
			RequestsPerSecond:     getEnvInt("TSA_REQUESTS_PER_SECOND", 10),
			TokenValidityDays:     getEnvInt("TSA_TOKEN_VALIDITY_DAYS", 365),
			ResealLeadDays:        getEnvInt("TSA_RESEAL_LEAD_DAYS", 30),
			MaxResealIntervalDays: getEnvInt("TSA_MAX_RESEAL_INTERVAL_DAYS", 365),
			CertExpiryWarnDays:    getEnvInt("TSA_CERT_EXPIRY_WARN_DAYS", 60),
			MaxChainLength:        getEnvInt("TSA_MAX_CHAIN_LENGTH", 100),
			OrgName:               getEnv("TSA_ORG_NAME", "Evidentia Preservation"),
			CertPath:              getEnv("TSA_CERT_PATH", ""),
			KeyPath:               getEnv("TSA_KEY_PATH", ""),
		},
		Retention: RetentionConfig{
			MaxYears:                  getEnvInt("RETENTION_MAX_YEARS", 50),
			DefaultYears:              getEnvInt("RETENTION_DEFAULT_YEARS", 5),
			DefaultDays:               getEnvInt("RETENTION_DEFAULT_DAYS", 0),
			DefaultResealIntervalDays: getEnvInt("RETENTION_DEFAULT_RESEAL_INTERVAL_DAYS", 365),
			DefaultExpiryAction:       getEnv("RETENTION_DEFAULT_EXPIRY_ACTION", "archive"),
		},
		Archive: ArchiveConfig{
			HotDisk:          getEnv("ARCHIVE_HOT_DISK", "local"),
			ColdDisk:         getEnv("ARCHIVE_COLD_DISK", "local"),
			ArchiveDisk:      getEnv("ARCHIVE_DEEP_DISK", "local"),
			LocalRoot:        getEnv("ARCHIVE_LOCAL_ROOT", "./data/archive"),
			S3Bucket:         getEnv("ARCHIVE_S3_BUCKET", ""),
			S3Region:         getEnv("ARCHIVE_S3_REGION", "eu-central-1"),
			S3Endpoint:       getEnv("ARCHIVE_S3_ENDPOINT", ""),
			S3Prefix:         getEnv("ARCHIVE_S3_PREFIX", "archive/"),
			ColdAfterDays:    getEnvInt("ARCHIVE_COLD_AFTER_DAYS", 90),
			ArchiveAfterDays: getEnvInt("ARCHIVE_DEEP_AFTER_DAYS", 365),
		},
		Verification: VerificationConfig{
			WeightDocumentHash: getEnvInt("VERIFY_WEIGHT_DOCUMENT_HASH", 20),
			WeightChainHash:    getEnvInt("VERIFY_WEIGHT_CHAIN_HASH", 20),
			WeightTimestamp:    getEnvInt("VERIFY_WEIGHT_TIMESTAMP", 20),
			WeightFingerprint:  getEnvInt("VERIFY_WEIGHT_FINGERPRINT", 15),
			WeightGeolocation:  getEnvInt("VERIFY_WEIGHT_GEOLOCATION", 10),
			WeightIPResolution: getEnvInt("VERIFY_WEIGHT_IP_RESOLUTION", 10),
			WeightConsent:      getEnvInt("VERIFY_WEIGHT_CONSENT", 5),
			HighThreshold:      getEnvInt("VERIFY_HIGH_THRESHOLD", 90),
			MediumThreshold:    getEnvInt("VERIFY_MEDIUM_THRESHOLD", 70),
			CodeMinLength:      getEnvInt("VERIFY_CODE_MIN_LENGTH", 8),
			CacheTTL:           getEnvDuration("VERIFY_CACHE_TTL", 5*time.Minute),
			RateLimitPerSecond: getEnvInt("VERIFY_RATE_LIMIT_RPS", 5),
			RateLimitBurst:     getEnvInt("VERIFY_RATE_LIMIT_BURST", 10),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
