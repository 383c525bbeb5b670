package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
)

var ErrMissingCredentials = errors.New("missing credentials")

const (
	StoreRedis    = "redis"
	StoreFirebase = "firebase"
	StorePostgres = "postgres"

	TransportFCM     = "fcm"
	TransportWebPush = "webpush"
)

type Config struct {
	StoreBackend   string
	RedisURL       string
	RedisKeyPrefix string
	DatabaseURL    string

	FirebaseCredentialsJSON string
	FirebaseDatabaseURL     string

	PushTransport   string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	PushTTLSeconds  int

	NtfyTopicURL      string
	NtfyToken         string
	DiscordWebhookURL string
	WebhookURL        string
	WebhookToken      string

	DryRun        bool
	StartupJitter time.Duration
	HTTPTimeout   time.Duration
	SourcesFile   string

	Metrics metrics.Settings

	LogLevel  string
	LogFormat string
}

// Load reads the process environment. Credentials are only required for the
// backends and transports that are actually selected, and a dry run never
// needs push credentials.
func Load() (Config, error) {
	config := Config{
		StoreBackend:            strings.ToLower(getEnv("STORE_BACKEND", StoreRedis)),
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix:          getEnv("REDIS_KEY_PREFIX", "shinbo:"),
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		FirebaseCredentialsJSON: strings.TrimSpace(os.Getenv("FIREBASE_CREDENTIALS_JSON")),
		FirebaseDatabaseURL:     strings.TrimSpace(os.Getenv("FIREBASE_DATABASE_URL")),
		PushTransport:           strings.ToLower(getEnv("PUSH_TRANSPORT", TransportFCM)),
		VAPIDPublicKey:          strings.TrimSpace(os.Getenv("VAPID_PUBLIC_KEY")),
		VAPIDPrivateKey:         strings.TrimSpace(os.Getenv("VAPID_PRIVATE_KEY")),
		VAPIDSubject:            strings.TrimSpace(os.Getenv("VAPID_SUBJECT")),
		PushTTLSeconds:          getEnvInt("PUSH_TTL_SECONDS", 60*60*24),
		NtfyTopicURL:            strings.TrimSpace(os.Getenv("NTFY_TOPIC_URL")),
		NtfyToken:               strings.TrimSpace(os.Getenv("NTFY_TOKEN")),
		DiscordWebhookURL:       strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK_URL")),
		WebhookURL:              strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		WebhookToken:            strings.TrimSpace(os.Getenv("WEBHOOK_TOKEN")),
		DryRun:                  getEnvBool("DRY_RUN", false),
		StartupJitter:           getEnvDuration("STARTUP_JITTER", 0),
		HTTPTimeout:             getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		SourcesFile:             strings.TrimSpace(os.Getenv("SOURCES_FILE")),
		Metrics: metrics.Settings{
			PushgatewayURL: strings.TrimSpace(os.Getenv("PROMETHEUS_PUSHGATEWAY_URL")),
			JobName:        getEnv("PROMETHEUS_JOB_NAME", "shinbo-notifier"),
			GroupingKey:    strings.TrimSpace(os.Getenv("PROMETHEUS_GROUPING_KEY")),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	switch config.StoreBackend {
	case StoreRedis:
		if config.RedisURL == "" {
			return Config{}, errors.New("REDIS_URL is required for the redis store")
		}
	case StorePostgres:
		if config.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreFirebase:
		if config.FirebaseDatabaseURL == "" {
			return Config{}, errors.New("FIREBASE_DATABASE_URL is required for the firebase store")
		}
		if config.FirebaseCredentialsJSON == "" {
			return Config{}, fmt.Errorf("%w: FIREBASE_CREDENTIALS_JSON is required for the firebase store", ErrMissingCredentials)
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", config.StoreBackend)
	}

	switch config.PushTransport {
	case TransportFCM:
		if !config.DryRun && config.FirebaseCredentialsJSON == "" {
			return Config{}, fmt.Errorf("%w: FIREBASE_CREDENTIALS_JSON is required for fcm", ErrMissingCredentials)
		}
	case TransportWebPush:
		if !config.DryRun && (config.VAPIDPublicKey == "" || config.VAPIDPrivateKey == "") {
			return Config{}, fmt.Errorf("%w: VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required for webpush", ErrMissingCredentials)
		}
		config.VAPIDSubject = firstNonEmpty(config.VAPIDSubject, "mailto:admin@localhost")
	default:
		return Config{}, fmt.Errorf("unknown PUSH_TRANSPORT %q", config.PushTransport)
	}

	if config.PushTTLSeconds < 1 {
		config.PushTTLSeconds = 60
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 15 * time.Second
	}
	if config.StartupJitter < 0 {
		config.StartupJitter = 0
	}

	return config, nil
}

// NeedsFirebase reports whether any selected component talks to Firebase.
func (c Config) NeedsFirebase() bool {
	if c.StoreBackend == StoreFirebase {
		return true
	}
	return c.PushTransport == TransportFCM && !c.DryRun
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if value, err := time.ParseDuration(raw); err == nil {
		return value
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
