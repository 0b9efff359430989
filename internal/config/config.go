package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API and supporting services.
type Config struct {
	ListenAddr    string
	PublicBaseURL string
	LogLevel      string
	MySQLDSN      string

	AudioAPIKey       string
	AudioBaseURL      string
	AudioGeneratePath string
	AudioModel        string
	AudioTimeout      time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceBasic    string
	StripePricePro      string
	StripePricePremium  string

	IdentityJWTSecret string
	IdentityJWTIssuer string

	RateLimitPerSecond float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	TelegramBotToken    string
	TelegramAdminChatID int64

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
	ArchiveMaxBytes int64
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultAudioBaseURL = "https://api.artificialstudio.ai"

	cfg := Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":5000"),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:5000"), "/"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AudioBaseURL:        normalizeBaseURL(getEnv("AUDIO_BASE_URL", defaultAudioBaseURL), defaultAudioBaseURL),
		AudioGeneratePath:   getEnv("AUDIO_GENERATE_PATH", "/api/generate"),
		AudioModel:          getEnv("AUDIO_MODEL", "drum-generator"),
		AudioTimeout:        getDuration("AUDIO_TIMEOUT_SECONDS", 60*time.Second),
		IdentityJWTIssuer:   os.Getenv("IDENTITY_JWT_ISSUER"),
		RateLimitPerSecond:  getFloat("RATE_LIMIT_PER_SECOND", 1),
		RateLimitBurst:      getInt("RATE_LIMIT_BURST", 5),
		CORSAllowedOrigins:  getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		AdminListenAddr:     getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		TelegramAdminChatID: getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "audio"),
		ArchiveMaxBytes:     getInt64("ARCHIVE_MAX_BYTES", 50<<20),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.AudioAPIKey = os.Getenv("AUDIO_API_KEY")
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.StripePriceBasic = os.Getenv("STRIPE_PRICE_BASIC")
	cfg.StripePricePro = os.Getenv("STRIPE_PRICE_PRO")
	cfg.StripePricePremium = os.Getenv("STRIPE_PRICE_PREMIUM")
	cfg.IdentityJWTSecret = os.Getenv("IDENTITY_JWT_SECRET")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.S3Bucket != "" {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramAdminChatID == 0 {
		missing = append(missing, "TELEGRAM_ADMIN_CHAT_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// ArchiveEnabled reports whether provider audio should be mirrored to S3.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// BillingEnabled reports whether a Stripe secret key is configured.
func (c Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// normalizeBaseURL trims the base URL and defaults the scheme to https.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getDuration reads a whole number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	secs := getInt(key, -1)
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		// Values already in the environment win over the file.
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
