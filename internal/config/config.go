package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	MySQLDSN string

	LineChannelSecret string
	LineChannelToken  string
	LineBaseURL       string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string
	StripeBasePriceID   string

	PaymentCurrency     string
	BasePriceMinorUnits int
	AdditionalItemPrice int
	TrialDays           int
	CancelGraceDays     int
	RequestTimeout      time.Duration

	ListenAddr    string
	AdminUsername string
	AdminPassword string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UsePathStyle bool
	S3Prefix       string
}

// ArchiveEnabled reports whether webhook payload archiving is configured.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		LineBaseURL:         getEnv("LINE_BASE_URL", "https://api.line.me"),
		StripeBaseURL:       getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		PaymentCurrency:     getEnv("PAYMENT_CURRENCY", "jpy"),
		BasePriceMinorUnits: getInt("BASE_PRICE_MINOR_UNITS", 3900),
		AdditionalItemPrice: getInt("ADDITIONAL_ITEM_PRICE", 1500),
		TrialDays:           getInt("TRIAL_DAYS", 14),
		CancelGraceDays:     getInt("CANCEL_GRACE_DAYS", 7),
		RequestTimeout:      time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 15)),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "webhook-events"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.LineChannelSecret = os.Getenv("LINE_CHANNEL_SECRET")
	cfg.LineChannelToken = os.Getenv("LINE_CHANNEL_ACCESS_TOKEN")
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.StripeBasePriceID = os.Getenv("STRIPE_BASE_PRICE_ID")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.LineChannelSecret == "" {
		missing = append(missing, "LINE_CHANNEL_SECRET")
	}
	if cfg.LineChannelToken == "" {
		missing = append(missing, "LINE_CHANNEL_ACCESS_TOKEN")
	}
	if cfg.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if cfg.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
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
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running purely off process env is fine in containers.
	return nil
}
