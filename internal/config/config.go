package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	// Telegram
	BotToken    string
	BotUsername string

	// Crypto Pay
	CryptoPayToken   string
	CryptoPayBaseURL string
	PaymentAsset     string

	// Ops HTTP server
	HTTPPort int

	// Database
	DBPath string

	// Operators
	AdminUsernames map[string]bool

	// Economy
	DefaultRate       decimal.Decimal
	ReferralShare     decimal.Decimal
	HashratePackGH    decimal.Decimal
	HashratePackPrice decimal.Decimal

	// Accrual schedule
	AccrualInterval     time.Duration
	AccrualSchedule     string
	AccrualStartupDelay time.Duration

	// Lists
	PendingListLimit int
	TopListLimit     int
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("BOT_USERNAME", "cloud_mining_bot")
	v.SetDefault("CRYPTOBOT_BASE_URL", "https://pay.crypt.bot/api")
	v.SetDefault("PAYMENT_ASSET", "USDT")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("DB_PATH", "./db.sqlite")
	v.SetDefault("ADMIN_USERNAMES", "mkru27")
	v.SetDefault("DEFAULT_RATE", "0.01") // USDT per GH/s per day
	v.SetDefault("REFERRAL_SHARE", "0.01")
	v.SetDefault("HASHRATE_PACK_GH", "10")
	v.SetDefault("HASHRATE_PACK_PRICE", "1")
	v.SetDefault("ACCRUAL_INTERVAL", "24h")
	v.SetDefault("ACCRUAL_SCHEDULE", "@every 24h")
	v.SetDefault("ACCRUAL_STARTUP_DELAY", "30s")
	v.SetDefault("PENDING_LIST_LIMIT", 10)
	v.SetDefault("TOP_LIST_LIMIT", 10)
	v.AutomaticEnv()

	cfg := &Config{
		BotToken:    v.GetString("BOT_TOKEN"),
		BotUsername: strings.TrimPrefix(v.GetString("BOT_USERNAME"), "@"),

		CryptoPayToken:   v.GetString("CRYPTOBOT_TOKEN"),
		CryptoPayBaseURL: strings.TrimSuffix(v.GetString("CRYPTOBOT_BASE_URL"), "/"),
		PaymentAsset:     v.GetString("PAYMENT_ASSET"),

		HTTPPort: v.GetInt("HTTP_PORT"),

		DBPath: v.GetString("DB_PATH"),

		AccrualInterval:     v.GetDuration("ACCRUAL_INTERVAL"),
		AccrualSchedule:     v.GetString("ACCRUAL_SCHEDULE"),
		AccrualStartupDelay: v.GetDuration("ACCRUAL_STARTUP_DELAY"),

		PendingListLimit: v.GetInt("PENDING_LIST_LIMIT"),
		TopListLimit:     v.GetInt("TOP_LIST_LIMIT"),
	}

	decimals := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"DEFAULT_RATE", &cfg.DefaultRate},
		{"REFERRAL_SHARE", &cfg.ReferralShare},
		{"HASHRATE_PACK_GH", &cfg.HashratePackGH},
		{"HASHRATE_PACK_PRICE", &cfg.HashratePackPrice},
	}
	for _, d := range decimals {
		val, err := decimal.NewFromString(strings.TrimSpace(v.GetString(d.key)))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = val
	}

	if cfg.AccrualInterval <= 0 {
		return nil, fmt.Errorf("invalid ACCRUAL_INTERVAL: must be positive")
	}

	// Parse admin usernames
	cfg.AdminUsernames = make(map[string]bool)
	for _, name := range strings.Split(v.GetString("ADMIN_USERNAMES"), ",") {
		name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
		if name != "" {
			cfg.AdminUsernames[name] = true
		}
	}

	return cfg, nil
}
