package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/susu3304/tipbot/internal/amount"
)

type Config struct {
	// Discord Bot
	DiscordToken   string
	DiscordGuildID string

	// Discord OAuth2
	DiscordClientID     string
	DiscordClientSecret string
	DiscordRedirectURI  string

	// Database
	DatabaseURL  string
	PoolMaxConns int32

	// Redis, for the sweep lock. Optional.
	RedisURL string

	// Wallet daemon RPC. Optional.
	WalletRPCURL      string
	WalletRPCUser     string
	WalletRPCPassword string

	// Web Server
	WebBind      string
	WebUIBaseURL string

	// Session
	JWTSecret string

	// Tipping
	Ticker        string
	MinTip        amount.Amount
	SweepInterval time.Duration
	SweepBatch    int
	StuckAfter    time.Duration

	// Logging
	Environment string
	LogLevel    string
}

const minJWTSecretLen = 32

var defaults = map[string]any{
	"WEB_BIND":             "0.0.0.0:3000",
	"DISCORD_REDIRECT_URI": "http://localhost:3000/api/auth/callback",
	"POOL_MAX_CONNS":       10,
	"COIN_TICKER":          "VRSC",
	"MIN_TIP":              "0.0001",
	"SWEEP_INTERVAL":       "30s",
	"SWEEP_BATCH":          50,
	"STUCK_AFTER":          "10m",
	"ENVIRONMENT":          "production",
	"LOG_LEVEL":            "info",
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &Config{
		DiscordToken:        v.GetString("DISCORD_TOKEN"),
		DiscordGuildID:      v.GetString("DISCORD_GUILD_ID"),
		DiscordClientID:     v.GetString("DISCORD_CLIENT_ID"),
		DiscordClientSecret: v.GetString("DISCORD_CLIENT_SECRET"),
		DiscordRedirectURI:  v.GetString("DISCORD_REDIRECT_URI"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		PoolMaxConns:        v.GetInt32("POOL_MAX_CONNS"),
		RedisURL:            v.GetString("REDIS_URL"),
		WalletRPCURL:        v.GetString("WALLET_RPC_URL"),
		WalletRPCUser:       v.GetString("WALLET_RPC_USER"),
		WalletRPCPassword:   v.GetString("WALLET_RPC_PASSWORD"),
		WebBind:             v.GetString("WEB_BIND"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		Ticker:              strings.ToUpper(v.GetString("COIN_TICKER")),
		SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
		SweepBatch:          v.GetInt("SWEEP_BATCH"),
		StuckAfter:          v.GetDuration("STUCK_AFTER"),
		Environment:         v.GetString("ENVIRONMENT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
	}

	cfg.WebUIBaseURL = extractBaseURL(cfg.DiscordRedirectURI)

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	minTip, err := amount.Parse(v.GetString("MIN_TIP"))
	if err != nil {
		return nil, fmt.Errorf("MIN_TIP: %w", err)
	}
	if minTip.IsZero() {
		return nil, fmt.Errorf("MIN_TIP must be at least %s", amount.Amount(1))
	}
	cfg.MinTip = minTip

	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if cfg.SweepBatch <= 0 {
		return nil, fmt.Errorf("SWEEP_BATCH must be positive")
	}
	if cfg.StuckAfter <= 0 {
		return nil, fmt.Errorf("STUCK_AFTER must be positive")
	}
	if cfg.PoolMaxConns <= 0 {
		return nil, fmt.Errorf("POOL_MAX_CONNS must be positive")
	}
	if cfg.OAuthEnabled() {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required when the Discord login is enabled")
		}
		if cfg.Environment == "production" && len(cfg.JWTSecret) < minJWTSecretLen {
			return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minJWTSecretLen)
		}
	}

	return cfg, nil
}

// OAuthEnabled reports whether the web login can be offered.
func (c *Config) OAuthEnabled() bool {
	return c.DiscordClientID != "" && c.DiscordClientSecret != ""
}

func extractBaseURL(redirectURI string) string {
	// e.g., "http://localhost:3000/api/auth/callback" -> "http://localhost:3000"
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "http://localhost:3000"
	}

	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
}
