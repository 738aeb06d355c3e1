package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
)

const (
	StoreDriverGorm = "gorm"
	StoreDriverPgx  = "pgx"

	defaultDatabaseURL     = "sqlite:///tmp/visitpay.db"
	defaultHTTPListenAddr  = ":8080"
	defaultGRPCListenAddr  = ":7000"
	defaultOpsListenAddr   = ":9100"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultSessionIssuer   = "tauth"
	defaultSessionCookie   = "app_session"
	defaultAdminRole       = "admin"
	defaultCurrency        = "GNF"
	defaultCodeTTL         = 60 * time.Second
	defaultResendCooldown  = 60 * time.Second
	defaultMaxResends      = 3
	defaultMaxVerify       = 3
	defaultCodeHashCost    = 10
	defaultRequestTimeout  = 5 * time.Second
	defaultDeliveryTimeout = 5 * time.Second
	defaultSettleWindow    = 14 * 24 * time.Hour
	defaultMaxAmount       = int64(1_000_000_000_000)
)

// Config aggregates runtime settings for visitpayd.
type Config struct {
	DatabaseURL       string
	StoreDriver       string
	HTTPListenAddr    string
	GRPCListenAddr    string
	OpsListenAddr     string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AdminRole         string
	Currency          string
	CodeTTL           time.Duration
	ResendCooldown    time.Duration
	MaxResends        int
	MaxVerifyAttempts int
	CodeHashCost      int
	RequestTimeout    time.Duration
	DeliveryTimeout   time.Duration
	SMSGatewayURL     string
	SMSGatewayToken   string
	TelegramBotToken  string
	TelegramChatID    int64
	SettleWindow      time.Duration
	MaxAmount         int64
	VisitFee          int64
	DevLogs           bool
}

// Validate applies defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.OpsListenAddr = defaultIfEmpty(cfg.OpsListenAddr, defaultOpsListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	cfg.Currency = defaultIfEmpty(cfg.Currency, defaultCurrency)
	cfg.CodeTTL = defaultIfZero(cfg.CodeTTL, defaultCodeTTL)
	cfg.ResendCooldown = defaultIfZero(cfg.ResendCooldown, defaultResendCooldown)
	if cfg.MaxResends == 0 {
		cfg.MaxResends = defaultMaxResends
	}
	if cfg.MaxVerifyAttempts == 0 {
		cfg.MaxVerifyAttempts = defaultMaxVerify
	}
	if cfg.CodeHashCost == 0 {
		cfg.CodeHashCost = defaultCodeHashCost
	}
	cfg.RequestTimeout = defaultIfZero(cfg.RequestTimeout, defaultRequestTimeout)
	cfg.DeliveryTimeout = defaultIfZero(cfg.DeliveryTimeout, defaultDeliveryTimeout)
	cfg.SettleWindow = defaultIfZero(cfg.SettleWindow, defaultSettleWindow)
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = defaultMaxAmount
	}

	if cfg.StoreDriver != StoreDriverGorm && cfg.StoreDriver != StoreDriverPgx {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == StoreDriverPgx && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("store driver %s requires a postgres database url", StoreDriverPgx)
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if _, err := ledger.NewCurrency(cfg.Currency); err != nil {
		return err
	}
	if err := cfg.checkDurations(); err != nil {
		return err
	}
	if cfg.MaxResends < 0 {
		return fmt.Errorf("max resends must not be negative")
	}
	if cfg.MaxVerifyAttempts < 0 {
		return fmt.Errorf("max verify attempts must be positive")
	}
	if cfg.MaxAmount < 0 {
		return fmt.Errorf("max amount must be positive")
	}
	if cfg.VisitFee < 0 {
		return fmt.Errorf("visit fee must not be negative")
	}
	if cfg.VisitFee > cfg.MaxAmount {
		return fmt.Errorf("visit fee must not exceed max amount")
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == 0) {
		return fmt.Errorf("telegram bot token and chat id must be set together")
	}
	return nil
}

func (cfg *Config) checkDurations() error {
	for name, value := range map[string]time.Duration{
		"code ttl":         cfg.CodeTTL,
		"resend cooldown":  cfg.ResendCooldown,
		"request timeout":  cfg.RequestTimeout,
		"delivery timeout": cfg.DeliveryTimeout,
		"settle window":    cfg.SettleWindow,
	} {
		if value < time.Second {
			return fmt.Errorf("%s must be at least one second", name)
		}
	}
	return nil
}

// AuthorizationPolicy converts the configured durations into the ledger policy.
func (cfg *Config) AuthorizationPolicy() ledger.AuthorizationPolicy {
	return ledger.AuthorizationPolicy{
		CodeTTLSeconds:        int64(cfg.CodeTTL / time.Second),
		ResendCooldownSeconds: int64(cfg.ResendCooldown / time.Second),
		MaxResends:            cfg.MaxResends,
		MaxVerifyAttempts:     cfg.MaxVerifyAttempts,
	}
}

// ServiceOptions returns the ledger options derived from the configuration.
func (cfg *Config) ServiceOptions() ([]ledger.ServiceOption, error) {
	currency, err := ledger.NewCurrency(cfg.Currency)
	if err != nil {
		return nil, err
	}
	maxAmount, err := ledger.NewAmount(cfg.MaxAmount)
	if err != nil {
		return nil, err
	}
	options := []ledger.ServiceOption{
		ledger.WithAuthorizationPolicy(cfg.AuthorizationPolicy()),
		ledger.WithCurrency(currency),
		ledger.WithCodeHashCost(cfg.CodeHashCost),
		ledger.WithDeliveryTimeout(int64(cfg.DeliveryTimeout / time.Second)),
		ledger.WithMaxAmount(maxAmount),
	}
	// A zero visit fee leaves pricing to the caller.
	if cfg.VisitFee > 0 {
		options = append(options, ledger.WithFeeResolver(ledger.FixedFee(cfg.VisitFee)))
	}
	return options, nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func defaultIfZero(value time.Duration, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
