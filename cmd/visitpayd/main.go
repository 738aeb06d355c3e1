package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/MarkoPoloResearchLab/visitpay/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagDatabaseURL       = "database-url"
	flagStoreDriver       = "store-driver"
	flagHTTPListenAddr    = "http-listen-addr"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagOpsListenAddr     = "ops-listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagJWTSigningKey     = "jwt-signing-key"
	flagJWTIssuer         = "jwt-issuer"
	flagJWTCookieName     = "jwt-cookie-name"
	flagAdminRole         = "admin-role"
	flagCurrency          = "currency"
	flagCodeTTL           = "code-ttl"
	flagResendCooldown    = "resend-cooldown"
	flagMaxResends        = "max-resends"
	flagMaxVerifyAttempts = "max-verify-attempts"
	flagCodeHashCost      = "code-hash-cost"
	flagRequestTimeout    = "request-timeout"
	flagDeliveryTimeout   = "delivery-timeout"
	flagSMSGatewayURL     = "sms-gateway-url"
	flagSMSGatewayToken   = "sms-gateway-token"
	flagTelegramBotToken  = "telegram-bot-token"
	flagTelegramChatID    = "telegram-chat-id"
	flagSettleWindow      = "settle-window"
	flagMaxAmount         = "max-amount"
	flagVisitFee          = "visit-fee"
	flagDevLogs           = "dev-logs"
	envPrefix             = "VISITPAY"
)

var boundFlags = []string{
	flagDatabaseURL, flagStoreDriver, flagHTTPListenAddr, flagGRPCListenAddr, flagOpsListenAddr,
	flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagAdminRole, flagCurrency,
	flagCodeTTL, flagResendCooldown, flagMaxResends, flagMaxVerifyAttempts, flagCodeHashCost,
	flagRequestTimeout, flagDeliveryTimeout, flagSMSGatewayURL, flagSMSGatewayToken,
	flagTelegramBotToken, flagTelegramChatID, flagSettleWindow, flagMaxAmount, flagVisitFee, flagDevLogs,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "visitpayd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "visitpayd",
		Short:         "Visit payment ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, "", "database url (postgres://... or sqlite://path)")
	flags.String(flagStoreDriver, config.StoreDriverGorm, "store implementation: gorm or pgx")
	flags.String(flagHTTPListenAddr, "", "customer HTTP API listen address")
	flags.String(flagGRPCListenAddr, "", "admin gRPC listen address")
	flags.String(flagOpsListenAddr, "", "metrics and health listen address")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(flagJWTIssuer, "", "expected JWT issuer")
	flags.String(flagJWTCookieName, "", "JWT cookie name")
	flags.String(flagAdminRole, "", "session role granting admin routes")
	flags.String(flagCurrency, "", "ISO 4217 currency code")
	flags.Duration(flagCodeTTL, 0, "one-time code lifetime")
	flags.Duration(flagResendCooldown, 0, "minimum wait between code sends")
	flags.Int(flagMaxResends, 0, "resends allowed per attempt")
	flags.Int(flagMaxVerifyAttempts, 0, "wrong codes tolerated per issued code")
	flags.Int(flagCodeHashCost, 0, "bcrypt cost for code hashes")
	flags.Duration(flagRequestTimeout, 0, "per-request deadline")
	flags.Duration(flagDeliveryTimeout, 0, "code delivery deadline")
	flags.String(flagSMSGatewayURL, "", "SMS gateway webhook url")
	flags.String(flagSMSGatewayToken, "", "SMS gateway bearer token")
	flags.String(flagTelegramBotToken, "", "Telegram bot token for delivery alerts")
	flags.Int64(flagTelegramChatID, 0, "Telegram chat id for delivery alerts")
	flags.Duration(flagSettleWindow, 0, "age after which pending visit requests settle")
	flags.Int64(flagMaxAmount, 0, "largest amount in minor units accepted for a payment or adjustment")
	flags.Int64(flagVisitFee, 0, "server-side visit fee in minor units (0 lets the caller supply the amount)")
	flags.Bool(flagDevLogs, false, "human-readable development logs")

	cmd.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newSettleCommand(cfg),
		newAuditCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range boundFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreDriver = strings.TrimSpace(v.GetString(flagStoreDriver))
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.OpsListenAddr = strings.TrimSpace(v.GetString(flagOpsListenAddr))
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.AdminRole = strings.TrimSpace(v.GetString(flagAdminRole))
	cfg.Currency = strings.TrimSpace(v.GetString(flagCurrency))
	cfg.CodeTTL = v.GetDuration(flagCodeTTL)
	cfg.ResendCooldown = v.GetDuration(flagResendCooldown)
	cfg.MaxResends = v.GetInt(flagMaxResends)
	cfg.MaxVerifyAttempts = v.GetInt(flagMaxVerifyAttempts)
	cfg.CodeHashCost = v.GetInt(flagCodeHashCost)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.DeliveryTimeout = v.GetDuration(flagDeliveryTimeout)
	cfg.SMSGatewayURL = strings.TrimSpace(v.GetString(flagSMSGatewayURL))
	cfg.SMSGatewayToken = v.GetString(flagSMSGatewayToken)
	cfg.TelegramBotToken = v.GetString(flagTelegramBotToken)
	cfg.TelegramChatID = v.GetInt64(flagTelegramChatID)
	cfg.SettleWindow = v.GetDuration(flagSettleWindow)
	cfg.MaxAmount = v.GetInt64(flagMaxAmount)
	cfg.VisitFee = v.GetInt64(flagVisitFee)
	cfg.DevLogs = v.GetBool(flagDevLogs)

	return cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.DevLogs {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
