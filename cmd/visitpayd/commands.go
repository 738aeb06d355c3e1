package main

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/visitpay/internal/config"
	"github.com/MarkoPoloResearchLab/visitpay/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			database, err := config.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = database.Close() }()
			if err := database.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("schema migrated", zap.String("store_driver", cfg.StoreDriver))
			return nil
		},
	}
}

func newSettleCommand(cfg *config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Fulfil pending visit requests older than the settle window",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			database, err := config.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = database.Close() }()
			service, err := newService(cfg, database.Store, logger, observability.NewMetrics(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			settled, err := service.SettleStaleVisits(cmd.Context(), int64(cfg.SettleWindow.Seconds()), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "settled %d visit requests\n", settled)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum visit requests to settle (0 uses the default page size)")
	return cmd
}

func newAuditCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Compare cached balances with ledger entry sums",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			database, err := config.OpenDatabase(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = database.Close() }()
			service, err := newService(cfg, database.Store, logger, observability.NewMetrics(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			mismatches, err := service.Audit(cmd.Context())
			if err != nil {
				return err
			}
			for _, mismatch := range mismatches {
				fmt.Fprintf(cmd.OutOrStdout(), "%s cached=%d entries=%d latest=%d\n",
					mismatch.CustomerID.String(), mismatch.CachedBalance.Int64(), mismatch.EntrySum.Int64(), mismatch.LatestBalanceAfter.Int64())
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("audit found %d mismatched accounts", len(mismatches))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger consistent")
			return nil
		},
	}
}
