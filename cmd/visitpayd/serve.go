package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/visitpay/internal/config"
	"github.com/MarkoPoloResearchLab/visitpay/internal/delivery"
	"github.com/MarkoPoloResearchLab/visitpay/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/visitpay/internal/httpapi"
	"github.com/MarkoPoloResearchLab/visitpay/internal/observability"
	"github.com/MarkoPoloResearchLab/visitpay/internal/opsserver"
	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the customer HTTP API, admin gRPC service and ops listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := config.OpenDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = database.Close() }()
	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	service, err := newService(cfg, database.Store, logger, metrics)
	if err != nil {
		return err
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	handler := httpapi.NewHandler(service, logger, httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		AdminRole:      cfg.AdminRole,
		RequestTimeout: cfg.RequestTimeout,
		Middleware:     []gin.HandlerFunc{metrics.GinMiddleware()},
	})
	router := httpapi.NewRouter(handler, validator)

	grpcListener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcserver.LoggingInterceptor(logger)))
	grpcserver.RegisterAdminServer(grpcServer, grpcserver.NewAdminServiceServer(service))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg.HTTPListenAddr, router, logger)
	})
	group.Go(func() error {
		return opsserver.Run(groupCtx, cfg.OpsListenAddr, opsserver.NewRouter(registry, database.Ping, logger), logger)
	})
	group.Go(func() error {
		logger.Info("admin gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(grpcListener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newService(cfg *config.Config, store ledger.Store, logger *zap.Logger, metrics *observability.Metrics) (*ledger.Service, error) {
	options, err := cfg.ServiceOptions()
	if err != nil {
		return nil, err
	}
	options = append(options, ledger.WithOperationLogger(observability.MultiOperationLogger{
		observability.NewZapOperationLogger(logger),
		metrics,
	}))
	sender, err := newCodeSender(cfg, logger)
	if err != nil {
		return nil, err
	}
	if sender != nil {
		options = append(options, ledger.WithCodeSender(sender))
	} else {
		logger.Warn("no sms gateway configured; one-time codes will not be delivered")
	}
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(store, clock, options...)
	if err != nil {
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	return service, nil
}

func newCodeSender(cfg *config.Config, logger *zap.Logger) (ledger.CodeSender, error) {
	if cfg.SMSGatewayURL == "" {
		return nil, nil
	}
	gateway, err := delivery.NewSMSGateway(cfg.SMSGatewayURL, cfg.SMSGatewayToken, &http.Client{Timeout: cfg.DeliveryTimeout})
	if err != nil {
		return nil, err
	}
	var alerter delivery.Alerter
	if cfg.TelegramBotToken != "" {
		telegram, err := delivery.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram alerter: %w", err)
		}
		alerter = telegram
	}
	return delivery.NewAlertingSender(gateway, alerter, logger), nil
}
