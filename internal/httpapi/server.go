package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	shutdownTimeout  = 5 * time.Second
)

// Config holds the HTTP surface settings.
type Config struct {
	AllowedOrigins []string
	AdminRole      string
	RequestTimeout time.Duration
	Middleware     []gin.HandlerFunc
}

// Handler serves the customer and admin routes over a ledger Service.
type Handler struct {
	service *ledger.Service
	logger  *zap.Logger
	cfg     Config
}

// NewHandler builds a Handler. A nil logger is replaced with a no-op logger.
func NewHandler(service *ledger.Service, logger *zap.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Handler{service: service, logger: logger, cfg: cfg}
}

// NewRouter wires middleware and routes.
func NewRouter(handler *Handler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.cfg.Middleware...)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     handler.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/session", handler.handleSession)
	api.POST("/payments", handler.handleInitiate)
	api.GET("/payments/:attempt_id", handler.handleGetAttempt)
	api.POST("/payments/:attempt_id/resend", handler.handleResend)
	api.POST("/payments/:attempt_id/verify", handler.handleVerify)
	api.POST("/payments/:attempt_id/abandon", handler.handleAbandon)
	api.POST("/visit-requests", handler.handleCreateVisit)
	api.GET("/visit-requests/:request_id", handler.handleGetVisit)
	api.POST("/visit-requests/:request_id/outcome", handler.handleReportOutcome)
	api.GET("/balance", handler.handleBalance)
	api.GET("/credit-history", handler.handleHistory)
	api.POST("/refund-requests", handler.handleRequestRefund)

	admin := api.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/refund-requests", handler.handleListRefunds)
	admin.POST("/refund-requests/:request_id/decision", handler.handleDecideRefund)
	admin.POST("/adjustments", handler.handleAdjust)

	return router
}

// Run serves router on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func (handler *Handler) isAdmin(claims *sessionvalidator.Claims) bool {
	if claims == nil {
		return false
	}
	for _, role := range claims.GetUserRoles() {
		if role == handler.cfg.AdminRole {
			return true
		}
	}
	return false
}

func (handler *Handler) requireAdmin(ctx *gin.Context) {
	if !handler.isAdmin(getClaims(ctx)) {
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(codeForbidden, "admin role required"))
		return
	}
	ctx.Next()
}

// customer resolves the authenticated customer. It writes a 401 and returns false when absent.
func customer(ctx *gin.Context) (ledger.CustomerID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing session"))
		return ledger.CustomerID{}, false
	}
	customerID, err := ledger.NewCustomerID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "session has no user id"))
		return ledger.CustomerID{}, false
	}
	return customerID, true
}

func (handler *Handler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}
