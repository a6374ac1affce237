package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"payment_verification_gateway/internal/messaging"
	"payment_verification_gateway/internal/service"
)

// NewRouter creates the chi router with all routes mounted.
func NewRouter(verificationService service.VerificationService, nats messaging.NATSClient, logger *zap.Logger) http.Handler {
	h := &Handlers{
		verificationService: verificationService,
		nats:                nats,
		logger:              logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Post("/start-verification", h.StartVerification)
	r.Post("/cancel-verification", h.CancelVerification)
	r.Get("/verifications/{id}", h.GetVerification)

	r.Post("/upi-webhook", h.UPIWebhook)

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.Info("HTTP request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("user_agent", r.UserAgent()),
					zap.String("remote_addr", r.RemoteAddr))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
