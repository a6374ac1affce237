package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"payment_verification_gateway/internal/api"
	"payment_verification_gateway/internal/config"
	"payment_verification_gateway/internal/logger"
	"payment_verification_gateway/internal/messaging"
	"payment_verification_gateway/internal/repository"
	"payment_verification_gateway/internal/service"
	"payment_verification_gateway/internal/session"
	"payment_verification_gateway/internal/source"
)

func runMigrations(db *pgxpool.Pool, log *zap.Logger) error {
	log.Info("Running database migrations")

	migrationsDir := "migrations"
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		log.Info("Running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		_, err = db.Exec(context.Background(), string(content))
		if err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		log.Info("Migration completed", zap.String("file", filename))
	}

	log.Info("All migrations completed successfully")
	return nil
}

func newNotificationSource(ctx context.Context, cfg *config.Config, log *zap.Logger) (source.NotificationSource, error) {
	switch cfg.Source.Kind {
	case config.SourceMemory:
		log.Warn("Using in-memory notification source, bank alerts must be injected")
		return source.NewMemorySource(), nil
	case config.SourceGmail:
		mailbox, err := source.NewGmailSource(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, cfg.Gmail.UserID, log)
		if err != nil {
			return nil, err
		}
		return mailbox, nil
	default:
		return nil, fmt.Errorf("unknown notification source %q", cfg.Source.Kind)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting payment verification gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	attemptRepo := repository.NewNoopAttemptRepository()
	if cfg.Database.Enabled {
		db, err := pgxpool.New(ctx, cfg.DatabaseDSN())
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		log.Info("Connected to database")

		if err := runMigrations(db, log); err != nil {
			log.Fatal("Failed to run migrations", zap.Error(err))
		}
		attemptRepo = repository.NewAttemptRepository(db, log)
	}

	natsClient := messaging.NewNoopClient(log)
	if cfg.NATS.Enabled {
		natsClient, err = messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.RequestTimeout, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
	}
	defer natsClient.Close()

	mailbox, err := newNotificationSource(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open notification source", zap.Error(err))
	}

	registry := session.NewRegistry()
	verificationService := service.NewVerificationService(registry, mailbox, natsClient, attemptRepo, session.Config{
		PollInterval:  cfg.Verification.PollInterval,
		Timeout:       cfg.Verification.Timeout,
		PageSize:      cfg.Verification.PageSize,
		TrustedSender: cfg.Verification.TrustedSender,
		MarkAttempts:  cfg.Verification.MarkAttempts,
	}, log)

	// Отменяем сессии, запущенные на этой реплике, по запросу других реплик
	err = natsClient.SubscribeToCancelRequests(ctx, verificationService.HandleRemoteCancel)
	if err != nil {
		log.Error("Failed to subscribe to cancel requests", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(verificationService, natsClient, log),
		ReadHeaderTimeout: 10 * time.Second,
		// start requests stay open for the whole verification budget
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	log.Info("Starting server", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down server", zap.Int("active_sessions", registry.Len()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Graceful shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
