package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payment_verification_gateway/internal/messaging"
	"payment_verification_gateway/internal/model"
	"payment_verification_gateway/internal/repository"
	"payment_verification_gateway/internal/session"
	"payment_verification_gateway/internal/source"
)

// ErrInvalidRequest marks validation failures of client input
var ErrInvalidRequest = errors.New("invalid verification request")

const sideEffectTimeout = 5 * time.Second

type VerificationService interface {
	// StartVerification blocks until the payment is matched, the session is
	// cancelled or its time budget runs out.
	StartVerification(ctx context.Context, req *model.StartRequest) (*model.Result, error)
	CancelVerification(ctx context.Context, sessionID string) (bool, error)
	HandleRemoteCancel(sessionID string) bool
	GetAttempt(ctx context.Context, sessionID string) (*model.Attempt, error)
}

type verificationService struct {
	registry *session.Registry
	source   source.NotificationSource
	nats     messaging.NATSClient
	repo     repository.AttemptRepository
	cfg      session.Config
	logger   *zap.Logger
}

func NewVerificationService(
	registry *session.Registry,
	src source.NotificationSource,
	nats messaging.NATSClient,
	repo repository.AttemptRepository,
	cfg session.Config,
	logger *zap.Logger,
) VerificationService {
	return &verificationService{
		registry: registry,
		source:   src,
		nats:     nats,
		repo:     repo,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *verificationService) StartVerification(ctx context.Context, req *model.StartRequest) (*model.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.PayerToken) == "" {
		return nil, fmt.Errorf("%w: payer token cannot be empty", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidRequest, req.Amount)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	sessionCtx, err := s.registry.Create(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to register session", zap.Error(err), zap.String("session_id", sessionID))
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	sess := session.New(sessionID, req.PayerToken, req.Amount, s.cfg, s.registry, s.source, s.logger)
	result := sess.Run(sessionCtx)

	s.finish(ctx, sess.Info(), result)
	return &result, nil
}

// finish publishes and records the outcome. Both are best effort and must
// not outlive a disconnected client's context, so they run detached.
func (s *verificationService) finish(ctx context.Context, info model.Session, result model.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	var referenceID *string
	if result.Data != nil {
		referenceID = result.Data.ReferenceID
	}

	msg := &messaging.VerificationCompletedMessage{
		SessionID:  info.ID,
		Status:     result.Status.String(),
		PayerToken: info.ExpectedPayerToken,
		Amount:     info.ExpectedAmount.String(),
	}
	if referenceID != nil {
		msg.ReferenceID = *referenceID
	}
	if err := s.nats.PublishVerificationCompleted(ctx, msg); err != nil {
		s.logger.Warn("completion event not published", zap.Error(err), zap.String("session_id", info.ID))
	}

	attempt := &model.Attempt{
		SessionID:   info.ID,
		PayerToken:  info.ExpectedPayerToken,
		Amount:      info.ExpectedAmount,
		Status:      result.Status,
		ReferenceID: referenceID,
		CreatedAt:   info.CreatedAt,
		FinishedAt:  time.Now(),
	}
	if err := s.repo.Record(ctx, attempt); err != nil {
		s.logger.Warn("verification attempt not recorded", zap.Error(err), zap.String("session_id", info.ID))
	}
}

func (s *verificationService) CancelVerification(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, fmt.Errorf("%w: session id cannot be empty", ErrInvalidRequest)
	}

	if s.registry.Cancel(sessionID) {
		s.logger.Info("cancellation accepted", zap.String("session_id", sessionID))
		return true, nil
	}

	// the session may be running on another replica
	cancelled, err := s.nats.RequestCancel(ctx, sessionID)
	if err != nil {
		s.logger.Warn("cancel relay failed", zap.Error(err), zap.String("session_id", sessionID))
		return false, nil
	}
	if cancelled {
		s.logger.Info("cancellation accepted by remote replica", zap.String("session_id", sessionID))
	}
	return cancelled, nil
}

func (s *verificationService) HandleRemoteCancel(sessionID string) bool {
	return s.registry.Cancel(sessionID)
}

func (s *verificationService) GetAttempt(ctx context.Context, sessionID string) (*model.Attempt, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id cannot be empty", ErrInvalidRequest)
	}

	attempt, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		s.logger.Error("failed to get attempt from repository", zap.Error(err), zap.String("session_id", sessionID))
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return attempt, nil
}
