package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment_verification_gateway/internal/model"
)

type AttemptRepository interface {
	Record(ctx context.Context, attempt *model.Attempt) error
	GetByID(ctx context.Context, sessionID string) (*model.Attempt, error)
}

// dbPool is the subset of *pgxpool.Pool used by the repository
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type attemptRepository struct {
	db     dbPool
	logger *zap.Logger
}

func NewAttemptRepository(db dbPool, logger *zap.Logger) AttemptRepository {
	return &attemptRepository{
		db:     db,
		logger: logger,
	}
}

// Record сохраняет итог проверки; повторная запись обновляет статус
func (r *attemptRepository) Record(ctx context.Context, attempt *model.Attempt) error {
	query := `
		INSERT INTO verification_attempts (session_id, payer_token, amount, status, reference_id, created_at, finished_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE
		SET status = EXCLUDED.status,
			reference_id = EXCLUDED.reference_id,
			finished_at = EXCLUDED.finished_at
	`

	_, err := r.db.Exec(ctx, query,
		attempt.SessionID,
		attempt.PayerToken,
		attempt.Amount.String(),
		string(attempt.Status),
		attempt.ReferenceID,
		attempt.CreatedAt,
		attempt.FinishedAt,
	)
	if err != nil {
		r.logger.Error("failed to record verification attempt", zap.Error(err), zap.String("session_id", attempt.SessionID))
		return fmt.Errorf("failed to record verification attempt: %w", err)
	}

	r.logger.Debug("verification attempt recorded", zap.String("session_id", attempt.SessionID), zap.String("status", attempt.Status.String()))
	return nil
}

func (r *attemptRepository) GetByID(ctx context.Context, sessionID string) (*model.Attempt, error) {
	query := `
		SELECT session_id, payer_token, amount::text, status, reference_id, created_at, finished_at
		FROM verification_attempts
		WHERE session_id = $1
	`

	var attempt model.Attempt
	var amount, status string
	var createdAt, finishedAt time.Time
	err := r.db.QueryRow(ctx, query, sessionID).
		Scan(&attempt.SessionID, &attempt.PayerToken, &amount, &status, &attempt.ReferenceID, &createdAt, &finishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get verification attempt", zap.Error(err), zap.String("session_id", sessionID))
		return nil, fmt.Errorf("failed to get verification attempt: %w", err)
	}

	attempt.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q for attempt %s: %w", amount, sessionID, err)
	}
	attempt.Status = model.Status(status)
	attempt.CreatedAt = createdAt
	attempt.FinishedAt = finishedAt
	return &attempt, nil
}

// noopAttemptRepository is used when the database is disabled
type noopAttemptRepository struct{}

func NewNoopAttemptRepository() AttemptRepository {
	return noopAttemptRepository{}
}

func (noopAttemptRepository) Record(ctx context.Context, attempt *model.Attempt) error {
	return nil
}

func (noopAttemptRepository) GetByID(ctx context.Context, sessionID string) (*model.Attempt, error) {
	return nil, nil
}
