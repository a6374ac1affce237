package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment_verification_gateway/internal/extractor"
	"payment_verification_gateway/internal/model"
	"payment_verification_gateway/internal/source"
)

const (
	DefaultPollInterval  = 8 * time.Second
	DefaultTimeout       = 5 * time.Minute
	DefaultPageSize      = 5
	DefaultTrustedSender = "alerts@hdfcbank.net"
	DefaultMarkAttempts  = 3

	markTimeout    = 10 * time.Second
	markRetryDelay = 200 * time.Millisecond
)

// Config holds the polling parameters shared by all sessions
type Config struct {
	PollInterval  time.Duration
	Timeout       time.Duration
	PageSize      int
	TrustedSender string
	MarkAttempts  int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.TrustedSender == "" {
		c.TrustedSender = DefaultTrustedSender
	}
	if c.MarkAttempts <= 0 {
		c.MarkAttempts = DefaultMarkAttempts
	}
	return c
}

// Session polls the notification source until the expected payment shows
// up, the client cancels, or the time budget runs out.
type Session struct {
	info     model.Session
	cfg      Config
	registry *Registry
	source   source.NotificationSource
	logger   *zap.Logger
	now      func() time.Time

	// ids of notifications this session has consumed
	consumed map[string]struct{}
}

func New(id, payerToken string, amount decimal.Decimal, cfg Config, registry *Registry, src source.NotificationSource, logger *zap.Logger) *Session {
	return &Session{
		info: model.Session{
			ID:                 id,
			ExpectedPayerToken: NormalizeToken(payerToken),
			ExpectedAmount:     amount,
			Status:             model.StatusPending,
		},
		cfg:      cfg.withDefaults(),
		registry: registry,
		source:   src,
		logger:   logger.With(zap.String("session_id", id)),
		now:      time.Now,
		consumed: make(map[string]struct{}),
	}
}

// Info returns a snapshot of the session data
func (s *Session) Info() model.Session {
	return s.info
}

// Run drives the poll loop. ctx is the cancellation token issued by the
// registry for this session; the session is removed from the registry on
// every exit path.
func (s *Session) Run(ctx context.Context) model.Result {
	defer s.registry.Remove(s.info.ID)

	s.info.CreatedAt = s.now()
	s.logger.Info("payment check started",
		zap.String("payer_token", s.info.ExpectedPayerToken),
		zap.String("amount", s.info.ExpectedAmount.String()),
		zap.Duration("timeout", s.cfg.Timeout))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.Timeout)
	defer deadline.Stop()

	for {
		if res, done := s.safeTick(ctx); done {
			s.info.Status = res.Status
			s.logger.Info("payment check finished", zap.String("status", res.Status.String()))
			return res
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
		case <-ctx.Done():
		}
	}
}

// safeTick isolates a tick so a panic is treated like a transient fault
func (s *Session) safeTick(ctx context.Context) (res model.Result, done bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("payment check tick panicked", zap.Any("panic", r))
			res, done = model.Result{}, false
		}
	}()
	return s.tick(ctx)
}

func (s *Session) tick(ctx context.Context) (model.Result, bool) {
	if s.cancelled(ctx) {
		s.registry.Commit(s.info.ID, model.StatusCancelled)
		s.logger.Info("server stopped checking", zap.NamedError("cause", context.Cause(ctx)))
		return model.CancelledResult(), true
	}

	if s.now().Sub(s.info.CreatedAt) >= s.cfg.Timeout {
		s.registry.Commit(s.info.ID, model.StatusTimedOut)
		s.logger.Info("payment not found", zap.Error(ErrTimedOut))
		return model.TimedOutResult(), true
	}

	candidates, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("notification source unavailable", zap.Error(err))
		return model.Result{}, false
	}

	for _, n := range candidates {
		if _, seen := s.consumed[n.ID]; seen {
			continue
		}

		fields := extractor.Extract(n)
		if !fields.Complete() {
			s.logger.Debug("skipping notification", zap.String("notification_id", n.ID), zap.Error(ErrExtractionMiss))
			continue
		}

		s.logger.Info("notification details",
			zap.String("notification_id", n.ID),
			zap.Stringp("vpa", fields.VPA),
			zap.Stringp("payer_token", fields.PayerToken),
			zap.Stringp("amount", fields.Amount),
			zap.Stringp("reference_id", fields.ReferenceID))

		if !Matches(fields, s.info.ExpectedPayerToken, s.info.ExpectedAmount) {
			continue
		}

		if !s.registry.Commit(s.info.ID, model.StatusMatched) {
			// cancellation was accepted before the match could be committed
			s.registry.Commit(s.info.ID, model.StatusCancelled)
			s.logger.Info("match discarded after cancellation", zap.String("notification_id", n.ID))
			return model.CancelledResult(), true
		}

		s.consume(ctx, n.ID)
		s.logger.Info("payment confirmed", zap.Stringp("reference_id", fields.ReferenceID))
		return model.MatchedResult(fields), true
	}

	return model.Result{}, false
}

func (s *Session) cancelled(ctx context.Context) bool {
	return s.registry.IsCancelled(s.info.ID) || ctx.Err() != nil
}

func (s *Session) fetch(ctx context.Context) ([]model.Notification, error) {
	query := model.NotificationQuery{
		Sender:     s.cfg.TrustedSender,
		Since:      source.StartOfDay(s.now()),
		Limit:      s.cfg.PageSize,
		UnreadOnly: true,
	}

	// a hung listing must not keep the session past its budget
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout-s.now().Sub(s.info.CreatedAt))
	defer cancel()

	candidates, err := s.source.ListUnread(fetchCtx, query)
	if err != nil {
		return nil, &TransientSourceError{Op: "list", Err: err}
	}
	return candidates, nil
}

// consume marks the notification read. The match is already committed, so
// this runs detached from cancellation and retries with backoff. A panic here
// must not undo the committed result.
func (s *Session) consume(ctx context.Context, id string) {
	s.consumed[id] = struct{}{}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("marking notification panicked", zap.String("notification_id", id), zap.Any("panic", r))
		}
	}()

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = markRetryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MarkAttempts-1)), markCtx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return s.source.MarkConsumed(markCtx, id)
	}, policy, func(err error, next time.Duration) {
		s.logger.Warn("failed to mark notification",
			zap.String("notification_id", id),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err))
	})
	if err != nil {
		s.logger.Error("notification left unread",
			zap.String("notification_id", id),
			zap.Int("attempts", attempt),
			zap.Error(fmt.Errorf("failed to mark notification consumed: %w", err)))
		return
	}

	s.logger.Info("notification marked as read", zap.String("notification_id", id))
}
