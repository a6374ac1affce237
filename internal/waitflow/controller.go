// Package waitflow is the client side of a payment check: the countdown the
// payer sees while the server looks for the bank alert, the cancel prompt,
// and the failure fallback with retry and manual UTR entry.
//
// All inputs, countdown ticks and server results are serialised through one
// dispatcher, so the state machine never runs two transitions at once.
package waitflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment_verification_gateway/internal/model"
)

const (
	DefaultBudget    = 300 * time.Second
	DefaultTick      = time.Second
	DefaultMinAmount = 10
	MinUTRLength     = 10
)

var (
	ErrInvalidAmount = errors.New("amount below minimum")
	ErrInvalidPayer  = errors.New("payer cannot be empty")
	ErrInvalidUTR    = errors.New("invalid UTR number")
)

type State int

const (
	StateIdle State = iota
	StateWaiting
	StateCancelConfirm
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaiting:
		return "WAITING"
	case StateCancelConfirm:
		return "CANCEL_CONFIRM"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FailReason tells the view why the wait ended without a match
type FailReason string

const (
	FailTimedOut    FailReason = "timed_out"
	FailNotDetected FailReason = "not_detected"
	FailServerError FailReason = "server_error"
)

// Verifier is the server side of the check
type Verifier interface {
	// Start blocks until the server session resolves
	Start(ctx context.Context, req model.StartRequest) (model.Result, error)
	Cancel(ctx context.Context, sessionID string) (bool, error)
}

// View renders the controller's state. Calls are made while the controller
// holds its lock, so implementations must not call back into it.
type View interface {
	ShowOverlay(amount decimal.Decimal, sessionID string)
	HideOverlay()
	ShowCountdown(remaining time.Duration)
	ShowCancelPrompt()
	HideCancelPrompt()
	ShowFailed(reason FailReason)
	HideFailed()
	ShowConfirmed(data model.Extracted)
	ShowCancelled()
	ShowUTRSubmitted(utr string)
	ShowInvalid(err error)
}

type Config struct {
	Budget    time.Duration
	Tick      time.Duration
	MinAmount decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.MinAmount.IsZero() {
		c.MinAmount = decimal.NewFromInt(DefaultMinAmount)
	}
	return c
}

type Controller struct {
	mu sync.Mutex

	cfg      Config
	verifier Verifier
	view     View
	logger   *zap.Logger

	state State

	amount    decimal.Decimal
	payer     string
	sessionID string
	// attempt identifies the current server request; results of older
	// attempts are ignored
	attempt int

	remaining  int
	failReason FailReason

	// generation of the live ticker; ticks from stopped tickers carry an
	// older number
	gen        int
	ticker     *time.Ticker
	stopTicker chan struct{}
}

func NewController(cfg Config, verifier Verifier, view View, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:      cfg.withDefaults(),
		verifier: verifier,
		view:     view,
		logger:   logger,
		state:    StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns what is left of the countdown
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingTime()
}

func (c *Controller) remainingTime() time.Duration {
	return time.Duration(c.remaining) * c.cfg.Tick
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// --- inputs ---

func (c *Controller) Start(ctx context.Context, amount decimal.Decimal, payer string) {
	c.dispatch(event{kind: evStart, ctx: ctx, amount: amount, payer: payer})
}

func (c *Controller) CancelIntent() {
	c.dispatch(event{kind: evCancelIntent})
}

func (c *Controller) ConfirmCancel(ctx context.Context) {
	c.dispatch(event{kind: evConfirm, ctx: ctx})
}

func (c *Controller) DeclineCancel() {
	c.dispatch(event{kind: evDecline})
}

func (c *Controller) Retry(ctx context.Context) {
	c.dispatch(event{kind: evRetry, ctx: ctx})
}

func (c *Controller) SubmitUTR(utr string) {
	c.dispatch(event{kind: evSubmitUTR, utr: utr})
}

func (c *Controller) Dismiss() {
	c.dispatch(event{kind: evDismiss})
}

// Close stops the countdown; pending server requests are left to their context
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCountdown()
}

// --- dispatch ---

func (c *Controller) dispatch(ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	handle, ok := transitions[transitionKey{from, ev.kind}]
	if !ok {
		c.logger.Debug("event ignored", zap.Stringer("state", from), zap.Stringer("event", ev.kind))
		return
	}

	next := handle(c, ev)
	if next == from {
		return
	}

	stateTable[from].exit(c)
	c.state = next
	stateTable[next].enter(c)
	c.logger.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", next), zap.Stringer("event", ev.kind))
}

// --- countdown ---

func (c *Controller) startCountdown() {
	c.stopCountdown()

	c.gen++
	gen := c.gen
	ticker := time.NewTicker(c.cfg.Tick)
	stop := make(chan struct{})
	c.ticker = ticker
	c.stopTicker = stop

	go func() {
		for {
			select {
			case <-ticker.C:
				c.dispatch(event{kind: evTick, gen: gen})
			case <-stop:
				return
			}
		}
	}()
}

func (c *Controller) stopCountdown() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.stopTicker)
	c.ticker = nil
	c.stopTicker = nil
}

// --- server requests ---

func (c *Controller) newAttempt(ctx context.Context) {
	c.attempt++
	c.sessionID = uuid.New().String()
	c.remaining = int(c.cfg.Budget / c.cfg.Tick)
	c.view.ShowOverlay(c.amount, c.sessionID)

	attempt := c.attempt
	req := model.StartRequest{
		PayerToken: c.payer,
		Amount:     c.amount,
		SessionID:  c.sessionID,
	}
	c.logger.Info("waiting for payment", zap.String("session_id", req.SessionID), zap.String("amount", req.Amount.String()))

	go func() {
		res, err := c.verifier.Start(ctx, req)
		c.dispatch(event{kind: evResult, attempt: attempt, result: res, err: err})
	}()
}

func (c *Controller) cancelSession(ctx context.Context, sessionID string) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if _, err := c.verifier.Cancel(ctx, sessionID); err != nil {
			c.logger.Warn("failed to cancel server session", zap.Error(err), zap.String("session_id", sessionID))
		}
	}()
}
