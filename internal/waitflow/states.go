package waitflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payment_verification_gateway/internal/model"
)

type eventKind int

const (
	evStart eventKind = iota
	evCancelIntent
	evConfirm
	evDecline
	evRetry
	evSubmitUTR
	evDismiss
	evTick
	evResult
)

var eventNames = map[eventKind]string{
	evStart:        "start",
	evCancelIntent: "cancel_intent",
	evConfirm:      "confirm",
	evDecline:      "decline",
	evRetry:        "retry",
	evSubmitUTR:    "submit_utr",
	evDismiss:      "dismiss",
	evTick:         "tick",
	evResult:       "server_result",
}

func (k eventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

type event struct {
	kind eventKind
	ctx  context.Context

	amount decimal.Decimal
	payer  string
	utr    string

	gen int

	attempt int
	result  model.Result
	err     error
}

type stateActions struct {
	enter func(c *Controller)
	exit  func(c *Controller)
}

func noop(*Controller) {}

// stateTable holds the side effects owned by each state. The countdown only
// lives between entering and leaving WAITING.
var stateTable map[State]stateActions

type transitionKey struct {
	state State
	event eventKind
}

type transitionFunc func(c *Controller, ev event) State

var transitions map[transitionKey]transitionFunc

func init() {
	stateTable = map[State]stateActions{
		StateIdle: {
			enter: func(c *Controller) { c.view.HideOverlay() },
			exit:  noop,
		},
		StateWaiting: {
			enter: func(c *Controller) {
				c.startCountdown()
				c.view.ShowCountdown(c.remainingTime())
			},
			exit: func(c *Controller) { c.stopCountdown() },
		},
		StateCancelConfirm: {
			enter: func(c *Controller) { c.view.ShowCancelPrompt() },
			exit:  func(c *Controller) { c.view.HideCancelPrompt() },
		},
		StateFailed: {
			enter: func(c *Controller) { c.view.ShowFailed(c.failReason) },
			exit:  func(c *Controller) { c.view.HideFailed() },
		},
	}

	transitions = map[transitionKey]transitionFunc{
		{StateIdle, evStart}: onStart,

		{StateWaiting, evTick}:         onTick,
		{StateWaiting, evCancelIntent}: to(StateCancelConfirm),

		{StateCancelConfirm, evConfirm}: onConfirmCancel,
		{StateCancelConfirm, evDecline}: to(StateWaiting),

		{StateFailed, evRetry}:     onRetry,
		{StateFailed, evSubmitUTR}: onSubmitUTR,
		{StateFailed, evDismiss}:   to(StateIdle),

		{StateIdle, evResult}:          onResult,
		{StateWaiting, evResult}:       onResult,
		{StateCancelConfirm, evResult}: onResult,
		{StateFailed, evResult}:        onResult,
	}
}

func to(s State) transitionFunc {
	return func(*Controller, event) State { return s }
}

func onStart(c *Controller, ev event) State {
	if ev.amount.LessThan(c.cfg.MinAmount) {
		c.view.ShowInvalid(fmt.Errorf("%w: minimum is %s", ErrInvalidAmount, c.cfg.MinAmount))
		return StateIdle
	}
	payer := strings.TrimSpace(ev.payer)
	if payer == "" {
		c.view.ShowInvalid(ErrInvalidPayer)
		return StateIdle
	}

	c.amount = ev.amount
	c.payer = payer
	c.newAttempt(ev.ctx)
	return StateWaiting
}

func onTick(c *Controller, ev event) State {
	if ev.gen != c.gen {
		return StateWaiting
	}

	c.remaining--
	c.view.ShowCountdown(c.remainingTime())
	if c.remaining <= 0 {
		// the server request stays open; a late match still surfaces
		c.failReason = FailTimedOut
		return StateFailed
	}
	return StateWaiting
}

func onConfirmCancel(c *Controller, ev event) State {
	c.cancelSession(ev.ctx, c.sessionID)
	c.view.ShowCancelled()
	return StateIdle
}

func onRetry(c *Controller, ev event) State {
	c.cancelSession(ev.ctx, c.sessionID)
	c.newAttempt(ev.ctx)
	return StateWaiting
}

func onSubmitUTR(c *Controller, ev event) State {
	utr := strings.TrimSpace(ev.utr)
	if len(utr) < MinUTRLength {
		c.view.ShowInvalid(ErrInvalidUTR)
		return StateFailed
	}

	c.logger.Info("UTR submitted", zap.String("session_id", c.sessionID), zap.String("utr", utr))
	c.view.ShowUTRSubmitted(utr)
	return StateIdle
}

func onResult(c *Controller, ev event) State {
	if ev.attempt != c.attempt {
		c.logger.Debug("stale server result ignored", zap.Int("attempt", ev.attempt))
		return c.state
	}

	switch {
	case ev.err == nil && ev.result.Success && ev.result.Data != nil:
		c.logger.Info("payment confirmed", zap.String("session_id", c.sessionID), zap.Stringer("state", c.state))
		c.view.ShowConfirmed(*ev.result.Data)
		return StateIdle

	case ev.err == nil && ev.result.Cancelled:
		return c.state
	}

	if c.state != StateWaiting && c.state != StateCancelConfirm {
		return c.state
	}

	if ev.err != nil {
		c.logger.Warn("payment check failed", zap.Error(ev.err), zap.String("session_id", c.sessionID))
		c.failReason = FailServerError
	} else {
		c.failReason = FailNotDetected
	}
	return StateFailed
}
