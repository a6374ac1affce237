package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a verification session
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusMatched   Status = "MATCHED"
	StatusCancelled Status = "CANCELLED"
	StatusTimedOut  Status = "TIMED_OUT"
)

func (s Status) IsTerminal() bool {
	return s != StatusPending
}

func (s Status) String() string {
	return string(s)
}

// Session identifies one verification attempt
type Session struct {
	ID                 string          `json:"id"`
	ExpectedPayerToken string          `json:"expected_payer_token"`
	ExpectedAmount     decimal.Decimal `json:"expected_amount"`
	CreatedAt          time.Time       `json:"created_at"`
	Status             Status          `json:"status"`
}

// Extracted holds the fields parsed out of a notification body.
// A nil field means the corresponding pattern was absent.
type Extracted struct {
	PayerToken  *string `json:"payerToken"`
	Amount      *string `json:"amount"`
	ReferenceID *string `json:"referenceId"`
	VPA         *string `json:"vpa,omitempty"`
}

// Complete reports whether every field needed for matching was extracted
func (e Extracted) Complete() bool {
	return e.Amount != nil && e.PayerToken != nil && e.ReferenceID != nil
}

// Result is returned to the client that started the verification
type Result struct {
	Success   bool       `json:"success"`
	Cancelled bool       `json:"cancelled,omitempty"`
	Data      *Extracted `json:"data,omitempty"`
	Status    Status     `json:"-"`
}

func MatchedResult(data Extracted) Result {
	return Result{Success: true, Data: &data, Status: StatusMatched}
}

func CancelledResult() Result {
	return Result{Cancelled: true, Status: StatusCancelled}
}

func TimedOutResult() Result {
	return Result{Status: StatusTimedOut}
}

type StartRequest struct {
	PayerToken string          `json:"payerToken"`
	Amount     decimal.Decimal `json:"amount"`
	SessionID  string          `json:"sessionId"`
}

type CancelRequest struct {
	SessionID string `json:"sessionId"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// Attempt is the audit record of a finished verification
type Attempt struct {
	SessionID   string          `json:"session_id" db:"session_id"`
	PayerToken  string          `json:"payer_token" db:"payer_token"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      Status          `json:"status" db:"status"`
	ReferenceID *string         `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	FinishedAt  time.Time       `json:"finished_at" db:"finished_at"`
}
