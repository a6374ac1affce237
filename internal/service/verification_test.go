package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"payment_verification_gateway/internal/messaging"
	"payment_verification_gateway/internal/model"
	"payment_verification_gateway/internal/session"
	"payment_verification_gateway/internal/source"
)

const trustedSender = "alerts@hdfcbank.net"

// Mock для NATSClient
type mockNATSClient struct {
	publishCompletedFunc func(ctx context.Context, msg *messaging.VerificationCompletedMessage) error
	requestCancelFunc    func(ctx context.Context, sessionID string) (bool, error)
}

func (m *mockNATSClient) PublishVerificationCompleted(ctx context.Context, msg *messaging.VerificationCompletedMessage) error {
	if m.publishCompletedFunc != nil {
		return m.publishCompletedFunc(ctx, msg)
	}
	return nil
}

func (m *mockNATSClient) RequestCancel(ctx context.Context, sessionID string) (bool, error) {
	if m.requestCancelFunc != nil {
		return m.requestCancelFunc(ctx, sessionID)
	}
	return false, nil
}

func (m *mockNATSClient) SubscribeToCancelRequests(ctx context.Context, handler func(sessionID string) bool) error {
	return nil
}

func (m *mockNATSClient) PublishWebhookEvent(ctx context.Context, payload []byte) error {
	return nil
}

func (m *mockNATSClient) Close() {}

// Mock для AttemptRepository
type mockAttemptRepository struct {
	recordFunc  func(ctx context.Context, attempt *model.Attempt) error
	getByIDFunc func(ctx context.Context, sessionID string) (*model.Attempt, error)
}

func (m *mockAttemptRepository) Record(ctx context.Context, attempt *model.Attempt) error {
	if m.recordFunc != nil {
		return m.recordFunc(ctx, attempt)
	}
	return nil
}

func (m *mockAttemptRepository) GetByID(ctx context.Context, sessionID string) (*model.Attempt, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, sessionID)
	}
	return nil, nil
}

func testConfig() session.Config {
	return session.Config{
		PollInterval:  5 * time.Millisecond,
		Timeout:       2 * time.Second,
		PageSize:      5,
		TrustedSender: trustedSender,
		MarkAttempts:  3,
	}
}

func aliceAlert(id string) model.Notification {
	return model.Notification{
		ID:         id,
		Sender:     trustedSender,
		Unread:     true,
		ReceivedAt: time.Now(),
		Payload: model.TextPart("text/html",
			"Rs.250.00 has been credited to your account by VPA alice@okaxis ALICE KUMAR on 16-10-26. Your UPI transaction reference number is 629012345678."),
	}
}

func newTestService(t *testing.T, src source.NotificationSource, nats messaging.NATSClient, repo *mockAttemptRepository) (VerificationService, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry()
	return NewVerificationService(registry, src, nats, repo, testConfig(), zaptest.NewLogger(t)), registry
}

func TestStartVerificationValidation(t *testing.T) {
	tests := []struct {
		name string
		req  *model.StartRequest
	}{
		{name: "nil_request", req: nil},
		{name: "empty_payer", req: &model.StartRequest{PayerToken: "  ", Amount: decimal.NewFromInt(250)}},
		{name: "zero_amount", req: &model.StartRequest{PayerToken: "alice"}},
		{name: "negative_amount", req: &model.StartRequest{PayerToken: "alice", Amount: decimal.NewFromInt(-5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, registry := newTestService(t, source.NewMemorySource(), &mockNATSClient{}, &mockAttemptRepository{})

			result, err := svc.StartVerification(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, but got %v", err)
			}
			if result != nil {
				t.Errorf("expected nil result, but got %+v", result)
			}
			if registry.Len() != 0 {
				t.Errorf("expected no registered sessions, but got %d", registry.Len())
			}
		})
	}
}

func TestStartVerificationMatched(t *testing.T) {
	src := source.NewMemorySource(aliceAlert("m1"))

	var published *messaging.VerificationCompletedMessage
	var recorded *model.Attempt
	nats := &mockNATSClient{
		publishCompletedFunc: func(ctx context.Context, msg *messaging.VerificationCompletedMessage) error {
			published = msg
			return nil
		},
	}
	repo := &mockAttemptRepository{
		recordFunc: func(ctx context.Context, attempt *model.Attempt) error {
			recorded = attempt
			return nil
		},
	}

	svc, registry := newTestService(t, src, nats, repo)

	result, err := svc.StartVerification(context.Background(), &model.StartRequest{
		PayerToken: "Alice",
		Amount:     decimal.NewFromInt(250),
		SessionID:  "s-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success || result.Data == nil {
		t.Fatalf("expected success with data, but got %+v", result)
	}
	if *result.Data.PayerToken != "alice kumar" {
		t.Errorf("expected payer 'alice kumar', but got '%s'", *result.Data.PayerToken)
	}
	if src.MarkCount("m1") != 1 {
		t.Errorf("expected m1 marked once, but got %d", src.MarkCount("m1"))
	}
	if registry.Len() != 0 {
		t.Errorf("expected registry to be empty, but got %d", registry.Len())
	}

	if published == nil {
		t.Fatal("expected completion event to be published")
	}
	if published.SessionID != "s-1" || published.Status != "MATCHED" || published.ReferenceID != "629012345678" {
		t.Errorf("unexpected completion event %+v", published)
	}
	if published.PayerToken != "alice" || published.Amount != "250" {
		t.Errorf("unexpected completion event %+v", published)
	}

	if recorded == nil {
		t.Fatal("expected attempt to be recorded")
	}
	if recorded.Status != model.StatusMatched || recorded.ReferenceID == nil || *recorded.ReferenceID != "629012345678" {
		t.Errorf("unexpected attempt %+v", recorded)
	}
	if recorded.FinishedAt.Before(recorded.CreatedAt) {
		t.Errorf("finished at %s before created at %s", recorded.FinishedAt, recorded.CreatedAt)
	}
}

func TestStartVerificationAssignsSessionID(t *testing.T) {
	var published *messaging.VerificationCompletedMessage
	nats := &mockNATSClient{
		publishCompletedFunc: func(ctx context.Context, msg *messaging.VerificationCompletedMessage) error {
			published = msg
			return nil
		},
	}

	svc, _ := newTestService(t, source.NewMemorySource(aliceAlert("m1")), nats, &mockAttemptRepository{})

	if _, err := svc.StartVerification(context.Background(), &model.StartRequest{PayerToken: "alice", Amount: decimal.NewFromInt(250)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if published == nil || len(published.SessionID) != 36 {
		t.Errorf("expected a generated uuid session id, but got %+v", published)
	}
}

func TestStartVerificationSideEffectFailures(t *testing.T) {
	nats := &mockNATSClient{
		publishCompletedFunc: func(ctx context.Context, msg *messaging.VerificationCompletedMessage) error {
			return errors.New("nats connection failed")
		},
	}
	repo := &mockAttemptRepository{
		recordFunc: func(ctx context.Context, attempt *model.Attempt) error {
			return errors.New("database connection failed")
		},
	}

	svc, _ := newTestService(t, source.NewMemorySource(aliceAlert("m1")), nats, repo)

	result, err := svc.StartVerification(context.Background(), &model.StartRequest{PayerToken: "alice", Amount: decimal.NewFromInt(250), SessionID: "s-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success despite side effect failures, but got %+v", result)
	}
}

func TestStartVerificationDuplicateAndCancel(t *testing.T) {
	var recorded *model.Attempt
	repo := &mockAttemptRepository{
		recordFunc: func(ctx context.Context, attempt *model.Attempt) error {
			recorded = attempt
			return nil
		},
	}

	svc, registry := newTestService(t, source.NewMemorySource(), &mockNATSClient{}, repo)
	req := &model.StartRequest{PayerToken: "alice", Amount: decimal.NewFromInt(250), SessionID: "s-dup"}

	type outcome struct {
		result *model.Result
		err    error
	}
	out := make(chan outcome, 1)
	go func() {
		result, err := svc.StartVerification(context.Background(), req)
		out <- outcome{result, err}
	}()

	deadline := time.Now().Add(time.Second)
	for registry.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session was not registered")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := svc.StartVerification(context.Background(), req); !errors.Is(err, session.ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, but got %v", err)
	}

	cancelled, err := svc.CancelVerification(context.Background(), "s-dup")
	if err != nil || !cancelled {
		t.Fatalf("expected (true, nil), but got (%t, %v)", cancelled, err)
	}

	select {
	case o := <-out:
		if o.err != nil {
			t.Fatalf("unexpected error: %v", o.err)
		}
		if o.result.Success || !o.result.Cancelled {
			t.Errorf("expected cancelled result, but got %+v", o.result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish after cancel")
	}

	if recorded == nil || recorded.Status != model.StatusCancelled {
		t.Errorf("expected cancelled attempt to be recorded, but got %+v", recorded)
	}
}

func TestCancelVerification(t *testing.T) {
	tests := []struct {
		name              string
		sessionID         string
		remoteCancelled   bool
		remoteError       error
		expectRelay       bool
		expectedCancelled bool
		expectedError     error
	}{
		{
			name:          "empty_session_id",
			sessionID:     "",
			expectedError: ErrInvalidRequest,
		},
		{
			name:              "remote_owner_cancels",
			sessionID:         "s-remote",
			remoteCancelled:   true,
			expectRelay:       true,
			expectedCancelled: true,
		},
		{
			name:        "unknown_session",
			sessionID:   "s-unknown",
			expectRelay: true,
		},
		{
			name:        "relay_failure_answers_false",
			sessionID:   "s-remote",
			remoteError: errors.New("nats connection failed"),
			expectRelay: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var relayed string
			nats := &mockNATSClient{
				requestCancelFunc: func(ctx context.Context, sessionID string) (bool, error) {
					relayed = sessionID
					return tt.remoteCancelled, tt.remoteError
				},
			}

			svc, _ := newTestService(t, source.NewMemorySource(), nats, &mockAttemptRepository{})

			cancelled, err := svc.CancelVerification(context.Background(), tt.sessionID)

			if tt.expectedError != nil {
				if !errors.Is(err, tt.expectedError) {
					t.Errorf("expected error %v, but got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cancelled != tt.expectedCancelled {
				t.Errorf("expected cancelled %t, but got %t", tt.expectedCancelled, cancelled)
			}
			if tt.expectRelay && relayed != tt.sessionID {
				t.Errorf("expected cancel to be relayed for '%s', but got '%s'", tt.sessionID, relayed)
			}
		})
	}
}

func TestHandleRemoteCancel(t *testing.T) {
	svc, registry := newTestService(t, source.NewMemorySource(), &mockNATSClient{}, &mockAttemptRepository{})

	if svc.HandleRemoteCancel("s-1") {
		t.Error("expected unknown session not to be cancelled")
	}

	if _, err := registry.Create(context.Background(), "s-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !svc.HandleRemoteCancel("s-1") {
		t.Error("expected local session to accept cancellation")
	}
	if !registry.IsCancelled("s-1") {
		t.Error("expected registry flag to be set")
	}
}

func TestGetAttempt(t *testing.T) {
	ref := "629012345678"

	tests := []struct {
		name          string
		sessionID     string
		mockAttempt   *model.Attempt
		mockError     error
		expectedNil   bool
		expectedError string
	}{
		{
			name:        "successful_get",
			sessionID:   "s-1",
			mockAttempt: &model.Attempt{SessionID: "s-1", Status: model.StatusMatched, ReferenceID: &ref},
		},
		{
			name:        "attempt_not_found",
			sessionID:   "s-404",
			expectedNil: true,
		},
		{
			name:          "empty_id",
			sessionID:     "",
			expectedError: "invalid verification request",
		},
		{
			name:          "repository_error",
			sessionID:     "s-1",
			mockError:     errors.New("database connection failed"),
			expectedError: "failed to get attempt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockAttemptRepository{
				getByIDFunc: func(ctx context.Context, sessionID string) (*model.Attempt, error) {
					return tt.mockAttempt, tt.mockError
				},
			}

			svc, _ := newTestService(t, source.NewMemorySource(), &mockNATSClient{}, repo)
			attempt, err := svc.GetAttempt(context.Background(), tt.sessionID)

			if tt.expectedError != "" {
				if err == nil {
					t.Errorf("expected error containing '%s', but got nil", tt.expectedError)
					return
				}
				if !containsError(err.Error(), tt.expectedError) {
					t.Errorf("expected error containing '%s', but got '%s'", tt.expectedError, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.expectedNil {
				if attempt != nil {
					t.Errorf("expected nil attempt, but got %+v", attempt)
				}
				return
			}
			if attempt.SessionID != tt.sessionID {
				t.Errorf("expected session id '%s', but got '%s'", tt.sessionID, attempt.SessionID)
			}
		})
	}
}

// Вспомогательная функция для проверки содержания ошибки
func containsError(got, want string) bool {
	return len(got) > 0 && len(want) > 0 && (got == want ||
		(len(got) >= len(want) && got[:len(want)] == want))
}
