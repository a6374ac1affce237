package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"payment_verification_gateway/internal/model"
)

func TestStart(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		expectedStatus model.Status
		expectedError  int
	}{
		{
			name:           "matched",
			status:         http.StatusOK,
			body:           `{"success":true,"data":{"payerToken":"alice kumar","amount":"250","referenceId":"629012345678"}}`,
			expectedStatus: model.StatusMatched,
		},
		{
			name:           "cancelled",
			status:         http.StatusOK,
			body:           `{"success":false,"cancelled":true}`,
			expectedStatus: model.StatusCancelled,
		},
		{
			name:           "timed_out",
			status:         http.StatusOK,
			body:           `{"success":false}`,
			expectedStatus: model.StatusTimedOut,
		},
		{
			name:          "duplicate_session",
			status:        http.StatusConflict,
			body:          `{"error":"duplicate session id: s-1"}`,
			expectedError: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got model.StartRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/start-verification" || r.Method != http.MethodPost {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("failed to decode request: %v", err)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL+"/", zaptest.NewLogger(t))
			res, err := c.Start(context.Background(), model.StartRequest{
				PayerToken: "alice",
				Amount:     decimal.NewFromInt(250),
				SessionID:  "s-1",
			})

			if got.SessionID != "s-1" || got.PayerToken != "alice" || !got.Amount.Equal(decimal.NewFromInt(250)) {
				t.Errorf("unexpected request body %+v", got)
			}

			if tt.expectedError != 0 {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected APIError, but got %v", err)
				}
				if apiErr.StatusCode != tt.expectedError || apiErr.Message != "duplicate session id: s-1" {
					t.Errorf("unexpected api error %+v", apiErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != tt.expectedStatus {
				t.Errorf("expected status %s, but got %s", tt.expectedStatus, res.Status)
			}
			if tt.expectedStatus == model.StatusMatched && (res.Data == nil || *res.Data.PayerToken != "alice kumar") {
				t.Errorf("unexpected data %+v", res.Data)
			}
		})
	}
}

func TestCancel(t *testing.T) {
	var got model.CancelRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cancel-verification" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"cancelled":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, zaptest.NewLogger(t))
	cancelled, err := c.Cancel(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cancelled {
		t.Error("expected cancelled to be true")
	}
	if got.SessionID != "s-1" {
		t.Errorf("expected session id 's-1', but got '%s'", got.SessionID)
	}
}

func TestStartContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(srv.URL, zaptest.NewLogger(t))
	if _, err := c.Start(ctx, model.StartRequest{PayerToken: "alice", Amount: decimal.NewFromInt(250)}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, but got %v", err)
	}
}
