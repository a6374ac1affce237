package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"payment_verification_gateway/internal/messaging"
	"payment_verification_gateway/internal/model"
	"payment_verification_gateway/internal/service"
	"payment_verification_gateway/internal/session"
)

const maxBodyBytes = 1 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	verificationService service.VerificationService
	nats                messaging.NATSClient
	logger              *zap.Logger
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// --- StartVerification ---

// StartVerification holds the request open until the session resolves.
// A client that disconnects cancels its session.
func (h *Handlers) StartVerification(w http.ResponseWriter, r *http.Request) {
	var req model.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	h.logger.Info("start verification",
		zap.String("session_id", req.SessionID),
		zap.String("payer_token", req.PayerToken),
		zap.String("amount", req.Amount.String()))

	result, err := h.verificationService.StartVerification(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrDuplicateSession):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("failed to start verification", zap.Error(err), zap.String("session_id", req.SessionID))
			h.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// --- CancelVerification ---

func (h *Handlers) CancelVerification(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cancelled, err := h.verificationService.CancelVerification(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to cancel verification", zap.Error(err), zap.String("session_id", req.SessionID))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusOK, model.CancelResponse{Cancelled: cancelled})
}

// --- GetVerification ---

func (h *Handlers) GetVerification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	attempt, err := h.verificationService.GetAttempt(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if attempt == nil {
		h.writeError(w, http.StatusNotFound, "verification not found: "+id)
		return
	}

	h.writeJSON(w, http.StatusOK, attempt)
}

// --- UPIWebhook ---

// UPIWebhook acknowledges push events from the payment provider. The body
// is only logged and relayed.
func (h *Handlers) UPIWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", zap.Error(err))
	} else {
		h.logger.Info("UPI webhook received", zap.ByteString("body", body))
		if err := h.nats.PublishWebhookEvent(r.Context(), body); err != nil {
			h.logger.Warn("webhook event not relayed", zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
