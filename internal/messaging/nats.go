package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectVerificationCompleted = "payment.verification.completed"
	SubjectVerificationCancel    = "payment.verification.cancel"
	SubjectWebhookReceived       = "payment.webhook.received"
)

type NATSClient interface {
	PublishVerificationCompleted(ctx context.Context, msg *VerificationCompletedMessage) error
	// RequestCancel asks other replicas to cancel a session they own
	RequestCancel(ctx context.Context, sessionID string) (bool, error)
	SubscribeToCancelRequests(ctx context.Context, handler func(sessionID string) bool) error
	PublishWebhookEvent(ctx context.Context, payload []byte) error
	Close()
}

// natsConnection is the part of *nats.Conn the client uses
type natsConnection interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error)
	Close()
}

type natsClient struct {
	conn           natsConnection
	requestTimeout time.Duration
	logger         *zap.Logger
}

func NewNATSClient(url string, requestTimeout time.Duration, logger *zap.Logger) (NATSClient, error) {
	conn, err := nats.Connect(url, nats.Name("payment-verification-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", url))
	return newNATSClient(conn, requestTimeout, logger), nil
}

func newNATSClient(conn natsConnection, requestTimeout time.Duration, logger *zap.Logger) *natsClient {
	return &natsClient{
		conn:           conn,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

type VerificationCompletedMessage struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	PayerToken  string `json:"payer_token"`
	Amount      string `json:"amount"`
	ReferenceID string `json:"reference_id,omitempty"`
}

type CancelRequestMessage struct {
	SessionID string `json:"session_id"`
}

type CancelReplyMessage struct {
	Cancelled bool `json:"cancelled"`
}

func (c *natsClient) PublishVerificationCompleted(ctx context.Context, msg *VerificationCompletedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal verification completed", zap.Error(err))
		return fmt.Errorf("failed to marshal verification completed: %w", err)
	}

	err = c.conn.Publish(SubjectVerificationCompleted, data)
	if err != nil {
		c.logger.Error("failed to publish verification completed", zap.Error(err), zap.String("session_id", msg.SessionID))
		return fmt.Errorf("failed to publish verification completed: %w", err)
	}

	c.logger.Info("verification completed published", zap.String("session_id", msg.SessionID), zap.String("status", msg.Status))
	return nil
}

func (c *natsClient) RequestCancel(ctx context.Context, sessionID string) (bool, error) {
	data, err := json.Marshal(CancelRequestMessage{SessionID: sessionID})
	if err != nil {
		return false, fmt.Errorf("failed to marshal cancel request: %w", err)
	}

	reply, err := c.conn.Request(SubjectVerificationCancel, data, c.requestTimeout)
	if err != nil {
		// nobody owns the session
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			return false, nil
		}
		c.logger.Error("failed to relay cancel request", zap.Error(err), zap.String("session_id", sessionID))
		return false, fmt.Errorf("failed to relay cancel request: %w", err)
	}

	var resp CancelReplyMessage
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return false, fmt.Errorf("failed to unmarshal cancel reply: %w", err)
	}
	return resp.Cancelled, nil
}

func (c *natsClient) SubscribeToCancelRequests(ctx context.Context, handler func(sessionID string) bool) error {
	_, err := c.conn.Subscribe(SubjectVerificationCancel, func(msg *nats.Msg) {
		var req CancelRequestMessage
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.logger.Error("failed to unmarshal cancel request", zap.Error(err))
			return
		}

		// only the owning replica answers, the others stay silent
		if !handler(req.SessionID) || msg.Reply == "" {
			return
		}

		data, err := json.Marshal(CancelReplyMessage{Cancelled: true})
		if err != nil {
			c.logger.Error("failed to marshal cancel reply", zap.Error(err), zap.String("session_id", req.SessionID))
			return
		}
		if err := c.conn.Publish(msg.Reply, data); err != nil {
			c.logger.Error("failed to reply to cancel request", zap.Error(err), zap.String("session_id", req.SessionID))
			return
		}
		c.logger.Info("remote cancel request served", zap.String("session_id", req.SessionID))
	})

	if err != nil {
		c.logger.Error("failed to subscribe to cancel requests", zap.Error(err))
		return fmt.Errorf("failed to subscribe to cancel requests: %w", err)
	}

	c.logger.Info("subscribed to cancel requests")
	return nil
}

func (c *natsClient) PublishWebhookEvent(ctx context.Context, payload []byte) error {
	if err := c.conn.Publish(SubjectWebhookReceived, payload); err != nil {
		c.logger.Error("failed to publish webhook event", zap.Error(err))
		return fmt.Errorf("failed to publish webhook event: %w", err)
	}
	return nil
}

func (c *natsClient) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.logger.Info("NATS connection closed")
	}
}
