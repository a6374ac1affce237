package messaging

import (
	"context"

	"go.uber.org/zap"
)

// noopClient is used when NATS is disabled; events are only logged
type noopClient struct {
	logger *zap.Logger
}

func NewNoopClient(logger *zap.Logger) NATSClient {
	return &noopClient{logger: logger}
}

func (c *noopClient) PublishVerificationCompleted(ctx context.Context, msg *VerificationCompletedMessage) error {
	c.logger.Debug("verification completed (messaging disabled)", zap.String("session_id", msg.SessionID), zap.String("status", msg.Status))
	return nil
}

func (c *noopClient) RequestCancel(ctx context.Context, sessionID string) (bool, error) {
	return false, nil
}

func (c *noopClient) SubscribeToCancelRequests(ctx context.Context, handler func(sessionID string) bool) error {
	return nil
}

func (c *noopClient) PublishWebhookEvent(ctx context.Context, payload []byte) error {
	return nil
}

func (c *noopClient) Close() {}
