package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"payment_verification_gateway/internal/model"
)

const unreadLabel = "UNREAD"

// Scopes needed to read alerts and clear their unread label
var Scopes = []string{gmail.GmailReadonlyScope, gmail.GmailModifyScope}

// mailAPI is the subset of the Gmail users.messages API the source relies on
type mailAPI interface {
	List(ctx context.Context, userID, query string, max int64) ([]string, error)
	Get(ctx context.Context, userID, id string) (*gmail.Message, error)
	RemoveLabel(ctx context.Context, userID, id, label string) error
}

type gmailAPI struct {
	srv *gmail.Service
}

func (a *gmailAPI) List(ctx context.Context, userID, query string, max int64) ([]string, error) {
	res, err := a.srv.Users.Messages.List(userID).Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (a *gmailAPI) Get(ctx context.Context, userID, id string) (*gmail.Message, error) {
	return a.srv.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
}

func (a *gmailAPI) RemoveLabel(ctx context.Context, userID, id, label string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{label}}
	_, err := a.srv.Users.Messages.Modify(userID, id, req).Context(ctx).Do()
	return err
}

// GmailSource reads bank alerts from a Gmail mailbox
type GmailSource struct {
	api    mailAPI
	userID string
	logger *zap.Logger
}

// OAuthConfig builds the OAuth client from an installed-app credentials file
func OAuthConfig(credentials []byte) (*oauth2.Config, error) {
	cfg, err := google.ConfigFromJSON(credentials, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gmail credentials: %w", err)
	}
	return cfg, nil
}

// NewGmailSource authorises with the stored token and connects to Gmail
func NewGmailSource(ctx context.Context, credentialsFile, tokenFile, userID string, logger *zap.Logger) (*GmailSource, error) {
	credentials, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read gmail credentials: %w", err)
	}
	oauthCfg, err := OAuthConfig(credentials)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read gmail token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("failed to decode gmail token: %w", err)
	}

	srv, err := gmail.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	logger.Info("connected to gmail", zap.String("user_id", userID))
	return newGmailSource(&gmailAPI{srv: srv}, userID, logger), nil
}

func newGmailSource(api mailAPI, userID string, logger *zap.Logger) *GmailSource {
	return &GmailSource{
		api:    api,
		userID: userID,
		logger: logger,
	}
}

// SearchQuery renders a notification query in Gmail search syntax
func SearchQuery(q model.NotificationQuery) string {
	var terms []string
	if q.Sender != "" {
		terms = append(terms, "from:"+q.Sender)
	}
	if q.UnreadOnly {
		terms = append(terms, "is:unread")
	}
	if !q.Since.IsZero() {
		// epoch seconds are exact, a date would be read in the mailbox's
		// timezone; after: is exclusive, so step back one second
		terms = append(terms, "after:"+strconv.FormatInt(q.Since.Unix()-1, 10))
	}
	return strings.Join(terms, " ")
}

func (s *GmailSource) ListUnread(ctx context.Context, query model.NotificationQuery) ([]model.Notification, error) {
	q := SearchQuery(query)
	ids, err := s.api.List(ctx, s.userID, q, int64(query.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list gmail messages: %w", err)
	}

	out := make([]model.Notification, 0, len(ids))
	for _, id := range ids {
		msg, err := s.api.Get(ctx, s.userID, id)
		if err != nil {
			s.logger.Warn("failed to fetch gmail message", zap.String("notification_id", id), zap.Error(err))
			continue
		}
		out = append(out, toNotification(msg))
	}

	s.logger.Debug("gmail messages listed", zap.String("query", q), zap.Int("count", len(out)))
	return out, nil
}

func (s *GmailSource) MarkConsumed(ctx context.Context, id string) error {
	if err := s.api.RemoveLabel(ctx, s.userID, id, unreadLabel); err != nil {
		return fmt.Errorf("failed to mark gmail message %s read: %w", id, err)
	}
	return nil
}

func toNotification(msg *gmail.Message) model.Notification {
	n := model.Notification{
		ID:         msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
	}
	for _, l := range msg.LabelIds {
		if l == unreadLabel {
			n.Unread = true
		}
	}
	if msg.Payload != nil {
		n.Payload = toPart(msg.Payload)
		for _, h := range msg.Payload.Headers {
			if strings.EqualFold(h.Name, "From") {
				n.Sender = h.Value
			}
		}
	}
	return n
}

func toPart(p *gmail.MessagePart) model.MessagePart {
	part := model.MessagePart{MimeType: p.MimeType}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if child != nil {
			part.Parts = append(part.Parts, toPart(child))
		}
	}
	return part
}
