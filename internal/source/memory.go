package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"payment_verification_gateway/internal/model"
)

// MemorySource keeps notifications in process. It backs SOURCE_KIND=memory
// runs and tests.
type MemorySource struct {
	mu            sync.Mutex
	notifications []model.Notification
	marks         map[string]int
	listErr       error
	listCalls     int
}

func NewMemorySource(notifications ...model.Notification) *MemorySource {
	s := &MemorySource{marks: make(map[string]int)}
	for _, n := range notifications {
		s.Add(n)
	}
	return s
}

// Add delivers a notification. Adding an id twice simulates duplicate delivery.
func (s *MemorySource) Add(n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
}

// FailListing makes every ListUnread call return err until cleared with nil
func (s *MemorySource) FailListing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

func (s *MemorySource) ListUnread(ctx context.Context, query model.NotificationQuery) ([]model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls++
	if s.listErr != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", s.listErr)
	}

	var out []model.Notification
	for _, n := range s.notifications {
		if query.UnreadOnly && !n.Unread {
			continue
		}
		if query.Sender != "" && !strings.EqualFold(n.Sender, query.Sender) {
			continue
		}
		if !query.Since.IsZero() && n.ReceivedAt.Before(query.Since) {
			continue
		}
		out = append(out, n)
		if query.Limit > 0 && len(out) == query.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemorySource) MarkConsumed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Unread = false
			found = true
		}
	}
	if !found {
		return fmt.Errorf("notification not found: %s", id)
	}
	s.marks[id]++
	return nil
}

// MarkCount returns how many times id was marked consumed
func (s *MemorySource) MarkCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[id]
}

// ListCalls returns how many listings were served
func (s *MemorySource) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}
