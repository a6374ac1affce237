package model

import (
	"encoding/base64"
	"time"
)

// MessagePart mirrors one node of a multi-part mail payload
type MessagePart struct {
	MimeType string        `json:"mime_type"`
	Data     string        `json:"data,omitempty"` // base64 encoded body
	Parts    []MessagePart `json:"parts,omitempty"`
}

// Notification is one transaction alert delivered by the source
type Notification struct {
	ID         string      `json:"id"`
	Sender     string      `json:"sender"`
	ReceivedAt time.Time   `json:"received_at"`
	Unread     bool        `json:"unread"`
	Payload    MessagePart `json:"payload"`
}

// NotificationQuery restricts a listing of the source
type NotificationQuery struct {
	Sender     string
	Since      time.Time
	Limit      int
	UnreadOnly bool
}

// TextPart builds a single-part payload from a plain body
func TextPart(mimeType, body string) MessagePart {
	return MessagePart{
		MimeType: mimeType,
		Data:     base64.URLEncoding.EncodeToString([]byte(body)),
	}
}
