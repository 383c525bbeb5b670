package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrStaleDestination wraps delivery errors caused by a destination that no
// longer exists (unregistered FCM token, 404/410 push endpoint).
var ErrStaleDestination = errors.New("destination is no longer registered")

// Notification captures the destination-agnostic message payload.
type Notification struct {
	SourceID  string
	PostingID string
	Title     string
	Body      string
	Link      string
}

// ForPosting builds the device notification for a new posting.
func ForPosting(sourceID, sourceName, postingID, title, link string) Notification {
	return Notification{
		SourceID:  sourceID,
		PostingID: postingID,
		Title:     fmt.Sprintf("%s 새 공고", strings.TrimSpace(sourceName)),
		Body:      title,
		Link:      link,
	}
}

// Text renders the notification as plain text for chat-style channels.
func (n Notification) Text() string {
	var b strings.Builder
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(n.Body)
	}
	if n.Link != "" {
		b.WriteString("\n")
		b.WriteString(n.Link)
	}
	return b.String()
}

// Transport delivers a notification to one subscribed device.
type Transport interface {
	Name() string
	Send(ctx context.Context, token string, n Notification) error
}

// Notifier publishes notifications to a single operator channel that is not
// tied to a destination token.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}
