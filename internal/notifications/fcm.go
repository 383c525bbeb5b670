package notifications

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

// fcmSender is the part of *messaging.Client the transport uses.
type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMTransport delivers to Firebase Cloud Messaging registration tokens. The
// link travels in the data payload so the app can open it on tap.
type FCMTransport struct {
	client fcmSender
}

func NewFCMTransport(client fcmSender) *FCMTransport {
	return &FCMTransport{client: client}
}

func (f *FCMTransport) Name() string {
	return "fcm"
}

func (f *FCMTransport) Send(ctx context.Context, token string, n Notification) error {
	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: map[string]string{
			"link":       n.Link,
			"source":     n.SourceID,
			"posting_id": n.PostingID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	if _, err := f.client.Send(ctx, message); err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("fcm send: %w: %v", ErrStaleDestination, err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
