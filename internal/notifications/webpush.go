package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
)

// WebPushConfig holds the VAPID identity used to sign push requests.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	TTLSeconds      int
	// HTTPClient is optional; webpush-go falls back to its own client.
	HTTPClient webpush.HTTPClient
}

// subscription is the browser PushSubscription JSON stored as a destination
// token.
type subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256DH string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type webPushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Tag   string `json:"tag,omitempty"`
}

type WebPushTransport struct {
	config WebPushConfig
}

func NewWebPushTransport(config WebPushConfig) (*WebPushTransport, error) {
	if config.VAPIDPublicKey == "" || config.VAPIDPrivateKey == "" || config.VAPIDSubject == "" {
		return nil, errors.New("webpush: VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY and VAPID_SUBJECT are required")
	}
	if config.TTLSeconds < 1 {
		config.TTLSeconds = 60 * 60 * 24
	}
	return &WebPushTransport{config: config}, nil
}

func (w *WebPushTransport) Name() string {
	return "webpush"
}

func (w *WebPushTransport) Send(ctx context.Context, token string, n Notification) error {
	sub, err := decodeSubscription(token)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(webPushPayload{
		Title: n.Title,
		Body:  n.Body,
		URL:   n.Link,
		Tag:   n.SourceID + ":" + n.PostingID,
	})
	if err != nil {
		return fmt.Errorf("marshal webpush payload: %w", err)
	}

	options := &webpush.Options{
		Subscriber:      w.config.VAPIDSubject,
		VAPIDPublicKey:  w.config.VAPIDPublicKey,
		VAPIDPrivateKey: w.config.VAPIDPrivateKey,
		TTL:             w.config.TTLSeconds,
		Urgency:         webpush.UrgencyHigh,
		Topic:           "shinbo",
		HTTPClient:      w.config.HTTPClient,
	}

	response, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, options)
	if err != nil {
		return fmt.Errorf("webpush send to %s: %w", redactEndpoint(sub.Endpoint), err)
	}
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()

	switch {
	case response.StatusCode >= 200 && response.StatusCode <= 299:
		return nil
	case response.StatusCode == http.StatusGone || response.StatusCode == http.StatusNotFound:
		return fmt.Errorf("webpush %s: %w (status %d)", redactEndpoint(sub.Endpoint), ErrStaleDestination, response.StatusCode)
	default:
		return fmt.Errorf("webpush %s: status %d", redactEndpoint(sub.Endpoint), response.StatusCode)
	}
}

func decodeSubscription(token string) (subscription, error) {
	var sub subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return sub, fmt.Errorf("webpush: destination is not a subscription: %w", err)
	}
	if sub.Endpoint == "" || sub.Keys.P256DH == "" || sub.Keys.Auth == "" {
		return sub, errors.New("webpush: subscription is missing endpoint or keys")
	}
	return sub, nil
}

func redactEndpoint(endpoint string) string {
	if endpoint == "" {
		return "unknown"
	}
	if strings.HasPrefix(endpoint, "https://") || strings.HasPrefix(endpoint, "http://") {
		parts := strings.Split(endpoint, "/")
		if len(parts) >= 3 {
			return parts[0] + "//" + parts[2]
		}
	}
	return "unknown"
}
