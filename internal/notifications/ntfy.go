package notifications

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type NtfyNotifier struct {
	client    *http.Client
	topicURL  string
	token     string
	baseDelay time.Duration
}

func NewNtfyNotifier(client *http.Client, topicURL, token string) *NtfyNotifier {
	return &NtfyNotifier{
		client:    client,
		topicURL:  strings.TrimSpace(topicURL),
		token:     strings.TrimSpace(token),
		baseDelay: time.Second,
	}
}

func (n *NtfyNotifier) Name() string {
	return "ntfy"
}

// Notify publishes to the main topic and then to a per-source topic
// ("<topic>-<source>") so operators can follow a single agency.
func (n *NtfyNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.publish(ctx, n.topicURL, note); err != nil {
		return err
	}

	slug := topicSlug(note.SourceID)
	if slug == "" {
		return nil
	}

	base := strings.TrimSuffix(n.topicURL, "-")
	sourceTopicURL := fmt.Sprintf("%s-%s", base, slug)
	if err := n.publish(ctx, sourceTopicURL, note); err != nil {
		return fmt.Errorf("source-specific publish failed for source=%s: %w", slug, err)
	}
	return nil
}

func (n *NtfyNotifier) publish(ctx context.Context, topicURL string, note Notification) error {
	const maxAttempts = 3
	msg := note.Body

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, topicURL, bytes.NewBufferString(msg))
		if err != nil {
			return fmt.Errorf("build ntfy request: %w", err)
		}
		if n.token != "" {
			req.Header.Set("Authorization", "Bearer "+n.token)
		}
		req.Header.Set("Title", mime.BEncoding.Encode("UTF-8", note.Title))
		req.Header.Set("Priority", "high")
		req.Header.Set("Tags", "loudspeaker")
		if note.Link != "" {
			req.Header.Set("Click", note.Link)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			if attempt == maxAttempts {
				return fmt.Errorf("post ntfy: %w", err)
			}
			slog.Debug("ntfy post failed, retrying", "attempt", attempt, "of", maxAttempts, "err", err)
			if err := sleepCtx(ctx, retryAfterDelay("", attempt, n.baseDelay)); err != nil {
				return err
			}
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt == maxAttempts {
				return fmt.Errorf("ntfy rate limited after %d attempts: %s", maxAttempts, string(body))
			}
			wait := retryAfterDelay(resp.Header.Get("Retry-After"), attempt, n.baseDelay)
			slog.Info("ntfy rate limited", "attempt", attempt, "of", maxAttempts, "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("ntfy status %d: %s", resp.StatusCode, string(body))
		}

		slog.Debug("ntfy publish ok", "topic", topicURL, "bytes", len(msg))
		return nil
	}

	return fmt.Errorf("ntfy publish failed after %d attempts", maxAttempts)
}

func retryAfterDelay(header string, attempt int, base time.Duration) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(header); err == nil {
			d := time.Until(t)
			if d > 0 {
				return d
			}
		}
	}

	backoff := base * time.Duration(1<<uint(attempt-1))
	if base <= 0 {
		return backoff
	}
	jitter := time.Duration(rand.Int63n(int64(base)))
	return backoff + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func topicSlug(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
