package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
)

// Report counts per-destination outcomes of one fan-out.
type Report struct {
	Succeeded int
	Failed    int
	Stale     int
}

func (r Report) Add(other Report) Report {
	return Report{
		Succeeded: r.Succeeded + other.Succeeded,
		Failed:    r.Failed + other.Failed,
		Stale:     r.Stale + other.Stale,
	}
}

// Dispatcher sends each notification to every destination token through one
// transport, then to the operator mirrors. Delivery is sequential, one
// attempt per destination, and a failure never stops the remaining sends.
// Failed deliveries are not retried; the posting is persisted regardless.
type Dispatcher struct {
	transport Transport
	mirrors   []Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewDispatcher(transport Transport, mirrors []Notifier, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{transport: transport, mirrors: mirrors, metrics: m, logger: logger}
}

// Deliver fans n out to tokens.
func (dispatcher *Dispatcher) Deliver(ctx context.Context, tokens []string, n Notification) Report {
	var report Report
	for _, token := range tokens {
		start := time.Now()
		err := safeSend(ctx, dispatcher.transport, token, n)
		dispatcher.metrics.RecordDelivery(dispatcher.transport.Name(), time.Since(start), err)

		if err == nil {
			report.Succeeded++
			continue
		}
		report.Failed++
		if errors.Is(err, ErrStaleDestination) {
			report.Stale++
		}
		dispatcher.logger.Warn("delivery failed",
			"transport", dispatcher.transport.Name(),
			"destination", redactToken(token),
			"posting", n.PostingID,
			"err", err,
		)
	}
	return report
}

// Mirror publishes n once to every operator channel.
func (dispatcher *Dispatcher) Mirror(ctx context.Context, n Notification) Report {
	var report Report
	for _, mirror := range dispatcher.mirrors {
		err := safeNotify(ctx, mirror, n)
		dispatcher.metrics.RecordMirrorPublish(mirror.Name(), err)
		if err != nil {
			report.Failed++
			dispatcher.logger.Warn("mirror publish failed", "notifier", mirror.Name(), "posting", n.PostingID, "err", err)
			continue
		}
		report.Succeeded++
	}
	return report
}

func safeSend(ctx context.Context, t Transport, token string, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during send: %v", r)
		}
	}()
	return t.Send(ctx, token, n)
}

func safeNotify(ctx context.Context, notifier Notifier, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during notify: %v", r)
		}
	}()
	return notifier.Notify(ctx, n)
}

// redactToken keeps enough of a token to correlate log lines.
func redactToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:6] + "..." + token[len(token)-4:]
}
