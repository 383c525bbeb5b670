// Package source scrapes announcement postings from the monitored agencies.
//
// Two adapters exist: HTMLSource reads a server-rendered board table and
// StatefulSource drives a session/CSRF protected AJAX endpoint. Both return
// ([]posting.Posting, error); a non-nil error means the read could not be
// trusted and the caller must not replace persisted state with it, while a
// nil error with an empty slice is a confirmed zero.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
	"github.com/junnnnnw00/shinbo-notification/internal/posting"
)

var (
	// ErrUntrusted marks a scrape whose result must not overwrite state.
	ErrUntrusted = errors.New("no trustworthy result")
	// ErrUnknownKind is returned by New for a kind it cannot dispatch.
	ErrUnknownKind = errors.New("unknown source kind")
)

type Kind string

const (
	KindStaticHTML  Kind = "static-html"
	KindStatefulAPI Kind = "stateful-api"
)

const (
	defaultHTMLTimeout = 15 * time.Second
	defaultAPITimeout  = 20 * time.Second
	defaultAttempts    = 3
	defaultRetryDelay  = 2 * time.Second
	defaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

// Config describes one monitored agency. Exactly one of HTML and API is
// expected to be set, matching Kind.
type Config struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Kind Kind        `json:"kind"`
	HTML *HTMLConfig `json:"html,omitempty"`
	API  *APIConfig  `json:"api,omitempty"`
}

// DisplayName falls back to the ID when no name is configured.
func (c Config) DisplayName() string {
	if strings.TrimSpace(c.Name) != "" {
		return c.Name
	}
	return c.ID
}

// Source is a scrapeable agency.
type Source interface {
	ID() string
	Name() string
	Scrape(ctx context.Context) ([]posting.Posting, error)
}

// Options carries collaborators shared by every adapter.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Sleep replaces the wait between stateful attempts; tests set it to skip delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// Timeout overrides per-request timeouts when the source sets none.
	Timeout time.Duration
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) sleep() func(ctx context.Context, d time.Duration) error {
	if o.Sleep == nil {
		return sleepContext
	}
	return o.Sleep
}

// New dispatches on cfg.Kind. An unknown kind or a missing parameter block is
// a configuration error, not something to retry.
func New(cfg Config, opts Options) (Source, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, errors.New("source id is required")
	}

	switch cfg.Kind {
	case KindStaticHTML:
		if cfg.HTML == nil {
			return nil, fmt.Errorf("source %s: kind %s requires an html block", cfg.ID, cfg.Kind)
		}
		return NewHTMLSource(cfg, opts)
	case KindStatefulAPI:
		if cfg.API == nil {
			return nil, fmt.Errorf("source %s: kind %s requires an api block", cfg.ID, cfg.Kind)
		}
		return NewStatefulSource(cfg, opts)
	default:
		return nil, fmt.Errorf("source %s: %w %q", cfg.ID, ErrUnknownKind, cfg.Kind)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
