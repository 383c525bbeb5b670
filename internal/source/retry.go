package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/junnnnnw00/shinbo-notification/internal/posting"
)

type PolicyName string

const (
	PolicyBestOfN      PolicyName = "best-of-n"
	PolicyFirstSuccess PolicyName = "first-success"
)

// attemptFunc performs one isolated attempt; n counts from 1.
type attemptFunc func(ctx context.Context, n int) ([]posting.Posting, error)

// RetryPolicy folds up to attempts results of fn into one outcome. A non-nil
// error wraps ErrUntrusted.
type RetryPolicy interface {
	Name() PolicyName
	Run(ctx context.Context, attempts int, delay time.Duration, sleep func(context.Context, time.Duration) error, fn attemptFunc) ([]posting.Posting, error)
}

// PolicyFor resolves a configured policy name. Empty selects best-of-n.
func PolicyFor(name PolicyName) (RetryPolicy, error) {
	switch PolicyName(strings.ToLower(strings.TrimSpace(string(name)))) {
	case "", PolicyBestOfN:
		return BestOfN{}, nil
	case PolicyFirstSuccess:
		return FirstSuccess{}, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q", name)
	}
}

// BestOfN runs every attempt and keeps the successful result with the most
// items, guarding against truncated but otherwise valid responses. Ties keep
// the earlier result. A successful empty result is a trustworthy zero.
type BestOfN struct{}

func (BestOfN) Name() PolicyName { return PolicyBestOfN }

func (BestOfN) Run(ctx context.Context, attempts int, delay time.Duration, sleep func(context.Context, time.Duration) error, fn attemptFunc) ([]posting.Posting, error) {
	var best []posting.Posting
	found := false
	var lastErr error

	for n := 1; n <= attempts; n++ {
		if n > 1 {
			if err := sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		items, err := fn(ctx, n)
		if err != nil {
			lastErr = err
			continue
		}
		if !found || len(items) > len(best) {
			best = items
			found = true
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: all %d attempts failed: %v", ErrUntrusted, attempts, lastErr)
	}
	if best == nil {
		best = []posting.Posting{}
	}
	return posting.Dedupe(best), nil
}

// FirstSuccess stops at the first non-empty result. An empty list on every
// attempt is indistinguishable from a broken upstream, so it is reported as
// untrusted rather than as zero postings.
type FirstSuccess struct{}

func (FirstSuccess) Name() PolicyName { return PolicyFirstSuccess }

func (FirstSuccess) Run(ctx context.Context, attempts int, delay time.Duration, sleep func(context.Context, time.Duration) error, fn attemptFunc) ([]posting.Posting, error) {
	lastErr := fmt.Errorf("every attempt returned an empty list")

	for n := 1; n <= attempts; n++ {
		if n > 1 {
			if err := sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		items, err := fn(ctx, n)
		if err != nil {
			lastErr = err
			continue
		}
		if len(items) > 0 {
			return posting.Dedupe(items), nil
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUntrusted, lastErr)
}
