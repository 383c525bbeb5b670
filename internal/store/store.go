// Package store persists the last seen postings per source and reads the
// notification destination registry. Backends only need to implement KV;
// Gateway layers the key paths and JSON shapes on top.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
	"github.com/junnnnnw00/shinbo-notification/internal/posting"
)

const (
	statePathPrefix = "state/"
	tokensPath      = "tokens"
)

// KV is a key-path get/set store. Get reports found=false for missing paths.
type KV interface {
	Get(ctx context.Context, path string) (value []byte, found bool, err error)
	Set(ctx context.Context, path string, value []byte) error
	Close() error
}

type Gateway struct {
	kv      KV
	metrics *metrics.Metrics
}

func NewGateway(kv KV, m *metrics.Metrics) *Gateway {
	return &Gateway{kv: kv, metrics: m}
}

func StatePath(sourceID string) string {
	return statePathPrefix + sourceID
}

// Postings returns the persisted set for a source. A source that was never
// persisted yields an empty set and found=false.
func (g *Gateway) Postings(ctx context.Context, sourceID string) ([]posting.Posting, bool, error) {
	raw, found, err := g.kv.Get(ctx, StatePath(sourceID))
	if err != nil {
		g.metrics.RecordStoreError("get")
		return nil, false, fmt.Errorf("read state for %s: %w", sourceID, err)
	}
	if !found || len(raw) == 0 || string(raw) == "null" {
		return []posting.Posting{}, found, nil
	}

	var items []posting.Posting
	if err := json.Unmarshal(raw, &items); err != nil {
		g.metrics.RecordStoreError("decode")
		return nil, true, fmt.Errorf("decode state for %s: %w", sourceID, err)
	}
	if items == nil {
		items = []posting.Posting{}
	}
	return items, true, nil
}

// SavePostings overwrites the persisted set for a source.
func (g *Gateway) SavePostings(ctx context.Context, sourceID string, items []posting.Posting) error {
	if items == nil {
		items = []posting.Posting{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", sourceID, err)
	}
	if err := g.kv.Set(ctx, StatePath(sourceID), raw); err != nil {
		g.metrics.RecordStoreError("set")
		return fmt.Errorf("write state for %s: %w", sourceID, err)
	}
	return nil
}

// Tokens returns the destination tokens whose registry marker is truthy,
// sorted for stable dispatch order.
func (g *Gateway) Tokens(ctx context.Context) ([]string, error) {
	raw, found, err := g.kv.Get(ctx, tokensPath)
	if err != nil {
		g.metrics.RecordStoreError("get")
		return nil, fmt.Errorf("read destination registry: %w", err)
	}
	if !found || len(raw) == 0 {
		return nil, nil
	}

	var registry map[string]any
	if err := json.Unmarshal(raw, &registry); err != nil {
		g.metrics.RecordStoreError("decode")
		return nil, fmt.Errorf("decode destination registry: %w", err)
	}

	tokens := make([]string, 0, len(registry))
	for token, marker := range registry {
		if strings.TrimSpace(token) == "" || !truthy(marker) {
			continue
		}
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens, nil
}

// SetTokens replaces the destination registry. Registration normally happens
// outside this job; this exists for seeding local and test stores.
func (g *Gateway) SetTokens(ctx context.Context, tokens ...string) error {
	registry := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		registry[token] = true
	}
	raw, err := json.Marshal(registry)
	if err != nil {
		return err
	}
	return g.kv.Set(ctx, tokensPath, raw)
}

func (g *Gateway) Close() error {
	return g.kv.Close()
}

func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case float64:
		return value != 0
	case string:
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" || trimmed == "false" {
			return false
		}
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return n != 0
		}
		return true
	case []any:
		return len(value) > 0
	case map[string]any:
		return len(value) > 0
	default:
		return true
	}
}
