package posting

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Posting is one announcement normalized across sources. Identity is the ID
// alone; the remaining fields are carried for notifications and storage.
type Posting struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Link   string `json:"link"`
	Status string `json:"status"`
}

// Fields names the keys of a raw API record.
type Fields struct {
	ID           string
	Title        string
	Status       string
	LinkTemplate string
}

// Dedupe keeps the first posting seen for each ID, preserving order.
func Dedupe(items []Posting) []Posting {
	if items == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]Posting, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Diff returns the postings in current whose ID does not appear in previous.
// Postings that disappeared since the previous run are not reported. Callers
// must not rely on the order of the result.
func Diff(current, previous []Posting) []Posting {
	known := make(map[string]struct{}, len(previous))
	for _, p := range previous {
		known[p.ID] = struct{}{}
	}

	var added []Posting
	for _, p := range current {
		if _, ok := known[p.ID]; ok {
			continue
		}
		known[p.ID] = struct{}{}
		added = append(added, p)
	}
	return added
}

// ResolveLink turns href into an absolute URL relative to base.
func ResolveLink(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	if base == nil {
		if !ref.IsAbs() {
			return "", fmt.Errorf("relative href %q without base", href)
		}
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

// FromRecord maps a decoded JSON record onto a Posting. The bool is false when
// the record has no usable identifier.
func FromRecord(rec map[string]any, fields Fields, base *url.URL) (Posting, bool) {
	id := stringify(rec[fields.ID])
	if id == "" {
		return Posting{}, false
	}

	p := Posting{
		ID:     id,
		Title:  strings.TrimSpace(stringify(rec[fields.Title])),
		Status: strings.TrimSpace(stringify(rec[fields.Status])),
	}

	if fields.LinkTemplate != "" {
		href := strings.ReplaceAll(fields.LinkTemplate, "{id}", url.QueryEscape(id))
		if link, err := ResolveLink(base, href); err == nil {
			p.Link = link
		}
	} else if base != nil {
		p.Link = base.String()
	}

	return p, true
}

func stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		if value == math.Trunc(value) && math.Abs(value) < 1e15 {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprint(value)
	}
}
