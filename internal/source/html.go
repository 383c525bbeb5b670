package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/junnnnnw00/shinbo-notification/internal/logging"
	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
	"github.com/junnnnnw00/shinbo-notification/internal/posting"
)

// HTMLConfig locates postings on a server-rendered board.
//
// Two row filters are supported because board layouts differ per agency:
// PinnedClass drops rows carrying that class (pinned notices), and
// StatusSelector with ActiveText/ActiveClass keeps only rows whose status cell
// shows the active marker. Either, both or neither may be configured.
type HTMLConfig struct {
	PageURL        string `json:"page_url"`
	TableSelector  string `json:"table_selector"`
	RowSelector    string `json:"row_selector,omitempty"`
	IDSelector     string `json:"id_selector"`
	TitleSelector  string `json:"title_selector"`
	PinnedClass    string `json:"pinned_class,omitempty"`
	StatusSelector string `json:"status_selector,omitempty"`
	ActiveText     string `json:"active_text,omitempty"`
	ActiveClass    string `json:"active_class,omitempty"`
	TimeoutSec     int    `json:"timeout_sec,omitempty"`
}

type HTMLSource struct {
	cfg     Config
	html    HTMLConfig
	page    *url.URL
	client  *resty.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHTMLSource(cfg Config, opts Options) (*HTMLSource, error) {
	h := *cfg.HTML
	page, err := url.Parse(strings.TrimSpace(h.PageURL))
	if err != nil || !page.IsAbs() {
		return nil, fmt.Errorf("source %s: invalid page_url %q", cfg.ID, h.PageURL)
	}
	if h.TableSelector == "" || h.IDSelector == "" || h.TitleSelector == "" {
		return nil, fmt.Errorf("source %s: table_selector, id_selector and title_selector are required", cfg.ID)
	}
	if h.RowSelector == "" {
		h.RowSelector = "tr"
	}
	if h.StatusSelector == "" && (h.ActiveText != "" || h.ActiveClass != "") {
		return nil, fmt.Errorf("source %s: active marker configured without status_selector", cfg.ID)
	}

	timeout := defaultHTMLTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if h.TimeoutSec > 0 {
		timeout = time.Duration(h.TimeoutSec) * time.Second
	}

	client, err := newClient(timeout)
	if err != nil {
		return nil, err
	}

	return &HTMLSource{
		cfg:     cfg,
		html:    h,
		page:    page,
		client:  client,
		logger:  logging.WithSource(opts.logger(), cfg.ID),
		metrics: opts.Metrics,
	}, nil
}

func (s *HTMLSource) ID() string   { return s.cfg.ID }
func (s *HTMLSource) Name() string { return s.cfg.DisplayName() }

func (s *HTMLSource) Scrape(ctx context.Context) ([]posting.Posting, error) {
	start := time.Now()
	res, err := s.client.R().
		SetContext(ctx).
		Get(s.page.String())
	if err == nil {
		err = checkResponse(res, "fetch page")
	}
	s.metrics.RecordSourceFetch(s.cfg.ID, time.Since(start), err)
	if err != nil {
		s.logger.Warn("board page unavailable", "url", s.page.String(), "err", err)
		return nil, fmt.Errorf("%w: %v", ErrUntrusted, err)
	}

	doc, err := parseDocument(res)
	if err != nil {
		s.logger.Warn("board page is not parseable html", "err", err)
		return nil, fmt.Errorf("%w: parse html: %v", ErrUntrusted, err)
	}

	items, err := s.extract(doc)
	if err != nil {
		s.logger.Warn("board structure mismatch", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrUntrusted, err)
	}
	return items, nil
}

func (s *HTMLSource) extract(doc *goquery.Document) ([]posting.Posting, error) {
	table := doc.Find(s.html.TableSelector)
	if table.Length() == 0 {
		return nil, fmt.Errorf("selector %q matched nothing", s.html.TableSelector)
	}

	items := []posting.Posting{}
	table.Find(s.html.RowSelector).Each(func(_ int, row *goquery.Selection) {
		if s.html.PinnedClass != "" && row.HasClass(s.html.PinnedClass) {
			return
		}

		status := ""
		if s.html.StatusSelector != "" {
			cell := row.Find(s.html.StatusSelector).First()
			if cell.Length() == 0 {
				return
			}
			status = normalizeSpace(cell.Text())
			if !s.isActive(cell, status) {
				return
			}
		}

		id := normalizeSpace(row.Find(s.html.IDSelector).First().Text())
		if id == "" {
			return
		}

		anchor := row.Find(s.html.TitleSelector).First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		link, err := posting.ResolveLink(s.page, href)
		if err != nil {
			s.logger.Debug("skipping row with unusable link", "id", id, "href", href, "err", err)
			return
		}

		items = append(items, posting.Posting{
			ID:     id,
			Title:  normalizeSpace(anchor.Text()),
			Link:   link,
			Status: status,
		})
	})

	return posting.Dedupe(items), nil
}

func (s *HTMLSource) isActive(cell *goquery.Selection, status string) bool {
	if s.html.ActiveText == "" && s.html.ActiveClass == "" {
		return true
	}
	if s.html.ActiveText != "" && strings.Contains(status, s.html.ActiveText) {
		return true
	}
	if s.html.ActiveClass != "" {
		if cell.HasClass(s.html.ActiveClass) || cell.Find("."+s.html.ActiveClass).Length() > 0 {
			return true
		}
	}
	return false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
