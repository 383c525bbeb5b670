package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/junnnnnw00/shinbo-notification/internal/logging"
	"github.com/junnnnnw00/shinbo-notification/internal/metrics"
	"github.com/junnnnnw00/shinbo-notification/internal/posting"
)

// APIConfig describes an upstream that needs a region selected in the session
// and an anti-forgery token harvested from the listing page before its AJAX
// endpoint answers.
type APIConfig struct {
	RegionURL    string            `json:"region_url"`
	RegionParam  string            `json:"region_param,omitempty"`
	RegionCode   string            `json:"region_code"`
	ListURL      string            `json:"list_url"`
	AjaxURL      string            `json:"ajax_url"`
	Method       string            `json:"method,omitempty"`
	CSRFField    string            `json:"csrf_field,omitempty"`
	CSRFHeader   string            `json:"csrf_header,omitempty"`
	ResultKey    string            `json:"result_key,omitempty"`
	IDField      string            `json:"id_field"`
	TitleField   string            `json:"title_field"`
	StatusField  string            `json:"status_field"`
	ActiveStatus string            `json:"active_status"`
	LinkTemplate string            `json:"link_template,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	Attempts     int               `json:"attempts,omitempty"`
	RetryDelayMS int               `json:"retry_delay_ms,omitempty"`
	Policy       PolicyName        `json:"policy,omitempty"`
	TimeoutSec   int               `json:"timeout_sec,omitempty"`
}

// result list keys seen across integration generations, probed in order
var resultKeys = []string{"list", "resultList"}

var (
	errNoToken     = errors.New("csrf token not found on listing page")
	errNoResultKey = errors.New("result list key not found in response")
	errNullResult  = errors.New("result list is null")
)

type StatefulSource struct {
	cfg     Config
	api     APIConfig
	listURL *url.URL
	policy  RetryPolicy
	timeout time.Duration
	delay   time.Duration
	sleep   func(context.Context, time.Duration) error
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewStatefulSource(cfg Config, opts Options) (*StatefulSource, error) {
	a := *cfg.API
	for name, value := range map[string]string{
		"region_url":    a.RegionURL,
		"list_url":      a.ListURL,
		"ajax_url":      a.AjaxURL,
		"id_field":      a.IDField,
		"status_field":  a.StatusField,
		"active_status": a.ActiveStatus,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("source %s: %s is required", cfg.ID, name)
		}
	}

	listURL, err := url.Parse(a.ListURL)
	if err != nil || !listURL.IsAbs() {
		return nil, fmt.Errorf("source %s: invalid list_url %q", cfg.ID, a.ListURL)
	}

	a.Method = strings.ToUpper(strings.TrimSpace(a.Method))
	switch a.Method {
	case "":
		a.Method = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return nil, fmt.Errorf("source %s: unsupported method %q", cfg.ID, a.Method)
	}
	if a.RegionParam == "" {
		a.RegionParam = "region_code"
	}
	if a.CSRFField == "" {
		a.CSRFField = "_csrf"
	}
	if a.CSRFHeader == "" {
		a.CSRFHeader = "X-CSRF-TOKEN"
	}
	if a.Attempts < 1 {
		a.Attempts = defaultAttempts
	}

	policy, err := PolicyFor(a.Policy)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
	}

	delay := defaultRetryDelay
	if a.RetryDelayMS > 0 {
		delay = time.Duration(a.RetryDelayMS) * time.Millisecond
	}
	timeout := defaultAPITimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if a.TimeoutSec > 0 {
		timeout = time.Duration(a.TimeoutSec) * time.Second
	}

	return &StatefulSource{
		cfg:     cfg,
		api:     a,
		listURL: listURL,
		policy:  policy,
		timeout: timeout,
		delay:   delay,
		sleep:   opts.sleep(),
		logger:  logging.WithSource(opts.logger(), cfg.ID),
		metrics: opts.Metrics,
	}, nil
}

func (s *StatefulSource) ID() string   { return s.cfg.ID }
func (s *StatefulSource) Name() string { return s.cfg.DisplayName() }

func (s *StatefulSource) Scrape(ctx context.Context) ([]posting.Posting, error) {
	items, err := s.policy.Run(ctx, s.api.Attempts, s.delay, s.sleep, s.attempt)
	if err != nil {
		s.logger.Warn("no trustworthy result", "policy", s.policy.Name(), "attempts", s.api.Attempts, "err", err)
		return nil, err
	}
	s.logger.Debug("scrape finished", "policy", s.policy.Name(), "postings", len(items))
	return items, nil
}

func (s *StatefulSource) attempt(ctx context.Context, n int) ([]posting.Posting, error) {
	start := time.Now()
	items, err := s.fetch(ctx)
	s.metrics.RecordSourceAttempt(s.cfg.ID, time.Since(start), err)
	if err != nil {
		s.logger.Info("attempt failed", "attempt", n, "of", s.api.Attempts, "err", err)
		return nil, err
	}
	s.logger.Debug("attempt succeeded", "attempt", n, "postings", len(items))
	return items, nil
}

func (s *StatefulSource) fetch(ctx context.Context) ([]posting.Posting, error) {
	client, err := newClient(s.timeout)
	if err != nil {
		return nil, err
	}

	if err := s.selectRegion(ctx, client); err != nil {
		return nil, err
	}
	token, err := s.harvestToken(ctx, client)
	if err != nil {
		return nil, err
	}
	body, err := s.requestData(ctx, client, token)
	if err != nil {
		return nil, err
	}
	records, err := s.decodeRecords(body)
	if err != nil {
		return nil, err
	}
	return s.normalize(records), nil
}

func (s *StatefulSource) selectRegion(ctx context.Context, client *resty.Client) error {
	res, err := client.R().
		SetContext(ctx).
		SetQueryParam(s.api.RegionParam, s.api.RegionCode).
		Get(s.api.RegionURL)
	if err != nil {
		return fmt.Errorf("select region: %w", err)
	}
	return checkResponse(res, "select region")
}

func (s *StatefulSource) harvestToken(ctx context.Context, client *resty.Client) (string, error) {
	res, err := client.R().
		SetContext(ctx).
		Get(s.api.ListURL)
	if err != nil {
		return "", fmt.Errorf("fetch listing page: %w", err)
	}
	if err := checkResponse(res, "fetch listing page"); err != nil {
		return "", err
	}

	doc, err := parseDocument(res)
	if err != nil {
		return "", fmt.Errorf("parse listing page: %w", err)
	}
	token := strings.TrimSpace(doc.Find(fmt.Sprintf("input[name=%q]", s.api.CSRFField)).AttrOr("value", ""))
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}

func (s *StatefulSource) requestData(ctx context.Context, client *resty.Client, token string) ([]byte, error) {
	params := make(map[string]string, len(s.api.Params)+1)
	for k, v := range s.api.Params {
		params[k] = v
	}
	params[s.api.CSRFField] = token

	req := client.R().
		SetContext(ctx).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader(s.api.CSRFHeader, token).
		SetHeader("Accept", "application/json, text/javascript, */*; q=0.01").
		SetHeader("Referer", s.api.ListURL)

	var res *resty.Response
	var err error
	if s.api.Method == http.MethodPost {
		res, err = req.SetFormData(params).Post(s.api.AjaxURL)
	} else {
		res, err = req.SetQueryParams(params).Get(s.api.AjaxURL)
	}
	if err != nil {
		return nil, fmt.Errorf("data request: %w", err)
	}
	if err := checkResponse(res, "data request"); err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func (s *StatefulSource) decodeRecords(body []byte) ([]map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var envelope map[string]json.RawMessage
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	keys := resultKeys
	if s.api.ResultKey != "" {
		keys = []string{s.api.ResultKey}
	}
	for _, key := range keys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		if string(bytes.TrimSpace(raw)) == "null" {
			return nil, fmt.Errorf("%w: %s", errNullResult, key)
		}
		listDecoder := json.NewDecoder(bytes.NewReader(raw))
		listDecoder.UseNumber()
		var records []map[string]any
		if err := listDecoder.Decode(&records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return records, nil
	}
	return nil, fmt.Errorf("%w (tried %s)", errNoResultKey, strings.Join(keys, ", "))
}

func (s *StatefulSource) normalize(records []map[string]any) []posting.Posting {
	fields := posting.Fields{
		ID:           s.api.IDField,
		Title:        s.api.TitleField,
		Status:       s.api.StatusField,
		LinkTemplate: s.api.LinkTemplate,
	}

	items := []posting.Posting{}
	for _, rec := range records {
		status, _ := rec[s.api.StatusField].(string)
		if status != s.api.ActiveStatus {
			continue
		}
		p, ok := posting.FromRecord(rec, fields, s.listURL)
		if !ok {
			continue
		}
		items = append(items, p)
	}
	return posting.Dedupe(items)
}
