package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/junnnnnw00/shinbo-notification/internal/posting"
)

// fakeAgency mimics an upstream that keeps the selected region in a server
// side session and rejects data requests without the page's CSRF token.
type fakeAgency struct {
	mu        sync.Mutex
	sessions  map[string]string // session id -> region code
	responses []string          // data responses by call index; the last one repeats
	dataCalls int
	omitToken bool
	method    string
}

func (f *fakeAgency) session(r *http.Request) (string, bool) {
	c, err := r.Cookie("SID")
	if err != nil {
		return "", false
	}
	_, ok := f.sessions[c.Value]
	return c.Value, ok
}

func (f *fakeAgency) router() http.Handler {
	router := chi.NewRouter()

	router.Get("/region", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		sid, ok := f.session(r)
		if !ok {
			sid = fmt.Sprintf("s%d", len(f.sessions)+1)
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: sid, Path: "/"})
		}
		f.sessions[sid] = r.URL.Query().Get("region_code")
		w.WriteHeader(http.StatusNoContent)
	})

	router.Get("/notice/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		sid, ok := f.session(r)
		if !ok {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if f.omitToken {
			_, _ = w.Write([]byte(`<html><body><form id="search"></form></body></html>`))
			return
		}
		_, _ = fmt.Fprintf(w, `<html><body><form id="search"><input type="hidden" name="_csrf" value="tok-%s"/></form></body></html>`, sid)
	})

	data := func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		sid, ok := f.session(r)
		if !ok || f.sessions[sid] != "26" {
			http.Error(w, "region not selected", http.StatusForbidden)
			return
		}
		token := "tok-" + sid
		if r.Header.Get("X-Requested-With") != "XMLHttpRequest" ||
			r.Header.Get("X-CSRF-TOKEN") != token ||
			r.FormValue("_csrf") != token ||
			r.FormValue("searchKeyword") != "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		idx := f.dataCalls
		if idx >= len(f.responses) {
			idx = len(f.responses) - 1
		}
		f.dataCalls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.responses[idx]))
	}
	if f.method == http.MethodPost {
		router.Post("/notice/ajax", data)
	} else {
		router.Get("/notice/ajax", data)
	}
	return router
}

func startAgency(t *testing.T, f *fakeAgency) *httptest.Server {
	t.Helper()
	f.sessions = map[string]string{}
	ts := httptest.NewServer(f.router())
	t.Cleanup(ts.Close)
	return ts
}

func apiConfig(baseURL string, mutate func(*APIConfig)) Config {
	api := &APIConfig{
		RegionURL:    baseURL + "/region",
		RegionCode:   "26",
		ListURL:      baseURL + "/notice/list",
		AjaxURL:      baseURL + "/notice/ajax",
		IDField:      "seq",
		TitleField:   "title",
		StatusField:  "status",
		ActiveStatus: "접수중",
		LinkTemplate: "view?seq={id}",
		Params:       map[string]string{"searchKeyword": "", "searchType": ""},
		Attempts:     3,
		RetryDelayMS: 1500,
	}
	if mutate != nil {
		mutate(api)
	}
	return Config{ID: "busan", Name: "부산신용보증재단", Kind: KindStatefulAPI, API: api}
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

const fullList = `{"list": [
	{"seq": 101, "title": "특례보증 1차", "status": "접수중"},
	{"seq": 102, "title": "특례보증 2차", "status": "접수중"},
	{"seq": 100, "title": "지난 공고", "status": "마감"},
	{"seq": 101, "title": "중복", "status": "접수중"}
]}`

const truncatedList = `{"list": [{"seq": 101, "title": "특례보증 1차", "status": "접수중"}]}`

func TestStatefulSourceGet(t *testing.T) {
	agency := &fakeAgency{responses: []string{fullList}}
	ts := startAgency(t, agency)
	sleeper := &sleepRecorder{}

	src, err := New(apiConfig(ts.URL, nil), Options{Sleep: sleeper.sleep})
	require.NoError(t, err)

	items, err := src.Scrape(context.Background())
	require.NoError(t, err)
	require.Equal(t, []posting.Posting{
		{ID: "101", Title: "특례보증 1차", Link: ts.URL + "/notice/view?seq=101", Status: "접수중"},
		{ID: "102", Title: "특례보증 2차", Link: ts.URL + "/notice/view?seq=102", Status: "접수중"},
	}, items)

	// best-of-n runs every attempt
	require.Equal(t, 3, agency.dataCalls)
	require.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, sleeper.delays)
}

func TestStatefulSourcePostProbesResultKey(t *testing.T) {
	agency := &fakeAgency{
		method:    http.MethodPost,
		responses: []string{`{"resultList": [{"seq": "A-7", "title": "창업보증", "status": "접수중"}], "totalCount": 1}`},
	}
	ts := startAgency(t, agency)

	src, err := New(apiConfig(ts.URL, func(a *APIConfig) {
		a.Method = "post"
		a.Attempts = 1
	}), Options{})
	require.NoError(t, err)

	items, err := src.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "A-7", items[0].ID)
	require.Equal(t, ts.URL+"/notice/view?seq=A-7", items[0].Link)
}

func TestStatefulSourceConfiguredResultKey(t *testing.T) {
	agency := &fakeAgency{responses: []string{fullList}}
	ts := startAgency(t, agency)

	src, err := New(apiConfig(ts.URL, func(a *APIConfig) {
		a.ResultKey = "resultList"
		a.Attempts = 2
	}), Options{Sleep: (&sleepRecorder{}).sleep})
	require.NoError(t, err)

	_, err = src.Scrape(context.Background())
	require.ErrorIs(t, err, ErrUntrusted)
}

func TestStatefulSourceBestOfNKeepsLargest(t *testing.T) {
	agency := &fakeAgency{responses: []string{truncatedList, fullList, truncatedList}}
	ts := startAgency(t, agency)

	src, err := New(apiConfig(ts.URL, nil), Options{Sleep: (&sleepRecorder{}).sleep})
	require.NoError(t, err)

	items, err := src.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestStatefulSourceMissingToken(t *testing.T) {
	agency := &fakeAgency{omitToken: true, responses: []string{fullList}}
	ts := startAgency(t, agency)
	sleeper := &sleepRecorder{}

	src, err := New(apiConfig(ts.URL, nil), Options{Sleep: sleeper.sleep})
	require.NoError(t, err)

	items, err := src.Scrape(context.Background())
	require.ErrorIs(t, err, ErrUntrusted)
	require.Nil(t, items)
	require.Equal(t, 0, agency.dataCalls)
	require.Len(t, sleeper.delays, 2)
}

func TestStatefulSourceWrongRegion(t *testing.T) {
	agency := &fakeAgency{responses: []string{fullList}}
	ts := startAgency(t, agency)

	src, err := New(apiConfig(ts.URL, func(a *APIConfig) { a.RegionCode = "31" }), Options{Sleep: (&sleepRecorder{}).sleep})
	require.NoError(t, err)

	_, err = src.Scrape(context.Background())
	require.ErrorIs(t, err, ErrUntrusted)
}

func TestStatefulSourceNonJSON(t *testing.T) {
	agency := &fakeAgency{responses: []string{`<html>session expired</html>`}}
	ts := startAgency(t, agency)

	src, err := New(apiConfig(ts.URL, nil), Options{Sleep: (&sleepRecorder{}).sleep})
	require.NoError(t, err)

	_, err = src.Scrape(context.Background())
	require.ErrorIs(t, err, ErrUntrusted)
	require.Equal(t, 3, agency.dataCalls)
}

func TestStatefulSourceNullList(t *testing.T) {
	t.Run("null on every attempt is untrusted", func(t *testing.T) {
		agency := &fakeAgency{responses: []string{`{"list": null, "resultCode": "E"}`}}
		ts := startAgency(t, agency)

		src, err := New(apiConfig(ts.URL, nil), Options{Sleep: (&sleepRecorder{}).sleep})
		require.NoError(t, err)

		items, err := src.Scrape(context.Background())
		require.ErrorIs(t, err, ErrUntrusted)
		require.Nil(t, items)
		require.Equal(t, 3, agency.dataCalls)
	})

	t.Run("null does not count as a confirmed zero", func(t *testing.T) {
		agency := &fakeAgency{responses: []string{`{"list": null}`, `<html>busy</html>`, `{"list": [1]}`}}
		ts := startAgency(t, agency)

		src, err := New(apiConfig(ts.URL, nil), Options{Sleep: (&sleepRecorder{}).sleep})
		require.NoError(t, err)

		_, err = src.Scrape(context.Background())
		require.ErrorIs(t, err, ErrUntrusted)
	})

	t.Run("non-array list is rejected", func(t *testing.T) {
		agency := &fakeAgency{responses: []string{`{"list": {"seq": 1}}`}}
		ts := startAgency(t, agency)

		src, err := New(apiConfig(ts.URL, func(a *APIConfig) { a.Attempts = 1 }), Options{})
		require.NoError(t, err)

		_, err = src.Scrape(context.Background())
		require.ErrorIs(t, err, ErrUntrusted)
	})
}

func TestStatefulSourceEmptyList(t *testing.T) {
	t.Run("best-of-n trusts a confirmed zero", func(t *testing.T) {
		agency := &fakeAgency{responses: []string{`{"list": []}`}}
		ts := startAgency(t, agency)

		src, err := New(apiConfig(ts.URL, nil), Options{Sleep: (&sleepRecorder{}).sleep})
		require.NoError(t, err)

		items, err := src.Scrape(context.Background())
		require.NoError(t, err)
		require.NotNil(t, items)
		require.Empty(t, items)
	})

	t.Run("first-success treats persistent empties as untrusted", func(t *testing.T) {
		agency := &fakeAgency{responses: []string{`{"list": []}`}}
		ts := startAgency(t, agency)

		src, err := New(apiConfig(ts.URL, func(a *APIConfig) { a.Policy = PolicyFirstSuccess }), Options{Sleep: (&sleepRecorder{}).sleep})
		require.NoError(t, err)

		_, err = src.Scrape(context.Background())
		require.ErrorIs(t, err, ErrUntrusted)
		require.Equal(t, 3, agency.dataCalls)
	})
}

func TestStatefulSourceFirstSuccessStopsEarly(t *testing.T) {
	agency := &fakeAgency{responses: []string{`{"list": []}`, truncatedList, fullList}}
	ts := startAgency(t, agency)

	src, err := New(apiConfig(ts.URL, func(a *APIConfig) { a.Policy = PolicyFirstSuccess }), Options{Sleep: (&sleepRecorder{}).sleep})
	require.NoError(t, err)

	items, err := src.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, agency.dataCalls)
}

func TestStatefulSourceRejectsBadConfig(t *testing.T) {
	_, err := New(apiConfig("http://example.com", func(a *APIConfig) { a.Method = "PUT" }), Options{})
	require.Error(t, err)

	_, err = New(apiConfig("http://example.com", func(a *APIConfig) { a.Policy = "fastest" }), Options{})
	require.Error(t, err)

	_, err = New(apiConfig("http://example.com", func(a *APIConfig) { a.AjaxURL = "" }), Options{})
	require.Error(t, err)
}

func TestRetryPolicies(t *testing.T) {
	boom := errors.New("boom")
	noSleep := func(context.Context, time.Duration) error { return nil }
	results := func(outcomes ...any) attemptFunc {
		return func(_ context.Context, n int) ([]posting.Posting, error) {
			switch v := outcomes[n-1].(type) {
			case error:
				return nil, v
			case []posting.Posting:
				return v, nil
			}
			return nil, nil
		}
	}
	one := []posting.Posting{{ID: "1"}}
	two := []posting.Posting{{ID: "1"}, {ID: "2"}}
	dup := []posting.Posting{{ID: "1"}, {ID: "1"}, {ID: "1"}}

	got, err := BestOfN{}.Run(context.Background(), 3, 0, noSleep, results(boom, two, one))
	require.NoError(t, err)
	require.Equal(t, two, got)

	got, err = BestOfN{}.Run(context.Background(), 2, 0, noSleep, results(dup, one))
	require.NoError(t, err)
	require.Equal(t, one, got)

	_, err = BestOfN{}.Run(context.Background(), 2, 0, noSleep, results(boom, boom))
	require.ErrorIs(t, err, ErrUntrusted)

	got, err = FirstSuccess{}.Run(context.Background(), 3, 0, noSleep, results(boom, one, two))
	require.NoError(t, err)
	require.Equal(t, one, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = BestOfN{}.Run(ctx, 3, time.Hour, sleepContext, results(boom, two, two))
	require.ErrorIs(t, err, ErrUntrusted)
}
