package source

import (
	"bytes"
	"fmt"
	"net/http/cookiejar"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
)

// newClient returns a resty client with a private cookie jar. Every stateful
// attempt gets its own client so region selection and CSRF tokens never leak
// between attempts.
func newClient(timeout time.Duration) (*resty.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", defaultUserAgent)
	client.SetHeader("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return client, nil
}

func checkResponse(res *resty.Response, step string) error {
	if res.IsError() {
		return fmt.Errorf("%s: status %d", step, res.StatusCode())
	}
	return nil
}

// parseDocument decodes the body to UTF-8 using the Content-Type charset
// (or a meta tag) before parsing; several agency boards still serve EUC-KR.
func parseDocument(res *resty.Response) (*goquery.Document, error) {
	body, err := charset.NewReader(bytes.NewReader(res.Body()), res.Header().Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode charset: %w", err)
	}
	return goquery.NewDocumentFromReader(body)
}
