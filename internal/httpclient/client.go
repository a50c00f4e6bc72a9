// Package httpclient provides the single HTTP client every other package
// in the mirror uses to talk to InVision: a shared cookie jar, the fixed
// request headers InVision's console expects, XSRF token propagation, and
// the retry/backoff contract for transient upstream failures.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/publicsuffix"
)

// desktopUserAgent matches the browser InVision's console expects; without
// it several endpoints serve a mobile-app upsell page instead of JSON.
const desktopUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

const (
	maxRetries = 10
	cooldown   = 120 * time.Second
)

// retryableStatus is the set of upstream status codes treated as transient.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusError reports a non-200, non-retryable response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("invision: %s %s returned %d", e.Method, e.URL, e.StatusCode)
}

// Client wraps http.Client with InVision's session, header, and retry
// contract. It is safe for concurrent use: the underlying cookiejar.Jar
// serialises its own access, and http.Client itself is safe for concurrent
// Do calls.
type Client struct {
	http *http.Client
}

// New builds a Client with a fresh, shared cookie jar. If customCAFile
// names a file under /usr/local/share/ca-certificates, it is added to the
// transport's trusted root pool.
func New(customCAFile string) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("httpclient: create cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if customCAFile != "" {
		pool, err := loadCAPool(customCAFile)
		if err != nil {
			return nil, err
		}
		if pool != nil {
			transport.TLSClientConfig = &tls.Config{RootCAs: pool}
		}
	}

	return &Client{
		http: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   60 * time.Second,
		},
	}, nil
}

func loadCAPool(customCAFile string) (*x509.CertPool, error) {
	path := filepath.Join("/usr/local/share/ca-certificates", customCAFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("httpclient: read custom CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("httpclient: no certificates found in %s", path)
	}
	return pool, nil
}

// Do issues method to rawURL with the given JSON body (nil for none),
// retrying transient failures up to maxRetries times with a fixed cooldown
// between attempts. A non-200 response that is not in the retryable set is
// returned immediately, wrapped in *StatusError, without retrying. The
// caller owns closing the returned response body.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	return c.do(ctx, method, rawURL, body, contentType)
}

// DoForm issues method to rawURL with form as a URL-encoded request body,
// matching the handful of InVision endpoints (the API login step) that
// reject a JSON body. Same retry contract as Do.
func (c *Client) DoForm(ctx context.Context, method, rawURL string, form url.Values) (*http.Response, error) {
	return c.do(ctx, method, rawURL, []byte(form.Encode()), "application/x-www-form-urlencoded")
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, contentType string) (*http.Response, error) {
	var resp *http.Response

	op := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.applyHeaders(req, contentType)

		r, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("httpclient: %s %s: %w", method, rawURL, err)
		}

		if r.StatusCode == http.StatusOK {
			resp = r
			return nil
		}
		if retryableStatus[r.StatusCode] {
			r.Body.Close()
			return fmt.Errorf("httpclient: retryable status %d from %s", r.StatusCode, rawURL)
		}

		resp = r
		return backoff.Permanent(&StatusError{Method: method, URL: rawURL, StatusCode: r.StatusCode})
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(cooldown), maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if resp != nil {
			return resp, err
		}
		return nil, fmt.Errorf("httpclient: maximum number of retries reached for %s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// applyHeaders sets the headers InVision's console-facing API expects on
// every request, plus the XSRF token if the jar already holds one for this
// request's host. contentType is set verbatim when non-empty, and left
// unset for bodyless requests.
func (c *Client) applyHeaders(req *http.Request, contentType string) {
	req.Header.Set("User-Agent", desktopUserAgent)
	req.Header.Set("x-client-type", "App")
	req.Header.Set("calling-service", "auth-ui-browser")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.xsrfToken(req.URL); token != "" {
		req.Header.Set("x-xsrf-token", token)
	}
}

// Cookie returns the named cookie the jar holds for rawURL, if any.
func (c *Client) Cookie(rawURL, name string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || c.http.Jar == nil {
		return "", false
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

// xsrfToken returns the XSRF-TOKEN cookie value the jar holds for u, if any.
func (c *Client) xsrfToken(u *url.URL) string {
	if c.http.Jar == nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == "XSRF-TOKEN" {
			return ck.Value
		}
	}
	return ""
}
