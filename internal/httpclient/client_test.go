package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestDo_SetsHeaders(t *testing.T) {
	var gotUA, gotClientType, gotCallingService string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotClientType = r.Header.Get("x-client-type")
		gotCallingService = r.Header.Get("calling-service")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if gotUA != desktopUserAgent {
		t.Errorf("expected desktop user agent, got %q", gotUA)
	}
	if gotClientType != "App" {
		t.Errorf("expected x-client-type App, got %q", gotClientType)
	}
	if gotCallingService != "auth-ui-browser" {
		t.Errorf("expected calling-service auth-ui-browser, got %q", gotCallingService)
	}
}

func TestDo_NonRetryableStatusReturnsImmediately(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response returned alongside error, got %v", resp)
	}
	var statusErr *StatusError
	if !asStatusError(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %T: %v", err, err)
	}
	if hits != 1 {
		t.Errorf("expected exactly one request, got %d", hits)
	}
}

func TestDo_XSRFTokenSentFromJar(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/seed" {
			http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "abc123", Path: "/"})
			w.WriteHeader(http.StatusOK)
			return
		}
		gotToken = r.Header.Get("x-xsrf-token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/seed", nil); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/api", nil); err != nil {
		t.Fatalf("api request: %v", err)
	}
	if gotToken != "abc123" {
		t.Errorf("expected x-xsrf-token abc123, got %q", gotToken)
	}
}

func TestDoForm_EncodesBodyAndSetsContentType(t *testing.T) {
	var gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	form := url.Values{"email": {"user@example.com"}, "webview": {"false"}}
	resp, err := c.DoForm(context.Background(), http.MethodPost, srv.URL, form)
	if err != nil {
		t.Fatalf("DoForm: %v", err)
	}
	defer resp.Body.Close()

	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("expected form content type, got %q", gotContentType)
	}
	if gotBody != form.Encode() {
		t.Errorf("expected encoded form body %q, got %q", form.Encode(), gotBody)
	}
}

func asStatusError(err error, target **StatusError) bool {
	for err != nil {
		if se, ok := err.(*StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
