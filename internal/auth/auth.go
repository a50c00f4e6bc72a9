// Package auth performs the two-step InVision login: a classic login with
// a JSON body that seeds session cookies, followed by an API login that exchanges them
// for an XSRF-gated console session. Both steps must succeed before any
// other request is made.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/divyekant/invision-mirror/internal/httpclient"
)

// These are vars, not consts, so tests can point Login at an
// httptest.Server instead of the live InVision hosts.
var (
	classicLoginURL = "https://login.invisionapp.com/login-api/api/v2/login"
	apiLoginURL     = "https://projects.invisionapp.com/api/account/login"
)

// Error reports a failure during either login step. The mirror treats this
// as a fatal, run-aborting error: there is nothing useful to mirror without
// an authenticated session.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("auth: %s: %v", e.Step, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// SetURLsForTest points the package's login endpoints at classic and
// api for the duration of a test, returning a func that restores the
// live InVision URLs. Intended for use by other packages' tests that
// exercise auth.Login end-to-end against an httptest.Server.
func SetURLsForTest(classic, api string) func() {
	prevClassic, prevAPI := classicLoginURL, apiLoginURL
	classicLoginURL, apiLoginURL = classic, api
	return func() {
		classicLoginURL, apiLoginURL = prevClassic, prevAPI
	}
}

// Login performs both login steps against the given client, whose cookie
// jar accumulates the resulting session. On success the client is ready to
// make authenticated API calls.
func Login(ctx context.Context, c *httpclient.Client, email, password string) error {
	if err := classicLogin(ctx, c, classicLoginURL, email, password); err != nil {
		return &Error{Step: "classic login", Err: err}
	}
	if err := apiLogin(ctx, c, apiLoginURL, email, password); err != nil {
		return &Error{Step: "api login", Err: err}
	}
	return nil
}

// classicLogin seeds the session with InVision's classic login cookies,
// including the XSRF-TOKEN the subsequent API login step requires.
func classicLogin(ctx context.Context, c *httpclient.Client, loginURL, email, password string) error {
	body, err := json.Marshal(map[string]string{
		"deviceID": "App",
		"email":    email,
		"password": password,
	})
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, http.MethodPost, loginURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// apiLogin exchanges the classic-login cookies for a console session. This
// endpoint takes a form-encoded body, not JSON.
func apiLogin(ctx context.Context, c *httpclient.Client, loginURL, email, password string) error {
	form := url.Values{
		"email":    {email},
		"password": {password},
		"webview":  {"false"},
	}
	resp, err := c.DoForm(ctx, http.MethodPost, loginURL, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, ok := c.Cookie(loginURL, "XSRF-TOKEN"); !ok {
		return fmt.Errorf("no XSRF-TOKEN cookie set after api login")
	}
	return nil
}
