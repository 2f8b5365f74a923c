// Package mgmt talks to a node's cluster-management API: session login,
// telemetry pause/resume and promotion to primary.
package mgmt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAuthentication is returned when a session cannot be established.
var ErrAuthentication = errors.New("management authentication failed")

const (
	LoginPath = "/j_security_check"
	TokenPath = "/dataservice/client/token"

	XSRFHeader = "X-XSRF-TOKEN"
)

// NewHTTPClient returns a client for management endpoints. Appliances in
// the field commonly present self-signed certificates, hence insecure.
func NewHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		// the login endpoint answers with a redirect we must not follow
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Session is an authenticated connection to one management endpoint.
type Session struct {
	baseURL string
	client  *http.Client
	cookie  string
	token   string
}

// Login establishes a session: form login for the session cookie, then a
// token request for the XSRF token attached to every later call.
func Login(ctx context.Context, client *http.Client, baseURL, username, password string) (*Session, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	form := url.Values{"j_username": {username}, "j_password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+LoginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: login request to %s: %v", ErrAuthentication, baseURL, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: login to %s returned %d", ErrAuthentication, baseURL, resp.StatusCode)
	}
	cookie := sessionCookie(resp)
	if cookie == "" {
		return nil, fmt.Errorf("%w: %s returned no session cookie", ErrAuthentication, baseURL)
	}

	s := &Session{baseURL: baseURL, client: client, cookie: cookie}

	resp, err = s.do(ctx, http.MethodGet, TokenPath)
	if err != nil {
		return nil, fmt.Errorf("%w: token request to %s: %v", ErrAuthentication, baseURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read token: %v", ErrAuthentication, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token request to %s returned %d", ErrAuthentication, baseURL, resp.StatusCode)
	}
	// some releases don't issue a token and accept the cookie alone
	s.token = strings.TrimSpace(string(body))
	return s, nil
}

// BaseURL is the management endpoint this session talks to.
func (s *Session) BaseURL() string { return s.baseURL }

// do sends an authenticated request with an empty body.
func (s *Session) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", s.cookie)
	if s.token != "" {
		req.Header.Set(XSRFHeader, s.token)
	}
	return s.client.Do(req)
}

func sessionCookie(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if c.Name == "JSESSIONID" {
			return c.Name + "=" + c.Value
		}
	}
	// fall back to the first cookie pair in the raw header
	if raw := resp.Header.Get("Set-Cookie"); raw != "" {
		return strings.TrimSpace(strings.SplitN(raw, ";", 2)[0])
	}
	return ""
}
