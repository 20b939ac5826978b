// Copyright 2025 The twmeter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Portal endpoints. The login base hosts the Azure B2C user flow, the
// portal base hosts the account dashboard and the usage AJAX endpoint.
var thamesEndpoints = map[string]string{
	"login":  "https://login.thameswater.co.uk/identity.thameswater.co.uk",
	"portal": "https://myaccount.thameswater.co.uk",
}

// Helper function to get endpoint URLs
func getEndpoint(key string) string {
	if url, exists := thamesEndpoints[key]; exists {
		return url
	}
	// Fallback to the portal if key doesn't exist
	return thamesEndpoints["portal"]
}

// msal.js telemetry fields the token endpoint expects verbatim.
var tokenTelemetry = map[string]string{
	"client_info":         "1",
	"x-client-SKU":        "msal.js.browser",
	"x-client-VER":        "3.1.0",
	"x-ms-lib-capability": "retry-after, h429",
}

const (
	exchangeTelemetry = "5|865,0,,,|,"
	refreshTelemetry  = "5|61,0,,,|@azure/msal-react,2.0.3"
)

// APIMetrics tracks HTTP exchange performance and auth counters. The
// run goroutine records while the metrics endpoint reads, so all
// access goes through the mutex.
type APIMetrics struct {
	mu               sync.Mutex
	requestDurations map[string][]float64 // path -> durations in seconds
	totalRequests    int64
	authAttempts     int64
	authFailures     int64
}

// NewAPIMetrics creates a new metrics tracker
func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{
		requestDurations: make(map[string][]float64),
	}
}

// CountRequest counts one HTTP exchange
func (m *APIMetrics) CountRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
}

// RecordDuration records a completed exchange's duration
func (m *APIMetrics) RecordDuration(path string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestDurations[path] = append(m.requestDurations[path], seconds)
}

// CountAuthAttempt counts a started login sequence
func (m *APIMetrics) CountAuthAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authAttempts++
}

// CountAuthFailure counts a login sequence that ended in failure
func (m *APIMetrics) CountAuthFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFailures++
}

// TotalRequests returns the number of HTTP exchanges
func (m *APIMetrics) TotalRequests() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalRequests
}

// AuthAttempts returns the number of login sequences started
func (m *APIMetrics) AuthAttempts() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authAttempts
}

// AuthFailures returns the number of failed login sequences
func (m *APIMetrics) AuthFailures() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authFailures
}

// AverageDurations returns the mean exchange duration per endpoint
func (m *APIMetrics) AverageDurations() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.requestDurations))
	for path, durations := range m.requestDurations {
		if len(durations) == 0 {
			continue
		}
		total := 0.0
		for _, d := range durations {
			total += d
		}
		out[path] = total / float64(len(durations))
	}
	return out
}

// authStep enumerates the states of the scraped login sequence. The
// sequence is linear; any step can fail into a terminal AuthError.
type authStep int

const (
	stepInit authStep = iota
	stepAuthorized
	stepSelfAsserted
	stepConfirmed
	stepTokenExchanged
	stepRefreshed
	stepPortalLinked
	stepAuthenticated
)

func (s authStep) String() string {
	switch s {
	case stepInit:
		return "init"
	case stepAuthorized:
		return "authorized"
	case stepSelfAsserted:
		return "self-asserted"
	case stepConfirmed:
		return "confirmed"
	case stepTokenExchanged:
		return "token-exchanged"
	case stepRefreshed:
		return "refreshed"
	case stepPortalLinked:
		return "portal-linked"
	case stepAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// pkceMaterial is a PKCE verifier/challenge pair. The challenge is
// always SHA-256 of the verifier; both are unpadded base64url.
type pkceMaterial struct {
	Verifier  string
	Challenge string
}

// pkceFromVerifier derives the challenge for a given verifier
func pkceFromVerifier(verifier string) pkceMaterial {
	sum := sha256.Sum256([]byte(verifier))
	return pkceMaterial{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}
}

// generatePKCE creates fresh material from 32 random bytes
func generatePKCE() (pkceMaterial, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return pkceMaterial{}, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	return pkceFromVerifier(base64.RawURLEncoding.EncodeToString(buf)), nil
}

// tokenResponse is the OAuth token endpoint's reply
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// session holds all mutable state of one authentication attempt: the
// cookie jar, the step-scoped B2C tokens and the OAuth token pair.
// It is exclusively owned by the client and lives until the caller
// resets it; usage fetches reuse it across the whole run.
type session struct {
	jar        *cookiejar.Jar
	pkce       pkceMaterial
	transToken string
	csrfToken  string
	authCode   string
	tokens     tokenResponse
	step       authStep
}

func newSession() (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	pkce, err := generatePKCE()
	if err != nil {
		return nil, err
	}
	return &session{jar: jar, pkce: pkce, step: stepInit}, nil
}

// ThamesWaterClient reproduces the portal's browser login flow over
// plain HTTP exchanges and fetches per-day hourly meter usage with the
// resulting session. One client serves one account; callers must not
// run two authentication attempts concurrently (EnsureAuthenticated
// collapses them).
type ThamesWaterClient struct {
	Email         string
	Password      string
	AccountNumber string
	MeterID       string
	ClientID      string
	LoginBaseURL  string
	PortalBaseURL string
	client        *http.Client
	session       *session
	authGroup     singleflight.Group
	debug         bool
	logger        *Logger
	metrics       *APIMetrics
}

func NewThamesWaterClient(email, password, accountNumber, meterID string, debug bool) *ThamesWaterClient {
	logger := NewLogger(debug).WithComponent("thames_water_client")
	return &ThamesWaterClient{
		Email:         email,
		Password:      password,
		AccountNumber: accountNumber,
		MeterID:       meterID,
		ClientID:      DefaultClientID,
		LoginBaseURL:  getEndpoint("login"),
		PortalBaseURL: getEndpoint("portal"),
		debug:         debug,
		logger:        logger,
		metrics:       NewAPIMetrics(),
		client: &http.Client{
			Timeout: HTTPClientTimeout,
		},
	}
}

// Metrics exposes the exchange counters for the metrics collector
func (c *ThamesWaterClient) Metrics() *APIMetrics {
	return c.metrics
}

// Authenticated reports whether the current session completed the
// login sequence
func (c *ThamesWaterClient) Authenticated() bool {
	return c.session != nil && c.session.step == stepAuthenticated
}

// ResetSession discards the current session. The next usage fetch
// re-authenticates from scratch with fresh PKCE material.
func (c *ThamesWaterClient) ResetSession() {
	c.session = nil
	c.client.Jar = nil
}

// EnsureAuthenticated runs the login sequence if the session is not
// yet authenticated. Concurrent callers share a single attempt; the
// sequence itself is never retried here - a failed attempt surfaces
// as an AuthError and the caller decides whether to start over.
func (c *ThamesWaterClient) EnsureAuthenticated(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}
	_, err, _ := c.authGroup.Do("authenticate", func() (interface{}, error) {
		if c.Authenticated() {
			return nil, nil
		}
		return nil, c.authenticate(ctx)
	})
	return err
}

func (c *ThamesWaterClient) authenticate(ctx context.Context) error {
	c.metrics.CountAuthAttempt()

	sess, err := newSession()
	if err != nil {
		c.metrics.CountAuthFailure()
		return NewAuthError("authorize", "", err)
	}
	c.session = sess
	c.client.Jar = sess.jar

	if err := c.runLoginSequence(ctx); err != nil {
		c.metrics.CountAuthFailure()
		c.logger.Error("Login sequence failed",
			"step", c.session.step.String(),
			"error", err.Error(),
		)
		return err
	}

	c.logger.Info("Authenticated against portal")
	return nil
}

func (c *ThamesWaterClient) runLoginSequence(ctx context.Context) error {
	if err := c.authorize(ctx); err != nil {
		return err
	}
	if err := c.selfAssert(ctx); err != nil {
		return err
	}
	if err := c.confirm(ctx); err != nil {
		return err
	}
	if err := c.exchangeToken(ctx); err != nil {
		return err
	}
	if err := c.refreshToken(ctx); err != nil {
		return err
	}
	state, idToken, err := c.linkPortal(ctx)
	if err != nil {
		return err
	}
	return c.portalLogin(ctx, state, idToken)
}

// authorize performs the B2C authorize GET and captures the
// transaction and csrf tokens the flow sets as cookies.
func (c *ThamesWaterClient) authorize(ctx context.Context) error {
	endpoint := c.LoginBaseURL + "/" + strings.ToLower(SigninPolicy) + "/oauth2/v2.0/authorize"

	params := url.Values{}
	params.Set("client_id", c.ClientID)
	params.Set("scope", OAuthScope)
	params.Set("response_type", "code")
	params.Set("redirect_uri", RedirectURI)
	params.Set("response_mode", "fragment")
	params.Set("code_challenge", c.session.pkce.Challenge)
	params.Set("code_challenge_method", "S256")
	params.Set("nonce", uuid.NewString())
	params.Set("state", uuid.NewString())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return NewAuthError("authorize", "", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return NewAuthError("authorize", "", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return NewAuthError("authorize", "", err)
	}
	if !is2xx(resp.StatusCode) {
		return NewAuthError("authorize", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	trans := c.cookieValue(TransCookieName)
	csrf := c.cookieValue(CSRFCookieName)
	if trans == "" || csrf == "" {
		return NewAuthError("authorize", "transaction or csrf cookie missing", nil)
	}

	c.session.transToken = trans
	c.session.csrfToken = csrf
	c.session.step = stepAuthorized
	c.logger.LogAuthStep("authorize")
	return nil
}

// selfAssert posts the credentials into the signin flow
func (c *ThamesWaterClient) selfAssert(ctx context.Context) error {
	endpoint := c.LoginBaseURL + "/" + SigninPolicy + "/SelfAsserted"

	params := url.Values{}
	params.Set("tx", "StateProperties="+c.session.transToken)
	params.Set("p", SigninPolicy)

	form := url.Values{}
	form.Set("request_type", "RESPONSE")
	form.Set("email", c.Email)
	form.Set("password", c.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return NewAuthError("self-assert", "", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Csrf-Token", c.session.csrfToken)

	resp, err := c.do(req)
	if err != nil {
		return NewAuthError("self-assert", "", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return NewAuthError("self-assert", "", err)
	}
	if !is2xx(resp.StatusCode) {
		return NewAuthError("self-assert", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	c.session.step = stepSelfAsserted
	c.logger.LogAuthStep("self-assert")
	return nil
}

// confirm completes the signin flow. The flow redirects towards the
// SPA with an authorization code (or an error) in the URL fragment.
func (c *ThamesWaterClient) confirm(ctx context.Context) error {
	endpoint := c.LoginBaseURL + "/" + SigninPolicy + "/api/CombinedSigninAndSignup/confirmed"

	params := url.Values{}
	params.Set("rememberMe", "false")
	params.Set("tx", "StateProperties="+c.session.transToken)
	params.Set("csrf_token", c.session.csrfToken)
	params.Set("p", SigninPolicy)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return NewAuthError("confirm", "", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return NewAuthError("confirm", "", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return NewAuthError("confirm", "", err)
	}
	if !is2xx(resp.StatusCode) {
		return NewAuthError("confirm", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	// resp.Request.URL is the final URL after redirects; the fragment
	// carries &-joined key=value pairs.
	frag := parseFragment(resp.Request.URL.Fragment)
	if desc, ok := frag["error_description"]; ok {
		return NewAuthError("confirm", desc, nil)
	}
	if errCode, ok := frag["error"]; ok {
		return NewAuthError("confirm", errCode, nil)
	}
	code, ok := frag["code"]
	if !ok || code == "" {
		return NewAuthError("confirm", "authorization code missing from redirect fragment", nil)
	}

	c.session.authCode = code
	c.session.step = stepConfirmed
	c.logger.LogAuthStep("confirm")
	return nil
}

// exchangeToken trades the authorization code plus PKCE verifier for
// the OAuth token pair
func (c *ThamesWaterClient) exchangeToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("redirect_uri", RedirectURI)
	form.Set("scope", OAuthScope)
	form.Set("grant_type", "authorization_code")
	for k, v := range tokenTelemetry {
		form.Set(k, v)
	}
	form.Set("x-client-current-telemetry", exchangeTelemetry)
	form.Set("x-client-last-telemetry", "5|0|||0,0")
	form.Set("code_verifier", c.session.pkce.Verifier)
	form.Set("code", c.session.authCode)

	tokens, err := c.postTokenForm(ctx, http.MethodPost, form)
	if err != nil {
		return NewAuthError("token-exchange", "", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return NewAuthError("token-exchange", "token pair missing from response", nil)
	}

	c.session.tokens = tokens
	c.session.step = stepTokenExchanged
	c.logger.LogAuthStep("token-exchange")
	return nil
}

// refreshToken performs the extra refresh round trip the portal
// requires before it accepts the session downstream. The portal
// expects this one as a GET carrying a form body.
func (c *ThamesWaterClient) refreshToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("scope", OAuthScope)
	form.Set("grant_type", "refresh_token")
	for k, v := range tokenTelemetry {
		form.Set(k, v)
	}
	form.Set("x-client-current-telemetry", refreshTelemetry)
	form.Set("x-client-last-telemetry", "5|0|||0,0")
	form.Set("refresh_token", c.session.tokens.RefreshToken)

	tokens, err := c.postTokenForm(ctx, http.MethodGet, form)
	if err != nil {
		return NewAuthError("refresh", "", err)
	}
	if tokens.AccessToken == "" {
		return NewAuthError("refresh", "access token missing from response", nil)
	}

	c.session.tokens = tokens
	c.session.step = stepRefreshed
	c.logger.LogAuthStep("refresh")
	return nil
}

// postTokenForm sends a form to the B2C token endpoint and decodes
// the token response
func (c *ThamesWaterClient) postTokenForm(ctx context.Context, method string, form url.Values) (tokenResponse, error) {
	endpoint := c.LoginBaseURL + "/" + strings.ToLower(SigninPolicy) + "/oauth2/v2.0/token"

	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := c.do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, err
	}
	if !is2xx(resp.StatusCode) {
		return tokenResponse{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return tokenResponse{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	return tokens, nil
}

// linkPortal seeds the account portal's cookies by visiting the
// dashboard and usage pages, then extracts the state and id_token the
// portal login endpoint needs from the sign-in redirect.
func (c *ThamesWaterClient) linkPortal(ctx context.Context) (string, string, error) {
	signinPath := "/twservice/Account/SignIn?useremail="
	referer := c.PortalBaseURL + signinPath

	pages := []string{
		c.PortalBaseURL + "/mydashboard",
		c.PortalBaseURL + "/mydashboard/my-meters-usage?contractAccountNumber=" + url.QueryEscape(c.AccountNumber),
	}
	for _, page := range pages {
		if err := c.getPortalPage(ctx, page, referer); err != nil {
			return "", "", NewAuthError("extract-id-token", "", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PortalBaseURL+signinPath, nil)
	if err != nil {
		return "", "", NewAuthError("extract-id-token", "", err)
	}
	req.Header.Set("Referer", referer)

	resp, err := c.do(req)
	if err != nil {
		return "", "", NewAuthError("extract-id-token", "", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return "", "", NewAuthError("extract-id-token", "", readErr)
	}

	finalURL := resp.Request.URL.String()
	state, ok := textBetween(finalURL, "&state=", "&nonce=")
	if !ok {
		return "", "", NewAuthError("extract-id-token", "state marker missing from sign-in redirect URL", nil)
	}
	state = strings.ReplaceAll(state, "%3d", "=")

	idToken, ok := textBetween(string(body), "id='id_token' value='", "'/>")
	if !ok {
		return "", "", NewAuthError("extract-id-token", "id_token marker missing from sign-in response", nil)
	}

	// The browser loads the redirect target once more before posting
	// the form; the portal expects the same.
	if err := c.getPortalPage(ctx, finalURL, referer); err != nil {
		return "", "", NewAuthError("extract-id-token", "", err)
	}

	c.session.step = stepPortalLinked
	c.logger.LogAuthStep("extract-id-token")
	return state, idToken, nil
}

func (c *ThamesWaterClient) getPortalPage(ctx context.Context, page, referer string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Referer", referer)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// portalLogin posts the extracted state and id_token to the portal,
// then marks the session authenticated with the client-side cookie
// the portal's frontend would set.
func (c *ThamesWaterClient) portalLogin(ctx context.Context, state, idToken string) error {
	form := url.Values{}
	form.Set("state", state)
	form.Set("id_token", idToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PortalBaseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return NewAuthError("portal-login", "", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return NewAuthError("portal-login", "", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return NewAuthError("portal-login", "", err)
	}
	if !is2xx(resp.StatusCode) {
		return NewAuthError("portal-login", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	portalURL, err := url.Parse(c.PortalBaseURL)
	if err != nil {
		return NewAuthError("portal-login", "", err)
	}
	c.session.jar.SetCookies(portalURL, []*http.Cookie{
		{Name: AuthenticatedCookieName, Value: "true", Path: "/"},
	})

	c.session.step = stepAuthenticated
	c.logger.LogAuthStep("portal-login")
	return nil
}

// UsageLine is one line item of the usage payload
type UsageLine struct {
	Label                string  `json:"Label"`
	Usage                float64 `json:"Usage"`
	Read                 float64 `json:"Read"`
	IsEstimated          bool    `json:"IsEstimated"`
	MeterSerialNumberHis string  `json:"MeterSerialNumberHis"`
}

// MeterUsageResponse is the decoded usage payload
type MeterUsageResponse struct {
	IsError                bool        `json:"IsError"`
	IsDataAvailable        bool        `json:"IsDataAvailable"`
	IsConsumptionAvailable bool        `json:"IsConsumptionAvailable"`
	TargetUsage            float64     `json:"TargetUsage"`
	AverageUsage           float64     `json:"AverageUsage"`
	ActualUsage            float64     `json:"ActualUsage"`
	Lines                  []UsageLine `json:"Lines"`
}

// DayResult is the outcome of fetching one day of usage. A day the
// portal has not published yet is Available=false with no readings;
// that is not an error.
type DayResult struct {
	Date      time.Time
	Available bool
	Readings  []Reading
	Total     float64 // sum of the day's usage in liters
}

// FetchDay fetches and parses one day of hourly usage. Authentication
// is triggered lazily on the first call; the session's cookies and
// tokens are reused for every subsequent day in the run.
func (c *ThamesWaterClient) FetchDay(ctx context.Context, year int, month time.Month, day int) (*DayResult, error) {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	const usagePath = "/ajax/waterMeter/getSmartWaterMeterConsumptions"

	params := url.Values{}
	params.Set("meter", c.MeterID)
	params.Set("startDate", fmt.Sprintf("%02d", day))
	params.Set("startMonth", fmt.Sprintf("%02d", int(month)))
	params.Set("startYear", strconv.Itoa(year))
	params.Set("endDate", fmt.Sprintf("%02d", day))
	params.Set("endMonth", fmt.Sprintf("%02d", int(month)))
	params.Set("endYear", strconv.Itoa(year))
	params.Set("granularity", "H")
	params.Set("premiseId", "")
	params.Set("isForC4C", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PortalBaseURL+usagePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, NewAPIError(0, usagePath, "failed to create request", err)
	}
	req.Header.Set("Referer", c.PortalBaseURL+"/mydashboard/my-meters-usage")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	// Setting Accept-Encoding ourselves disables the transport's
	// automatic gunzip; decodeBody handles whatever comes back.
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := c.do(req)
	if err != nil {
		return nil, NewAPIError(0, usagePath, "request failed", err)
	}
	defer resp.Body.Close()

	if !is2xx(resp.StatusCode) {
		return nil, NewAPIError(resp.StatusCode, usagePath, "usage request failed", nil)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, NewAPIError(resp.StatusCode, usagePath, "failed to read response body", err)
	}

	var payload MeterUsageResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewAPIError(resp.StatusCode, usagePath, "failed to decode usage payload", err)
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, time.Local)
	if payload.IsError || !payload.IsDataAvailable {
		c.debugLog("No data available for %04d-%02d-%02d (IsError=%v IsDataAvailable=%v)",
			year, month, day, payload.IsError, payload.IsDataAvailable)
		return &DayResult{Date: date, Available: false}, nil
	}

	result := &DayResult{Date: date, Available: true}
	for _, line := range payload.Lines {
		hour, minute, err := parseClockLabel(line.Label)
		if err != nil {
			c.logger.LogLineSkipped(line.Label, err)
			continue
		}
		result.Readings = append(result.Readings, Reading{
			Timestamp: time.Date(year, month, day, hour, minute, 0, 0, time.Local),
			Usage:     line.Usage,
			Estimated: line.IsEstimated,
		})
		result.Total += line.Usage
	}

	c.debugLog("Fetched %d readings for %04d-%02d-%02d (total %.1f L)",
		len(result.Readings), year, month, day, result.Total)
	return result, nil
}

// do executes one HTTP exchange with the browser user agent and
// records timing metrics
func (c *ThamesWaterClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", BrowserUserAgent)

	c.debugLog("→ %s %s", req.Method, req.URL.Redacted())

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start).Seconds()

	c.metrics.CountRequest()
	if err != nil {
		return nil, err
	}

	c.metrics.RecordDuration(req.URL.Path, duration)
	c.logger.LogHTTPExchange(req.Method, req.URL.Path, resp.StatusCode, duration)
	return resp, nil
}

func (c *ThamesWaterClient) debugLog(format string, args ...interface{}) {
	if c.debug {
		c.logger.Debug(fmt.Sprintf(format, args...))
	}
}

// cookieValue looks up a cookie set on the login host
func (c *ThamesWaterClient) cookieValue(name string) string {
	u, err := url.Parse(c.LoginBaseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.session.jar.Cookies(u) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

// parseFragment splits an &-joined key=value fragment into a map.
// Values are query-unescaped when possible.
func parseFragment(fragment string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(fragment, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			continue
		}
		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
		out[key] = value
	}
	return out
}

// parseClockLabel parses an "HH:MM" time label
func parseClockLabel(label string) (hour, minute int, err error) {
	hs, ms, found := strings.Cut(label, ":")
	if !found {
		return 0, 0, &ParseError{Field: "Label", Value: label, Err: fmt.Errorf("missing ':' separator")}
	}
	hour, err = strconv.Atoi(hs)
	if err != nil {
		return 0, 0, &ParseError{Field: "Label", Value: label, Err: err}
	}
	minute, err = strconv.Atoi(ms)
	if err != nil {
		return 0, 0, &ParseError{Field: "Label", Value: label, Err: err}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, &ParseError{Field: "Label", Value: label, Err: fmt.Errorf("out of range")}
	}
	return hour, minute, nil
}

// textBetween returns the substring between the first occurrence of
// start and the next occurrence of end
func textBetween(s, start, end string) (string, bool) {
	i := strings.Index(s, start)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// decodeBody reads the response body, undoing whatever
// Content-Encoding the portal applied. If decoding fails, the raw
// bytes are returned on the assumption the body was already decoded.
func decodeBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return raw, nil
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return raw, nil
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		reader = fr
	case "br":
		reader = brotli.NewReader(bytes.NewReader(raw))
	default:
		return raw, nil
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		// Fall back to the raw body
		return raw, nil
	}
	return decoded, nil
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
