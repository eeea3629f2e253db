// Package auth applies authentication to outgoing requests. The four dynamic
// variants (oauth2_client_credentials, oauth2_refresh, session, jwt) acquire
// tokens on demand, cache them, and refresh under a single-flight guard.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/restlake/restlake/internal/connector"
	"github.com/restlake/restlake/internal/extract"
	"github.com/restlake/restlake/internal/template"
)

// Error reports an authentication failure: token acquisition, refresh or
// signing. It is not retried here; the HTTP executor may retry the whole
// logical request.
type Error struct {
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("auth: %s", e.Message) }

func errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// expirySkew refreshes tokens slightly before they expire.
const expirySkew = 60 * time.Second

// CachedToken is a token plus its optional expiry.
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
}

func (t *CachedToken) expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt.Add(-expirySkew))
}

// Authenticator applies one auth variant to requests.
type Authenticator struct {
	spec connector.AuthSpec
	hc   *http.Client

	mu     sync.RWMutex
	cached *CachedToken
	group  singleflight.Group
}

// New builds an authenticator. Templated values in the auth spec (credential
// references like `{{ config.api_key }}`) are expanded against ctx once.
func New(spec connector.AuthSpec, ctx *template.Context, hc *http.Client) (*Authenticator, error) {
	expanded, err := expandSpec(spec, ctx)
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Authenticator{spec: expanded, hc: hc}, nil
}

func expandSpec(spec connector.AuthSpec, ctx *template.Context) (connector.AuthSpec, error) {
	var err error
	expand := func(s string) string {
		if err != nil || s == "" {
			return s
		}
		var out string
		out, err = template.Expand(s, ctx)
		return out
	}
	expandMap := func(m map[string]string) map[string]string {
		if err != nil || len(m) == 0 {
			return m
		}
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = expand(v)
		}
		return out
	}

	spec.Value = expand(spec.Value)
	spec.Username = expand(spec.Username)
	spec.Password = expand(spec.Password)
	spec.Token = expand(spec.Token)
	spec.TokenURL = expand(spec.TokenURL)
	spec.ClientID = expand(spec.ClientID)
	spec.ClientSecret = expand(spec.ClientSecret)
	spec.RefreshToken = expand(spec.RefreshToken)
	spec.LoginURL = expand(spec.LoginURL)
	spec.PrivateKey = expand(spec.PrivateKey)
	spec.Issuer = expand(spec.Issuer)
	spec.Subject = expand(spec.Subject)
	spec.Audience = expand(spec.Audience)
	spec.LoginBody = expandMap(spec.LoginBody)
	spec.TokenBody = expandMap(spec.TokenBody)
	spec.Headers = expandMap(spec.Headers)
	if err != nil {
		return spec, err
	}
	return spec, nil
}

// dynamic reports whether this variant acquires tokens at runtime.
func (a *Authenticator) dynamic() bool {
	switch a.spec.Type {
	case connector.AuthOAuth2ClientCreds, connector.AuthOAuth2Refresh,
		connector.AuthSession, connector.AuthJWT:
		return true
	}
	return false
}

// Apply augments req with authentication.
func (a *Authenticator) Apply(ctx context.Context, req *http.Request) error {
	switch a.spec.Type {
	case connector.AuthNone, "":
		return nil

	case connector.AuthAPIKey:
		val := a.spec.Prefix + a.spec.Value
		if a.spec.Location == "query" {
			param := a.spec.QueryParam
			if param == "" {
				param = "api_key"
			}
			q := req.URL.Query()
			q.Set(param, val)
			req.URL.RawQuery = q.Encode()
			return nil
		}
		header := a.spec.HeaderName
		if header == "" {
			header = "Authorization"
		}
		req.Header.Set(header, val)
		return nil

	case connector.AuthBasic:
		req.SetBasicAuth(a.spec.Username, a.spec.Password)
		return nil

	case connector.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.spec.Token)
		return nil

	case connector.AuthCustomHeaders:
		for k, v := range a.spec.Headers {
			req.Header.Set(k, v)
		}
		return nil

	default:
		token, err := a.token(ctx)
		if err != nil {
			return err
		}
		if a.spec.Type == connector.AuthSession {
			req.Header.Set(a.spec.TokenHeader, a.spec.TokenPrefix+token)
			return nil
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// Invalidate drops the cached token so the next Apply refreshes it.
func (a *Authenticator) Invalidate() bool {
	if !a.dynamic() {
		return false
	}
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
	return true
}

// token returns a valid cached token, refreshing it single-flight when absent
// or near expiry. Callers with a still-valid token never block on a refresh.
func (a *Authenticator) token(ctx context.Context) (string, error) {
	a.mu.RLock()
	cached := a.cached
	a.mu.RUnlock()
	if cached != nil && !cached.expired() {
		return cached.Token, nil
	}

	v, err, _ := a.group.Do("refresh", func() (any, error) {
		a.mu.RLock()
		cached := a.cached
		a.mu.RUnlock()
		if cached != nil && !cached.expired() {
			return cached.Token, nil
		}

		fresh, err := a.fetchToken(ctx)
		if err != nil {
			return "", err
		}
		a.mu.Lock()
		a.cached = fresh
		a.mu.Unlock()
		return fresh.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Authenticator) fetchToken(ctx context.Context) (*CachedToken, error) {
	switch a.spec.Type {
	case connector.AuthOAuth2ClientCreds:
		form := url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {a.spec.ClientID},
			"client_secret": {a.spec.ClientSecret},
		}
		if len(a.spec.Scopes) > 0 {
			form.Set("scope", strings.Join(a.spec.Scopes, " "))
		}
		for k, v := range a.spec.TokenBody {
			form.Set(k, v)
		}
		return a.postTokenForm(ctx, a.spec.TokenURL, form)

	case connector.AuthOAuth2Refresh:
		form := url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {a.spec.ClientID},
			"client_secret": {a.spec.ClientSecret},
			"refresh_token": {a.spec.RefreshToken},
		}
		return a.postTokenForm(ctx, a.spec.TokenURL, form)

	case connector.AuthSession:
		return a.loginSession(ctx)

	case connector.AuthJWT:
		return a.signJWT(ctx)

	default:
		return nil, errorf("token refresh not supported for auth type %s", a.spec.Type)
	}
}

// tokenResponse is the OAuth2-style token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (t tokenResponse) cached() *CachedToken {
	out := &CachedToken{Token: t.AccessToken}
	if t.ExpiresIn > 0 {
		out.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return out
}

func (a *Authenticator) postTokenForm(ctx context.Context, tokenURL string, form url.Values) (*CachedToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errorf("invalid token url: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, errorf("token request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, errorf("token request failed with status %d: %s", resp.StatusCode, truncate(raw))
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, errorf("invalid token response: %v", err)
	}
	if tr.AccessToken == "" {
		return nil, errorf("token response missing access_token")
	}
	return tr.cached(), nil
}

func (a *Authenticator) loginSession(ctx context.Context) (*CachedToken, error) {
	method := a.spec.LoginMethod
	if method == "" {
		method = http.MethodPost
	}

	body := make(map[string]any, len(a.spec.LoginBody))
	for k, v := range a.spec.LoginBody {
		body[k] = v
	}
	raw, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, method, a.spec.LoginURL, strings.NewReader(string(raw)))
	if err != nil {
		return nil, errorf("invalid login url: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, errorf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	respRaw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, errorf("login failed with status %d: %s", resp.StatusCode, truncate(respRaw))
	}

	var decoded any
	if err := json.Unmarshal(respRaw, &decoded); err != nil {
		return nil, errorf("invalid login response: %v", err)
	}

	token, ok := extract.ScalarString(decoded, a.spec.TokenPath)
	if !ok || token == "" {
		return nil, errorf("could not extract token at path %s", a.spec.TokenPath)
	}

	out := &CachedToken{Token: token}
	if a.spec.ExpiresInPath != "" {
		if v, ok := extract.ScalarString(decoded, a.spec.ExpiresInPath); ok {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
				out.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
			}
		}
	}
	return out, nil
}

func truncate(raw []byte) string {
	s := string(raw)
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
