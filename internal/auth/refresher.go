package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nulpointcorp/provider-gateway/internal/identity"
)

// refreshMargin is subtracted from a token's expiry so it is refreshed
// slightly before it actually lapses.
const refreshMargin = 5 * time.Minute

const refreshTimeout = 15 * time.Second

// AuthError is a credential failure an identity cannot recover from without
// operator intervention (expired token with no refresh token, refresh
// endpoint rejection, missing static key).
type AuthError struct {
	IdentityID string
	Reason     string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: identity %s: %s: %v", e.IdentityID, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: identity %s: %s", e.IdentityID, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// HTTPStatus implements the StatusCoder convention used across providers.
func (e *AuthError) HTTPStatus() int { return http.StatusUnauthorized }

// Refresher returns valid access tokens for oauth identities, refreshing
// them against the identity's token endpoint when expired. Concurrent
// refreshes for the same identity are coalesced into one in-flight exchange.
type Refresher struct {
	store      TokenStore
	httpClient *http.Client
	log        *slog.Logger
	group      singleflight.Group

	now     func() time.Time
	observe func(identityID, outcome string)
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithHTTPClient overrides the HTTP client used for token exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Refresher) { r.httpClient = c }
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

// WithRefreshObserver registers a callback invoked after every refresh
// attempt with outcome "ok" or "error" (used for metrics).
func WithRefreshObserver(fn func(identityID, outcome string)) Option {
	return func(r *Refresher) { r.observe = fn }
}

// NewRefresher creates a Refresher backed by the given token store.
func NewRefresher(store TokenStore, log *slog.Logger, opts ...Option) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	r := &Refresher{
		store:      store,
		httpClient: &http.Client{Timeout: refreshTimeout},
		log:        log,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetValidToken returns a usable access token for the identity. If the
// stored token is expired (with a safety margin) and a refresh token is
// present, it is exchanged at the identity's token endpoint and the new
// record persisted. Callers fall back to a static key on *AuthError.
func (r *Refresher) GetValidToken(ctx context.Context, ident *identity.Identity) (string, error) {
	rec, err := r.store.Get(ctx, ident.ID)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return "", &AuthError{IdentityID: ident.ID, Reason: "no token stored"}
		}
		return "", &AuthError{IdentityID: ident.ID, Reason: "token store read failed", Err: err}
	}
	if rec.AccessToken == "" {
		return "", &AuthError{IdentityID: ident.ID, Reason: "token record has no access token"}
	}

	if !rec.Expired(r.now(), refreshMargin) {
		return rec.AccessToken, nil
	}

	if rec.RefreshToken == "" {
		return "", &AuthError{IdentityID: ident.ID, Reason: "token expired and no refresh token present"}
	}

	// Coalesce concurrent refreshes per identity: the second and subsequent
	// callers await the first exchange's result.
	v, err, _ := r.group.Do(ident.ID, func() (any, error) {
		return r.refresh(ctx, ident, rec)
	})
	if r.observe != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		r.observe(ident.ID, outcome)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Refresher) refresh(ctx context.Context, ident *identity.Identity, rec identity.TokenRecord) (string, error) {
	if ident.OAuth == nil || ident.OAuth.TokenURL == "" {
		return "", &AuthError{IdentityID: ident.ID, Reason: "no token endpoint configured"}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", rec.RefreshToken)
	clientID := rec.ClientID
	if clientID == "" {
		clientID = ident.OAuth.ClientID
	}
	if clientID != "" {
		form.Set("client_id", clientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ident.OAuth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{IdentityID: ident.ID, Reason: "build refresh request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{IdentityID: ident.ID, Reason: "refresh exchange failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &AuthError{IdentityID: ident.ID, Reason: "read refresh response", Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &AuthError{
			IdentityID: ident.ID,
			Reason:     fmt.Sprintf("refresh endpoint returned %d", resp.StatusCode),
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", &AuthError{IdentityID: ident.ID, Reason: "decode refresh response", Err: err}
	}
	if tokenResp.AccessToken == "" {
		return "", &AuthError{IdentityID: ident.ID, Reason: "refresh response has no access token"}
	}

	updated := identity.TokenRecord{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: rec.RefreshToken,
		Scope:        rec.Scope,
		ClientID:     rec.ClientID,
	}
	// Some endpoints rotate the refresh token; keep the old one otherwise.
	if tokenResp.RefreshToken != "" {
		updated.RefreshToken = tokenResp.RefreshToken
	}
	if tokenResp.Scope != "" {
		updated.Scope = tokenResp.Scope
	}
	if tokenResp.ExpiresIn > 0 {
		updated.ExpiresAt = r.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	if err := r.store.Put(ctx, ident.ID, updated); err != nil {
		return "", &AuthError{IdentityID: ident.ID, Reason: "persist refreshed token", Err: err}
	}

	r.log.InfoContext(ctx, "token_refreshed",
		slog.String("identity", ident.ID),
		slog.Time("expires_at", updated.ExpiresAt),
	)

	return updated.AccessToken, nil
}

// Revoke best-effort notifies the revocation endpoint, then clears the
// stored token fields regardless of the notification outcome.
func (r *Refresher) Revoke(ctx context.Context, ident *identity.Identity) error {
	rec, err := r.store.Get(ctx, ident.ID)
	if err == nil && rec.AccessToken != "" && ident.OAuth != nil && ident.OAuth.RevokeURL != "" {
		form := url.Values{}
		form.Set("token", rec.AccessToken)
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, ident.OAuth.RevokeURL, strings.NewReader(form.Encode()))
		if reqErr == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if resp, doErr := r.httpClient.Do(req); doErr != nil {
				r.log.WarnContext(ctx, "token_revoke_notify_failed",
					slog.String("identity", ident.ID),
					slog.String("error", doErr.Error()),
				)
			} else {
				resp.Body.Close()
			}
		}
	}

	if err := r.store.Clear(ctx, ident.ID); err != nil {
		return fmt.Errorf("auth: clear token for %s: %w", ident.ID, err)
	}
	return nil
}
