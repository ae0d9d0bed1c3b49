package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/provider-gateway/internal/identity"
)

func oauthIdentity(tokenURL string) *identity.Identity {
	return &identity.Identity{
		ID:       "oauth-id",
		Kind:     identity.KindNativeBearer,
		AuthMode: identity.AuthOAuth,
		OAuth:    &identity.OAuthConfig{TokenURL: tokenURL, ClientID: "client-1"},
	}
}

// tokenEndpoint serves a refresh exchange and counts how many times it was hit.
func tokenEndpoint(t *testing.T, hits *int32, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("expected grant_type refresh_token, got %q", got)
		}
		if got := r.Form.Get("refresh_token"); got != "ref-old" {
			t.Errorf("expected refresh_token ref-old, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetValidToken_NotExpiredReturnsStored(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "oauth-id", identity.TokenRecord{
		AccessToken: "tok-live",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	r := NewRefresher(store, nil)
	got, err := r.GetValidToken(ctx, oauthIdentity("http://unused.invalid"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "tok-live" {
		t.Errorf("expected stored token, got %q", got)
	}
}

func TestGetValidToken_NoTokenStored(t *testing.T) {
	r := NewRefresher(NewMemoryStore(), nil)

	_, err := r.GetValidToken(context.Background(), oauthIdentity("http://unused.invalid"))

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if authErr.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", authErr.HTTPStatus())
	}
}

func TestGetValidToken_ExpiredWithoutRefreshToken(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "oauth-id", identity.TokenRecord{
		AccessToken: "tok-stale",
		ExpiresAt:   time.Now().Add(-time.Hour),
	})

	r := NewRefresher(store, nil)
	_, err := r.GetValidToken(ctx, oauthIdentity("http://unused.invalid"))

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
}

func TestGetValidToken_RefreshesAndPersists(t *testing.T) {
	var hits int32
	srv := tokenEndpoint(t, &hits, `{"access_token":"tok-new","expires_in":3600}`)

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "oauth-id", identity.TokenRecord{
		AccessToken:  "tok-stale",
		RefreshToken: "ref-old",
		Scope:        "inference",
		ExpiresAt:    time.Now().Add(-time.Hour),
	})

	var outcomes []string
	r := NewRefresher(store, nil, WithRefreshObserver(func(_, outcome string) {
		outcomes = append(outcomes, outcome)
	}))

	got, err := r.GetValidToken(ctx, oauthIdentity(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "tok-new" {
		t.Errorf("expected refreshed token, got %q", got)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected 1 exchange, saw %d", hits)
	}

	rec, err := store.Get(ctx, "oauth-id")
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.AccessToken != "tok-new" {
		t.Errorf("refreshed token must be persisted, got %q", rec.AccessToken)
	}
	// The endpoint did not rotate the refresh token, so the old one survives.
	if rec.RefreshToken != "ref-old" {
		t.Errorf("refresh token must be preserved when not rotated, got %q", rec.RefreshToken)
	}
	if rec.Scope != "inference" {
		t.Errorf("scope must survive refresh, got %q", rec.Scope)
	}
	if rec.ExpiresAt.Before(time.Now().Add(30 * time.Minute)) {
		t.Errorf("expiry must reflect expires_in, got %v", rec.ExpiresAt)
	}

	if len(outcomes) != 1 || outcomes[0] != "ok" {
		t.Errorf("observer must see one ok outcome, got %v", outcomes)
	}
}

func TestGetValidToken_RotatedRefreshToken(t *testing.T) {
	var hits int32
	srv := tokenEndpoint(t, &hits, `{"access_token":"tok-new","refresh_token":"ref-new","expires_in":3600}`)

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "oauth-id", identity.TokenRecord{
		AccessToken:  "tok-stale",
		RefreshToken: "ref-old",
		ExpiresAt:    time.Now().Add(-time.Hour),
	})

	r := NewRefresher(store, nil)
	if _, err := r.GetValidToken(ctx, oauthIdentity(srv.URL)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.Get(ctx, "oauth-id")
	if rec.RefreshToken != "ref-new" {
		t.Errorf("rotated refresh token must replace the old one, got %q", rec.RefreshToken)
	}
}

func TestGetValidToken_EndpointRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "oauth-id", identity.TokenRecord{
		AccessToken:  "tok-stale",
		RefreshToken: "ref-old",
		ExpiresAt:    time.Now().Add(-time.Hour),
	})

	var outcomes []string
	r := NewRefresher(store, nil, WithRefreshObserver(func(_, outcome string) {
		outcomes = append(outcomes, outcome)
	}))

	_, err := r.GetValidToken(ctx, oauthIdentity(srv.URL))
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if len(outcomes) != 1 || outcomes[0] != "error" {
		t.Errorf("observer must see one error outcome, got %v", outcomes)
	}
}

func TestGetValidToken_CoalescesConcurrentRefreshes(t *testing.T) {
	var hits int32
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-gate // hold the exchange open until all callers are in flight
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-new","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "oauth-id", identity.TokenRecord{
		AccessToken:  "tok-stale",
		RefreshToken: "ref-old",
		ExpiresAt:    time.Now().Add(-time.Hour),
	})

	r := NewRefresher(store, nil)
	ident := oauthIdentity(srv.URL)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.GetValidToken(ctx, ident)
		}(i)
	}

	// Give the goroutines time to pile onto the single in-flight exchange.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != "tok-new" {
			t.Errorf("caller %d: expected tok-new, got %q", i, results[i])
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("concurrent refreshes must coalesce into one exchange, saw %d", got)
	}
}

func TestRevoke_ClearsStoreEvenWhenNotifyFails(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, "oauth-id", identity.TokenRecord{AccessToken: "tok"})

	ident := oauthIdentity("http://unused.invalid")
	ident.OAuth.RevokeURL = "http://127.0.0.1:1/revoke" // connection refused

	r := NewRefresher(store, nil)
	if err := r.Revoke(ctx, ident); err != nil {
		t.Fatalf("revoke must succeed despite notify failure: %v", err)
	}
	if _, err := store.Get(ctx, "oauth-id"); !errors.Is(err, ErrNoToken) {
		t.Errorf("token must be cleared, got %v", err)
	}
}
