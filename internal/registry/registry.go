// Package registry resolves provider identities to ready-to-call clients.
//
// Credential construction lives here: oauth identities go through the token
// refresher and transparently fall back to their static key when the refresh
// path fails; static-key identities use the key directly. Resolved clients
// are held in an explicit per-registry cache keyed by identity id — there is
// no global client state, and cache clears are an explicit operation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nulpointcorp/provider-gateway/internal/auth"
	"github.com/nulpointcorp/provider-gateway/internal/identity"
	"github.com/nulpointcorp/provider-gateway/internal/providers"
	"github.com/nulpointcorp/provider-gateway/internal/providers/localinference"
	"github.com/nulpointcorp/provider-gateway/internal/providers/nativebearer"
	"github.com/nulpointcorp/provider-gateway/internal/providers/openaicompat"
)

// ConfigError marks an identity whose configuration cannot produce a client
// (unknown kind, missing static key, and so on).
type ConfigError struct {
	IdentityID string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("registry: identity %s: %s", e.IdentityID, e.Reason)
}

// Registry builds and caches provider clients.
type Registry struct {
	source    identity.Source
	refresher *auth.Refresher
	log       *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedClient
}

type cachedClient struct {
	client providers.Client
	// credential the client was built with; a credential change (e.g. token
	// refresh) invalidates the entry.
	credential string
}

// New creates a Registry. refresher may be nil when no oauth identities are
// configured.
func New(source identity.Source, refresher *auth.Refresher, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		source:    source,
		refresher: refresher,
		log:       log,
		cache:     make(map[string]cachedClient),
	}
}

// Source exposes the identity source for callers that need identity
// metadata alongside the client.
func (r *Registry) Source() identity.Source { return r.source }

// Invalidate drops the cached client for identityID, forcing the next
// ResolveClient to rebuild it.
func (r *Registry) Invalidate(identityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, identityID)
}

// ResolveClient returns a client for the identity, building credentials as
// needed. For oauth identities a failed token acquisition falls back to the
// configured static key with a warning; with no fallback the auth error
// propagates.
func (r *Registry) ResolveClient(ctx context.Context, ident *identity.Identity) (providers.Client, error) {
	credential, err := r.credentialFor(ctx, ident)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.cache[ident.ID]; ok && entry.credential == credential {
		return entry.client, nil
	}

	client, err := r.buildClient(ident, credential)
	if err != nil {
		return nil, err
	}
	r.cache[ident.ID] = cachedClient{client: client, credential: credential}
	return client, nil
}

func (r *Registry) credentialFor(ctx context.Context, ident *identity.Identity) (string, error) {
	switch ident.AuthMode {
	case identity.AuthOAuth:
		if r.refresher == nil {
			return "", &ConfigError{IdentityID: ident.ID, Reason: "oauth auth mode but no token refresher configured"}
		}
		token, err := r.refresher.GetValidToken(ctx, ident)
		if err == nil {
			return token, nil
		}
		var authErr *auth.AuthError
		if errors.As(err, &authErr) && ident.StaticKey != "" {
			r.log.WarnContext(ctx, "oauth_fallback_static_key",
				slog.String("identity", ident.ID),
				slog.String("reason", authErr.Reason),
			)
			return ident.StaticKey, nil
		}
		return "", err

	case identity.AuthStaticKey:
		if ident.Kind == identity.KindLocalInference {
			return "", nil // no credential required
		}
		if ident.StaticKey == "" {
			return "", &ConfigError{IdentityID: ident.ID, Reason: "static-key auth mode but no key configured"}
		}
		return ident.StaticKey, nil

	default:
		return "", &ConfigError{IdentityID: ident.ID, Reason: fmt.Sprintf("unknown auth mode %q", ident.AuthMode)}
	}
}

func (r *Registry) buildClient(ident *identity.Identity, credential string) (providers.Client, error) {
	timeout := ident.Timeout
	if timeout <= 0 {
		timeout = providers.DefaultTimeout
	}
	maxRetries := ident.MaxRetries
	if maxRetries < 1 {
		maxRetries = providers.DefaultMaxRetries
	}
	httpClient := &http.Client{Timeout: timeout}

	switch ident.Kind {
	case identity.KindNativeBearer:
		opts := []nativebearer.Option{
			nativebearer.WithMaxRetries(maxRetries),
			nativebearer.WithHTTPClient(httpClient),
		}
		if ident.BaseURL != "" {
			opts = append(opts, nativebearer.WithBaseURL(ident.BaseURL))
		}
		return nativebearer.New(ident.ID, credential, opts...), nil

	case identity.KindOpenAICompat:
		return openaicompat.New(ident.ID, credential, ident.BaseURL,
			openaicompat.WithMaxRetries(maxRetries),
			openaicompat.WithHTTPClient(httpClient),
		), nil

	case identity.KindLocalInference:
		return localinference.New(ident.ID, ident.BaseURL,
			localinference.WithMaxRetries(maxRetries),
			localinference.WithHTTPClient(httpClient),
		), nil

	default:
		return nil, &ConfigError{IdentityID: ident.ID, Reason: fmt.Sprintf("unknown kind %q", ident.Kind)}
	}
}

// Timeout returns the effective per-call timeout for an identity.
func Timeout(ident *identity.Identity) time.Duration {
	if ident.Timeout > 0 {
		return ident.Timeout
	}
	return providers.DefaultTimeout
}
