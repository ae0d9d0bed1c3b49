// Package identity defines configured backend targets (provider identities)
// and the read-only source the gateway resolves them from.
//
// Identities are created and updated by an external admin collaborator; the
// gateway only reads them. When no identity is marked default, Source
// implementations fall back to a static-key identity built from environment
// configuration in a fixed preference order.
package identity

import (
	"context"
	"errors"
	"time"
)

// Kind enumerates the supported backend flavours.
type Kind string

const (
	// KindNativeBearer talks the canonical wire protocol directly using a
	// bearer-token credential.
	KindNativeBearer Kind = "native-bearer"
	// KindOpenAICompat maps requests onto the OpenAI chat-completion shape.
	KindOpenAICompat Kind = "openai-compatible"
	// KindLocalInference is an OpenAI-compatible chat endpoint on a local
	// HTTP port; no credential required.
	KindLocalInference Kind = "local-inference"
)

// AuthMode selects how credentials for an identity are obtained.
type AuthMode string

const (
	// AuthStaticKey uses the identity's configured static API key.
	AuthStaticKey AuthMode = "static-key"
	// AuthOAuth uses a refreshable bearer token managed by the token store.
	AuthOAuth AuthMode = "oauth"
)

// ErrNotFound is returned when no identity matches the requested id.
var ErrNotFound = errors.New("identity: not found")

// TokenRecord holds the refreshable bearer-token credential owned by an
// identity with AuthMode == AuthOAuth. It is mutated only by the token
// refresher (on successful refresh) or by revocation (which clears all
// fields) — never by request-handling paths.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
}

// Expired reports whether the token must be refreshed before use. A zero
// ExpiresAt means the token never expires. margin is subtracted from the
// expiry so tokens are refreshed slightly early.
func (t TokenRecord) Expired(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(t.ExpiresAt)
}

// OAuthConfig holds the endpoints used to refresh and revoke tokens for an
// oauth identity.
type OAuthConfig struct {
	TokenURL  string `json:"token_url"`
	RevokeURL string `json:"revoke_url,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
}

// Identity is a configured, named backend target.
type Identity struct {
	ID          string
	DisplayName string
	Kind        Kind
	AuthMode    AuthMode
	BaseURL     string
	StaticKey   string
	OAuth       *OAuthConfig

	ModelCatalog []string
	DefaultModel string

	Timeout    time.Duration
	MaxRetries int

	// SimulateStreaming forces streamed requests through a synchronous call
	// with word-by-word event emission; for backends whose streaming endpoint
	// is absent or unreliable.
	SimulateStreaming bool

	IsActive  bool
	IsDefault bool
}

// Source resolves provider identities. Implementations are read-only from
// the gateway's point of view.
type Source interface {
	// ListActive returns every active identity.
	ListActive(ctx context.Context) ([]*Identity, error)
	// GetDefault returns the active identity marked default, or the
	// environment-fallback identity when none is marked. Returns ErrNotFound
	// when no identity can be resolved at all.
	GetDefault(ctx context.Context) (*Identity, error)
	// GetByID returns the identity with the given id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Identity, error)
}
