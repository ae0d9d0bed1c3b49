package identity

import (
	"context"
	"fmt"
)

// StaticSource is a Source backed by a fixed identity list, typically loaded
// from configuration at startup. The optional fallback identity is returned
// by GetDefault when no listed identity is both active and marked default.
type StaticSource struct {
	identities []*Identity
	fallback   *Identity
}

// NewStaticSource validates the identity list and returns a StaticSource.
// At most one active identity may be marked default.
func NewStaticSource(identities []*Identity, fallback *Identity) (*StaticSource, error) {
	seen := map[string]bool{}
	defaults := 0
	for _, id := range identities {
		if id.ID == "" {
			return nil, fmt.Errorf("identity: empty id")
		}
		if seen[id.ID] {
			return nil, fmt.Errorf("identity: duplicate id %q", id.ID)
		}
		seen[id.ID] = true
		if id.IsActive && id.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return nil, fmt.Errorf("identity: more than one active identity marked default")
	}
	return &StaticSource{identities: identities, fallback: fallback}, nil
}

func (s *StaticSource) ListActive(_ context.Context) ([]*Identity, error) {
	out := make([]*Identity, 0, len(s.identities))
	for _, id := range s.identities {
		if id.IsActive {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *StaticSource) GetDefault(_ context.Context) (*Identity, error) {
	for _, id := range s.identities {
		if id.IsActive && id.IsDefault {
			return id, nil
		}
	}
	if s.fallback != nil {
		return s.fallback, nil
	}
	return nil, ErrNotFound
}

func (s *StaticSource) GetByID(_ context.Context, id string) (*Identity, error) {
	for _, ident := range s.identities {
		if ident.ID == id {
			return ident, nil
		}
	}
	if s.fallback != nil && s.fallback.ID == id {
		return s.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
