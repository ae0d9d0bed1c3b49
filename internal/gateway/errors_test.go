package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nulpointcorp/provider-gateway/internal/auth"
	"github.com/nulpointcorp/provider-gateway/internal/identity"
	"github.com/nulpointcorp/provider-gateway/internal/providers/openaicompat"
	"github.com/nulpointcorp/provider-gateway/internal/registry"
	"github.com/nulpointcorp/provider-gateway/pkg/apierr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{
			"auth error",
			&auth.AuthError{IdentityID: "x", Reason: "no token stored"},
			401, apierr.TypeAuthentication,
		},
		{
			"wrapped auth error",
			fmt.Errorf("resolve: %w", &auth.AuthError{IdentityID: "x", Reason: "refresh rejected"}),
			401, apierr.TypeAuthentication,
		},
		{
			"no identity configured",
			identity.ErrNotFound,
			503, apierr.TypePermission,
		},
		{
			"config error",
			&registry.ConfigError{IdentityID: "x", Reason: "no key"},
			503, apierr.TypePermission,
		},
		{
			"upstream 400",
			&openaicompat.Error{Name: "x", StatusCode: 400, Message: "bad"},
			400, apierr.TypeInvalidRequest,
		},
		{
			"upstream 429",
			&openaicompat.Error{Name: "x", StatusCode: 429, Message: "slow down"},
			429, apierr.TypeRateLimit,
		},
		{
			"upstream 529 normalises to 503",
			&openaicompat.Error{Name: "x", StatusCode: 529, Message: "overloaded"},
			503, apierr.TypeOverloaded,
		},
		{
			"upstream 502",
			&openaicompat.Error{Name: "x", StatusCode: 502, Message: "bad gateway"},
			500, apierr.TypeAPIError,
		},
		{
			"deadline",
			context.DeadlineExceeded,
			500, apierr.TypeAPIError,
		},
		{
			"plain error",
			errors.New("boom"),
			500, apierr.TypeAPIError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, errType := classify(tc.err)
			if status != tc.wantStatus || errType != tc.wantType {
				t.Errorf("classify = (%d, %s), want (%d, %s)", status, errType, tc.wantStatus, tc.wantType)
			}
		})
	}
}

func TestStreamErrType(t *testing.T) {
	if got := streamErrType(context.DeadlineExceeded); got != apierr.TypeAPIError {
		t.Errorf("deadline must map to api_error, got %q", got)
	}
	if got := streamErrType(&openaicompat.Error{StatusCode: 429}); got != apierr.TypeRateLimit {
		t.Errorf("upstream 429 must map to rate_limit_error, got %q", got)
	}
}
