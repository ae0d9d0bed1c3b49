package gateway

import (
	"context"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/provider-gateway/internal/auth"
	"github.com/nulpointcorp/provider-gateway/internal/identity"
	"github.com/nulpointcorp/provider-gateway/internal/providers"
	"github.com/nulpointcorp/provider-gateway/internal/registry"
	"github.com/nulpointcorp/provider-gateway/pkg/apierr"
)

// classify maps an internal error onto the canonical taxonomy and its HTTP
// status.
//
//	*auth.AuthError               → 401 authentication_error
//	identity.ErrNotFound          → 503 permission_error ("not configured" —
//	                                deliberately distinct from authentication)
//	*registry.ConfigError         → 503 permission_error
//	StatusCoder (upstream status) → the canonical type for that status
//	context.DeadlineExceeded      → 500 api_error
//	anything else                 → 500 api_error
func classify(err error) (status int, errType string) {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return fasthttp.StatusUnauthorized, apierr.TypeAuthentication
	}

	if errors.Is(err, identity.ErrNotFound) {
		return fasthttp.StatusServiceUnavailable, apierr.TypePermission
	}
	var cfgErr *registry.ConfigError
	if errors.As(err, &cfgErr) {
		return fasthttp.StatusServiceUnavailable, apierr.TypePermission
	}

	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		errType = apierr.TypeForStatus(sc.HTTPStatus())
		return apierr.StatusFor(errType), errType
	}

	return fasthttp.StatusInternalServerError, apierr.TypeAPIError
}

// streamErrType is the mid-stream variant: by the time a stream error
// arrives, the HTTP status is already written, so only the canonical type
// matters (it rides in the error event payload).
func streamErrType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.TypeAPIError
	}
	_, errType := classify(err)
	return errType
}
