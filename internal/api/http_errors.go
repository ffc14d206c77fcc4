package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// statusClientClosedRequest is nginx's code for a client that went away.
const statusClientClosedRequest = 499

func httpStatusForDomainError(err error) (int, bool) {
	if errors.Is(err, context.Canceled) {
		return statusClientClosedRequest, true
	}
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatAuth:
		return http.StatusUnauthorized, true
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatNetwork:
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondDomainError writes the whole-call error payload with a status
// derived from the error category.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, core.NewErrorReport(err))
}
