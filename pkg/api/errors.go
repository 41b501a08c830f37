package api

import (
	"errors"
	"net/http"

	"github.com/pennygo/gatekeeper/pkg/httputil"
	"github.com/pennygo/gatekeeper/pkg/identity"
)

// writeDomainError maps domain errors to HTTP status codes. The mapping is
// deliberate about the 403/503 split: a caller who may see a document but
// cannot right now gets 503, never 403.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrSessionInvalid):
		httputil.WriteUnauthorized(w, "sign in required")
	case errors.Is(err, identity.ErrForbidden):
		httputil.WriteForbidden(w, "insufficient privileges")
	case errors.Is(err, identity.ErrApplicationAlreadyPending):
		httputil.WriteConflict(w, "an application is already pending")
	case errors.Is(err, identity.ErrInvalidTransition):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, identity.ErrCaptchaFailed):
		httputil.WriteBadRequest(w, "captcha verification failed")
	case errors.Is(err, identity.ErrCaptchaUnavailable):
		httputil.WriteServiceUnavailable(w, "captcha verification temporarily unavailable")
	case errors.Is(err, identity.ErrStorageUnavailable):
		httputil.WriteServiceUnavailable(w, "document storage temporarily unavailable")
	default:
		s.logger.WithError(err).Error("request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}
