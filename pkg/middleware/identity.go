// Package middleware carries the HTTP-layer concerns that sit between the
// router and the handlers: identity resolution, capability gates, and
// rate limiting for credential mutations.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/pennygo/gatekeeper/pkg/httputil"
	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/observability"
)

type contextKey string

const identityKey contextKey = "identity_record"
const tokenKey contextKey = "session_token"

// Resolver resolves a bearer token to an identity record
type Resolver interface {
	Resolve(ctx context.Context, token string) (*identity.Record, error)
}

// IdentityMiddleware resolves the request's session once and attaches the
// result to the context. Anonymous requests pass through with no record:
// whether that is acceptable is each handler's decision, made through
// RequireCapability. An invalid session is treated as signed out here; the
// 401 only materializes when a gate demands a capability.
type IdentityMiddleware struct {
	resolver Resolver
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewIdentityMiddleware creates the identity resolution middleware
func NewIdentityMiddleware(resolver Resolver, logger *observability.Logger, metrics *observability.Metrics) *IdentityMiddleware {
	return &IdentityMiddleware{resolver: resolver, logger: logger, metrics: metrics}
}

// Handler wraps an HTTP handler with identity resolution
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httputil.BearerToken(r)
		ctx := context.WithValue(r.Context(), tokenKey, token)

		record, err := m.resolver.Resolve(ctx, token)
		switch {
		case err == nil && record == nil:
			m.recordResolution("anonymous")
		case err == nil:
			m.recordResolution("resolved")
			ctx = context.WithValue(ctx, identityKey, record)
			ctx = observability.WithSubjectID(ctx, record.SubjectID)
		case errors.Is(err, identity.ErrSessionInvalid):
			// A session the provider cannot confirm is treated as signed
			// out, never as a server failure.
			m.recordResolution("invalid")
			m.logger.WithError(err).Debug("session could not be confirmed")
		default:
			m.recordResolution("error")
			m.logger.WithError(err).Error("identity resolution failed")
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity returns the resolved identity record, or nil when anonymous
func GetIdentity(r *http.Request) *identity.Record {
	record, _ := r.Context().Value(identityKey).(*identity.Record)
	return record
}

// GetSessionToken returns the raw bearer token from the request, if any
func GetSessionToken(r *http.Request) string {
	token, _ := r.Context().Value(tokenKey).(string)
	return token
}

// RequireCapability gates a handler behind a capability. Anonymous requests
// get 401 with a sign-in redirect hint; authenticated requests that lack
// the capability get 403 and no redirect, because signing in again would
// not change the answer.
func RequireCapability(capability identity.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			record := GetIdentity(r)
			if record == nil {
				httputil.WriteUnauthorized(w, "sign in required")
				return
			}
			if !record.Capabilities.Has(capability) {
				httputil.WriteForbidden(w, "insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession gates a handler behind any valid session
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetIdentity(r) == nil {
			httputil.WriteUnauthorized(w, "sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *IdentityMiddleware) recordResolution(outcome string) {
	if m.metrics != nil {
		m.metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()
	}
}
