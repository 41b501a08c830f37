// Package api exposes the HTTP surface: account lifecycle, session
// introspection, the verification workflow and the admin review queue.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pennygo/gatekeeper/pkg/accounts"
	"github.com/pennygo/gatekeeper/pkg/disclosure"
	"github.com/pennygo/gatekeeper/pkg/httputil"
	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/middleware"
	"github.com/pennygo/gatekeeper/pkg/observability"
	"github.com/pennygo/gatekeeper/pkg/roles"
	"github.com/pennygo/gatekeeper/pkg/verification"
)

// maxDocumentBytes caps verification document uploads
const maxDocumentBytes = 10 << 20 // 10 MiB

// Server represents the API server
type Server struct {
	router        *mux.Router
	accounts      *accounts.Service
	verifications *verification.Service
	broker        *disclosure.Broker
	roles         *roles.Store
	identityMw    *middleware.IdentityMiddleware
	authLimiter   *middleware.RateLimiter
	logger        *observability.Logger
	metrics       *observability.Metrics
	tracingOn     bool
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithAuthRateLimiter installs a rate limiter on credential mutations
func WithAuthRateLimiter(limiter *middleware.RateLimiter) ServerOption {
	return func(s *Server) { s.authLimiter = limiter }
}

// WithTracing wraps the router in OpenTelemetry HTTP instrumentation
func WithTracing() ServerOption {
	return func(s *Server) { s.tracingOn = true }
}

// NewServer creates the API server and wires its routes
func NewServer(
	accountSvc *accounts.Service,
	verificationSvc *verification.Service,
	broker *disclosure.Broker,
	roleStore *roles.Store,
	identityMw *middleware.IdentityMiddleware,
	logger *observability.Logger,
	metrics *observability.Metrics,
	opts ...ServerOption,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		accounts:      accountSvc,
		verifications: verificationSvc,
		broker:        broker,
		roles:         roleStore,
		identityMw:    identityMw,
		logger:        logger,
		metrics:       metrics,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	requireSession := middleware.RequireSession
	requireAdmin := middleware.RequireCapability(identity.CapabilityAdministrator)

	limit := func(h http.HandlerFunc) http.Handler {
		if s.authLimiter == nil {
			return h
		}
		return s.authLimiter.Handler(h)
	}

	// Account lifecycle. Sign-up and sign-in carry the per-IP limiter.
	s.router.Handle("/auth/signup", limit(s.handleSignUp)).Methods("POST")
	s.router.Handle("/auth/signin", limit(s.handleSignIn)).Methods("POST")
	s.router.HandleFunc("/auth/signout", s.handleSignOut).Methods("POST")
	s.router.HandleFunc("/auth/session", s.handleSession).Methods("GET")

	// Subject-owned profile
	s.router.Handle("/profile", requireSession(http.HandlerFunc(s.handleUpdateProfile))).Methods("PUT")

	// Verification workflow, submitter side
	s.router.Handle("/verifications", requireSession(http.HandlerFunc(s.handleSubmit))).Methods("POST")
	s.router.Handle("/verifications/status", requireSession(http.HandlerFunc(s.handleOwnStatus))).Methods("GET")
	s.router.Handle("/verifications/documents", requireSession(http.HandlerFunc(s.handleUploadDocument))).Methods("POST")

	// Admin surface
	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/verifications", s.handleQueue).Methods("GET")
	admin.HandleFunc("/verifications/{id}", s.handleInspect).Methods("GET")
	admin.HandleFunc("/verifications/{id}", s.handleDecide).Methods("POST")
	admin.HandleFunc("/documents/url", s.handleDisclosure).Methods("GET")
	admin.HandleFunc("/administrators", s.handleAddAdministrator).Methods("POST")
	admin.HandleFunc("/administrators/{id}", s.handleRemoveAdministrator).Methods("DELETE")
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router

	handler = s.identityMw.Handler(handler)
	handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.MaxBytesMiddleware(maxDocumentBytes),
	)(handler)
	if s.metrics != nil {
		handler = s.metrics.HTTPMiddleware(handler)
	}
	if s.tracingOn {
		handler = otelhttp.NewHandler(handler, "gatekeeper")
	}

	return handler
}
