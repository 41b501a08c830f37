// Package accounts handles credential mutations against the external
// provider: sign-up, sign-in, sign-out and profile updates. Every
// credential mutation requires a verified captcha token before the
// provider is contacted.
package accounts

import (
	"context"
	"fmt"

	"github.com/pennygo/gatekeeper/pkg/credstore"
	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/observability"
	"github.com/pennygo/gatekeeper/pkg/roles"
)

// CaptchaVerifier gates credential mutations
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Provider is the credential provider surface the service uses
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*credstore.Session, error)
	SignUp(ctx context.Context, email, password, redirectTarget string) (*credstore.Subject, error)
	SignOut(ctx context.Context, token string) error
	UpdateMetadata(ctx context.Context, token string, metadata map[string]string) error
}

// RoleSeeder seeds the baseline role assignment at sign-up
type RoleSeeder interface {
	UpsertAssignment(ctx context.Context, subjectID, role string) error
}

// ProfileSeeder ensures a profile projection row exists for new subjects
type ProfileSeeder interface {
	Ensure(ctx context.Context, subjectID string) error
	UpdateDisplay(ctx context.Context, subjectID, displayName, avatarRef string) error
}

// Service orchestrates account lifecycle operations
type Service struct {
	provider       Provider
	captcha        CaptchaVerifier
	roles          RoleSeeder
	profiles       ProfileSeeder
	signupRedirect string
	logger         *observability.Logger
}

// NewService creates an account service
func NewService(provider Provider, captcha CaptchaVerifier, roleSeeder RoleSeeder, profileSeeder ProfileSeeder, logger *observability.Logger) *Service {
	return &Service{
		provider: provider,
		captcha:  captcha,
		roles:    roleSeeder,
		profiles: profileSeeder,
		logger:   logger,
	}
}

// WithSignupRedirect sets the confirmation-link landing path forwarded to
// the provider at sign-up
func (s *Service) WithSignupRedirect(target string) *Service {
	s.signupRedirect = target
	return s
}

// SignUp registers a new subject with the provider, then seeds the baseline
// traveler assignment and an empty profile row. The captcha check runs
// before the provider is contacted; a failed challenge never reaches it.
func (s *Service) SignUp(ctx context.Context, email, password, captchaToken, remoteIP string) (*credstore.Subject, error) {
	if err := s.captcha.Verify(ctx, captchaToken, remoteIP); err != nil {
		return nil, err
	}
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}

	subject, err := s.provider.SignUp(ctx, email, password, s.signupRedirect)
	if err != nil {
		return nil, err
	}

	// Seeding failures are logged, not returned: the account exists at the
	// provider, and the reconciler plus ON CONFLICT upserts make seeding
	// safe to retry on the next mutation.
	if err := s.roles.UpsertAssignment(ctx, subject.ID, roles.RoleTraveler); err != nil {
		s.logger.WithError(err).WithField("subject_id", subject.ID).
			Error("failed to seed baseline role at sign-up")
	}
	if err := s.profiles.Ensure(ctx, subject.ID); err != nil {
		s.logger.WithError(err).WithField("subject_id", subject.ID).
			Error("failed to seed profile row at sign-up")
	}

	s.logger.WithField("subject_id", subject.ID).Info("subject registered")
	return subject, nil
}

// SignIn exchanges credentials for a session after a captcha check
func (s *Service) SignIn(ctx context.Context, email, password, captchaToken, remoteIP string) (*credstore.Session, error) {
	if err := s.captcha.Verify(ctx, captchaToken, remoteIP); err != nil {
		return nil, err
	}

	session, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("subject_id", session.SubjectID).Info("subject signed in")
	return session, nil
}

// SignOut destroys the session behind the token. Signing out an already
// dead session succeeds: the end state is the same.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.provider.SignOut(ctx, token); err != nil {
		s.logger.WithError(err).Warn("provider sign-out failed")
		return err
	}
	return nil
}

// UpdateProfile writes display fields to both the provider metadata and the
// local projection. The projection write follows the provider write so a
// provider rejection leaves nothing half-applied locally.
func (s *Service) UpdateProfile(ctx context.Context, requester *identity.Record, token, displayName, avatarRef string) error {
	if requester == nil {
		return identity.ErrForbidden
	}

	metadata := map[string]string{"display_name": displayName}
	if avatarRef != "" {
		metadata["avatar_ref"] = avatarRef
	}
	if err := s.provider.UpdateMetadata(ctx, token, metadata); err != nil {
		return err
	}

	if err := s.profiles.UpdateDisplay(ctx, requester.SubjectID, displayName, avatarRef); err != nil {
		s.logger.WithError(err).WithField("subject_id", requester.SubjectID).
			Error("failed to update profile projection")
		return err
	}

	return nil
}
