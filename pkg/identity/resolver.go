package identity

import (
	"context"
	"fmt"

	"github.com/pennygo/gatekeeper/pkg/credstore"
	"github.com/pennygo/gatekeeper/pkg/observability"
)

// SessionSource is the identity store adapter surface the resolver depends on
type SessionSource interface {
	GetSession(ctx context.Context, token string) (*credstore.Session, error)
	GetSubject(ctx context.Context, token string) (*credstore.Subject, error)
}

// CapabilitySource derives the capability set for a subject
type CapabilitySource interface {
	CapabilitiesFor(ctx context.Context, subjectID string) (CapabilitySet, error)
}

// ProfileSource reads the profile projection for a subject
type ProfileSource interface {
	ProfileFor(ctx context.Context, subjectID string) (*Profile, error)
}

// Resolver composes the identity store adapter and the role aggregator into
// one consistent identity record. Resolution is a pure read: no caching
// beyond the caller's own request scope, so role grants are visible on the
// next resolution rather than after a cache TTL.
type Resolver struct {
	sessions SessionSource
	roles    CapabilitySource
	profiles ProfileSource
	logger   *observability.Logger
}

// NewResolver creates a session resolver
func NewResolver(sessions SessionSource, roles CapabilitySource, profiles ProfileSource, logger *observability.Logger) *Resolver {
	return &Resolver{
		sessions: sessions,
		roles:    roles,
		profiles: profiles,
		logger:   logger,
	}
}

// Resolve builds the identity record for a session token.
//
// Returns (nil, nil) when there is no session: absence of a login is a
// normal state. Returns ErrSessionInvalid when a session exists but the
// provider cannot confirm the subject behind it. A role-lookup failure
// degrades to an identity with an empty capability set instead of failing
// resolution: authorization callers must treat that as "at most traveler",
// never as administrator.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Record, error) {
	session, err := r.sessions.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if session == nil {
		return nil, nil
	}

	// Re-read the authoritative subject record. The session may outlive the
	// account it was issued for (revocation, provider-side drift).
	subject, err := r.sessions.GetSubject(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}

	record := &Record{
		SubjectID:   subject.ID,
		Email:       subject.Email,
		ConfirmedAt: subject.ConfirmedAt,
	}

	caps, err := r.roles.CapabilitiesFor(ctx, subject.ID)
	if err != nil {
		// Degrade to least privilege rather than failing the caller.
		r.logger.WithError(err).WithField("subject_id", subject.ID).
			Warn("role lookup failed, degrading to empty capability set")
		caps = NewCapabilitySet()
	}
	record.Capabilities = caps

	if profile, err := r.profiles.ProfileFor(ctx, subject.ID); err != nil {
		r.logger.WithError(err).WithField("subject_id", subject.ID).
			Warn("profile projection read failed")
	} else if profile != nil {
		record.Profile = *profile
	}

	// Fall back to provider metadata when the projection has no display data
	if record.Profile.DisplayName == "" {
		record.Profile.DisplayName = subject.Metadata["display_name"]
	}
	if record.Profile.AvatarRef == "" {
		record.Profile.AvatarRef = subject.Metadata["avatar_ref"]
	}

	return record, nil
}
