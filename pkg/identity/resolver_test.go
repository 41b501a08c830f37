package identity

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennygo/gatekeeper/pkg/credstore"
	"github.com/pennygo/gatekeeper/pkg/observability"
)

type fakeSessionSource struct {
	session    *credstore.Session
	sessionErr error
	subject    *credstore.Subject
	subjectErr error
}

func (f *fakeSessionSource) GetSession(ctx context.Context, token string) (*credstore.Session, error) {
	return f.session, f.sessionErr
}

func (f *fakeSessionSource) GetSubject(ctx context.Context, token string) (*credstore.Subject, error) {
	return f.subject, f.subjectErr
}

type fakeCapabilitySource struct {
	caps CapabilitySet
	err  error
}

func (f *fakeCapabilitySource) CapabilitiesFor(ctx context.Context, subjectID string) (CapabilitySet, error) {
	return f.caps, f.err
}

type fakeProfileSource struct {
	profile *Profile
	err     error
}

func (f *fakeProfileSource) ProfileFor(ctx context.Context, subjectID string) (*Profile, error) {
	return f.profile, f.err
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, os.Stderr)
}

func TestResolveSignedOut(t *testing.T) {
	resolver := NewResolver(
		&fakeSessionSource{},
		&fakeCapabilitySource{caps: NewCapabilitySet()},
		&fakeProfileSource{},
		testLogger(),
	)

	record, err := resolver.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, record, "no session must resolve to no identity, not an error")
}

func TestResolveSessionFetchFailure(t *testing.T) {
	resolver := NewResolver(
		&fakeSessionSource{sessionErr: errors.New("provider down")},
		&fakeCapabilitySource{caps: NewCapabilitySet()},
		&fakeProfileSource{},
		testLogger(),
	)

	record, err := resolver.Resolve(context.Background(), "some-token")
	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestResolveSubjectUnconfirmed(t *testing.T) {
	resolver := NewResolver(
		&fakeSessionSource{
			session:    &credstore.Session{AccessToken: "tok", SubjectID: "u1"},
			subjectErr: errors.New("account revoked"),
		},
		&fakeCapabilitySource{caps: NewCapabilitySet()},
		&fakeProfileSource{},
		testLogger(),
	)

	record, err := resolver.Resolve(context.Background(), "tok")
	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrSessionInvalid,
		"a session whose subject the provider cannot confirm is invalid, not anonymous")
}

func TestResolveRoleLookupFailureDegradesToLeastPrivilege(t *testing.T) {
	resolver := NewResolver(
		&fakeSessionSource{
			session: &credstore.Session{AccessToken: "tok", SubjectID: "u1"},
			subject: &credstore.Subject{ID: "u1", Email: "u1@example.com"},
		},
		&fakeCapabilitySource{err: errors.New("registry unavailable")},
		&fakeProfileSource{},
		testLogger(),
	)

	record, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Empty(t, record.Capabilities.List(),
		"role lookup failure must never grant capabilities")
	assert.False(t, record.IsAdministrator())
}

func TestResolveHappyPath(t *testing.T) {
	resolver := NewResolver(
		&fakeSessionSource{
			session: &credstore.Session{AccessToken: "tok", SubjectID: "u1"},
			subject: &credstore.Subject{ID: "u1", Email: "u1@example.com"},
		},
		&fakeCapabilitySource{caps: NewCapabilitySet(CapabilityTraveler, CapabilityOrganizer)},
		&fakeProfileSource{profile: &Profile{DisplayName: "Pat", OrganizerStatus: "approved"}},
		testLogger(),
	)

	record, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "u1", record.SubjectID)
	assert.True(t, record.Capabilities.Has(CapabilityOrganizer))
	assert.False(t, record.Capabilities.Has(CapabilityAdministrator))
	assert.Equal(t, "Pat", record.Profile.DisplayName)
}

func TestResolveProfileFallsBackToMetadata(t *testing.T) {
	resolver := NewResolver(
		&fakeSessionSource{
			session: &credstore.Session{AccessToken: "tok", SubjectID: "u1"},
			subject: &credstore.Subject{
				ID:       "u1",
				Metadata: map[string]string{"display_name": "Meta Name"},
			},
		},
		&fakeCapabilitySource{caps: NewCapabilitySet(CapabilityTraveler)},
		&fakeProfileSource{},
		testLogger(),
	)

	record, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Meta Name", record.Profile.DisplayName)
}

func TestResolveProfileReadFailureIsNonFatal(t *testing.T) {
	resolver := NewResolver(
		&fakeSessionSource{
			session: &credstore.Session{AccessToken: "tok", SubjectID: "u1"},
			subject: &credstore.Subject{ID: "u1"},
		},
		&fakeCapabilitySource{caps: NewCapabilitySet(CapabilityTraveler)},
		&fakeProfileSource{err: errors.New("projection down")},
		testLogger(),
	)

	record, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Capabilities.Has(CapabilityTraveler))
}
