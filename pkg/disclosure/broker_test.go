package disclosure

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/observability"
)

type fakeSigner struct {
	url     string
	signErr error
	putErr  error
	puts    map[string][]byte
}

func (f *fakeSigner) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[key] = data
	return nil
}

func (f *fakeSigner) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return f.url, nil
}

func adminRecord() *identity.Record {
	return &identity.Record{
		SubjectID:    "admin1",
		Capabilities: identity.NewCapabilitySet(identity.CapabilityTraveler, identity.CapabilityAdministrator),
	}
}

func organizerRecord() *identity.Record {
	return &identity.Record{
		SubjectID:    "org1",
		Capabilities: identity.NewCapabilitySet(identity.CapabilityTraveler, identity.CapabilityOrganizer),
	}
}

func newTestBroker(signer Signer) *Broker {
	logger := observability.NewLogger(observability.ErrorLevel, os.Stderr)
	return NewBroker(signer, time.Hour, logger)
}

func TestIssueRequiresAdministrator(t *testing.T) {
	broker := newTestBroker(&fakeSigner{url: "https://signed.example/doc"})

	_, err := broker.Issue(context.Background(), organizerRecord(), "u1/doc.png")
	assert.ErrorIs(t, err, identity.ErrForbidden,
		"organizer capability grants nothing on the disclosure surface")

	_, err = broker.Issue(context.Background(), nil, "u1/doc.png")
	assert.ErrorIs(t, err, identity.ErrForbidden)
}

func TestIssueStorageFailureIsNotForbidden(t *testing.T) {
	broker := newTestBroker(&fakeSigner{signErr: errors.New("bucket unreachable")})

	_, err := broker.Issue(context.Background(), adminRecord(), "u1/doc.png")
	assert.ErrorIs(t, err, identity.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, identity.ErrForbidden,
		"an authorized caller must never be told they are forbidden when storage is down")
}

func TestIssueReturnsExpiringURL(t *testing.T) {
	broker := newTestBroker(&fakeSigner{url: "https://signed.example/doc"})

	before := time.Now()
	doc, err := broker.Issue(context.Background(), adminRecord(), "u1/doc.png")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/doc", doc.URL)
	assert.WithinDuration(t, before.Add(time.Hour), doc.ExpiresAt, 5*time.Second)
}

func TestStoreDocumentNamespacesKeyBySubject(t *testing.T) {
	signer := &fakeSigner{}
	broker := newTestBroker(signer)

	ref, err := broker.StoreDocument(context.Background(), "u1", "passport.PNG", "image/png", []byte("data"))
	require.NoError(t, err)
	assert.True(t, OwnedBy(ref, "u1"))
	assert.False(t, OwnedBy(ref, "u2"))
	assert.Contains(t, ref, ".png", "extension is preserved lowercase")
	assert.Contains(t, signer.puts, ref)
}

func TestStoreDocumentEmptyBody(t *testing.T) {
	broker := newTestBroker(&fakeSigner{})

	_, err := broker.StoreDocument(context.Background(), "u1", "doc.png", "image/png", nil)
	assert.Error(t, err)
}

func TestOwnedByRejectsPrefixTricks(t *testing.T) {
	assert.False(t, OwnedBy("u12/doc.png", "u1"),
		"subject u1 must not own keys under u12/")
	assert.True(t, OwnedBy("u1/doc.png", "u1"))
}
