package disclosure

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/observability"
)

// DefaultTTL is how long a disclosure URL stays valid. Renewal is not
// supported: continued access requires a fresh request.
const DefaultTTL = time.Hour

// Signer is the storage surface the broker needs
type Signer interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// SignedDocument is a time-limited disclosure of a private document
type SignedDocument struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Broker issues time-limited URLs for private verification documents.
// Only administrators may request disclosure; the documents themselves
// never transit this service on the read path.
type Broker struct {
	store   Signer
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewBroker creates a disclosure broker
func NewBroker(store Signer, ttl time.Duration, logger *observability.Logger) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Broker{store: store, ttl: ttl, logger: logger}
}

// WithMetrics attaches broker metrics
func (b *Broker) WithMetrics(metrics *observability.Metrics) *Broker {
	b.metrics = metrics
	return b
}

// TTL returns the disclosure window length
func (b *Broker) TTL() time.Duration {
	return b.ttl
}

// Issue discloses a document to an administrator. An authorization failure
// and a storage failure are distinct outcomes: a caller who is allowed to
// see the document but cannot right now must not be told they are
// forbidden.
func (b *Broker) Issue(ctx context.Context, requester *identity.Record, docRef string) (*SignedDocument, error) {
	if requester == nil || !requester.IsAdministrator() {
		b.recordDisclosure("forbidden")
		return nil, identity.ErrForbidden
	}
	if docRef == "" {
		return nil, fmt.Errorf("document reference is required")
	}

	url, err := b.store.SignedURL(ctx, docRef, b.ttl)
	if err != nil {
		b.logger.WithError(err).WithField("doc_ref", docRef).Error("failed to sign disclosure URL")
		b.recordDisclosureError("storage")
		return nil, fmt.Errorf("%w: %v", identity.ErrStorageUnavailable, err)
	}
	b.recordDisclosure("issued")

	b.logger.WithFields(map[string]interface{}{
		"admin_id": requester.SubjectID,
		"doc_ref":  docRef,
		"ttl":      b.ttl.String(),
	}).Info("disclosure URL issued")

	return &SignedDocument{
		URL:       url,
		ExpiresAt: time.Now().Add(b.ttl),
	}, nil
}

// StoreDocument uploads a verification document for a subject and returns
// its opaque storage reference. Keys are namespaced per subject and never
// guessable.
func (b *Broker) StoreDocument(ctx context.Context, subjectID, filename, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("document is empty")
	}

	ext := strings.ToLower(path.Ext(filename))
	key := fmt.Sprintf("%s/%s%s", subjectID, uuid.NewString(), ext)

	if err := b.store.Put(ctx, key, data, contentType); err != nil {
		b.logger.WithError(err).WithField("subject_id", subjectID).Error("failed to store document")
		return "", fmt.Errorf("%w: %v", identity.ErrStorageUnavailable, err)
	}
	return key, nil
}

func (b *Broker) recordDisclosure(outcome string) {
	if b.metrics != nil {
		b.metrics.DisclosuresTotal.WithLabelValues(outcome).Inc()
	}
}

func (b *Broker) recordDisclosureError(kind string) {
	if b.metrics != nil {
		b.metrics.DisclosureErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// OwnedBy reports whether a document reference belongs to the subject's
// namespace. Submitters may only reference documents they uploaded.
func OwnedBy(docRef, subjectID string) bool {
	return strings.HasPrefix(docRef, subjectID+"/")
}
