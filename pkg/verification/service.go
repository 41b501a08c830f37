package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/pennygo/gatekeeper/pkg/credstore"
	"github.com/pennygo/gatekeeper/pkg/disclosure"
	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/observability"
)

// Discloser resolves document references to time-limited URLs
type Discloser interface {
	Issue(ctx context.Context, requester *identity.Record, docRef string) (*disclosure.SignedDocument, error)
}

// SubjectDirectory looks up subject contact data with service credentials
type SubjectDirectory interface {
	AdminGetSubject(ctx context.Context, subjectID string) (*credstore.Subject, error)
}

// Service enforces the workflow rules around the application store: who may
// submit, who may decide, and what an admin sees in the review queue.
type Service struct {
	store     *Store
	discloser Discloser
	directory SubjectDirectory
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewService creates a verification service
func NewService(store *Store, discloser Discloser, directory SubjectDirectory, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:     store,
		discloser: discloser,
		directory: directory,
		logger:    logger,
		metrics:   metrics,
	}
}

// Submit files a new application for the requesting subject. Both document
// references are required and must belong to the submitter's own storage
// namespace.
func (s *Service) Submit(ctx context.Context, requester *identity.Record, doc1Ref, doc2Ref string) (*Application, error) {
	if requester == nil {
		return nil, identity.ErrForbidden
	}
	if doc1Ref == "" || doc2Ref == "" {
		return nil, fmt.Errorf("two identity documents are required")
	}
	if !disclosure.OwnedBy(doc1Ref, requester.SubjectID) || !disclosure.OwnedBy(doc2Ref, requester.SubjectID) {
		return nil, identity.ErrForbidden
	}

	app, err := s.store.Submit(ctx, requester.SubjectID, doc1Ref, doc2Ref)
	if err != nil {
		if errors.Is(err, identity.ErrApplicationAlreadyPending) {
			s.recordApplication("duplicate")
		} else {
			s.recordApplication("error")
		}
		return nil, err
	}

	s.recordApplication("submitted")
	s.logger.WithFields(map[string]interface{}{
		"subject_id":     requester.SubjectID,
		"application_id": app.ID,
	}).Info("verification application submitted")
	return app, nil
}

// StatusFor returns the requesting subject's own application state. A
// subject who never applied sees not_applied rather than an error.
func (s *Service) StatusFor(ctx context.Context, requester *identity.Record) (*Application, error) {
	if requester == nil {
		return nil, identity.ErrForbidden
	}

	app, err := s.store.LatestFor(ctx, requester.SubjectID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return &Application{SubjectID: requester.SubjectID, Status: StatusNotApplied}, nil
	}
	return app, nil
}

// Decide rules on a pending application. Administrator only.
func (s *Service) Decide(ctx context.Context, requester *identity.Record, applicationID string, decision Decision) (*Application, error) {
	if requester == nil || !requester.IsAdministrator() {
		return nil, identity.ErrForbidden
	}

	app, err := s.store.Decide(ctx, applicationID, decision)
	if err != nil {
		return nil, err
	}

	s.recordDecision(string(decision))
	s.logger.WithFields(map[string]interface{}{
		"admin_id":       requester.SubjectID,
		"application_id": applicationID,
		"subject_id":     app.SubjectID,
		"decision":       decision,
	}).Info("verification application decided")
	return app, nil
}

// Queue returns the admin review queue: applications enriched with subject
// contact data and disclosure URLs for their documents. Enrichment is best
// effort per row; a directory or storage hiccup on one application never
// hides the rest of the queue.
func (s *Service) Queue(ctx context.Context, requester *identity.Record, status Status, limit, offset int) ([]*AdminView, error) {
	if requester == nil || !requester.IsAdministrator() {
		return nil, identity.ErrForbidden
	}

	apps, err := s.store.List(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]*AdminView, 0, len(apps))
	for _, app := range apps {
		views = append(views, s.enrich(ctx, requester, app))
	}
	return views, nil
}

// Inspect returns a single enriched application. Administrator only.
func (s *Service) Inspect(ctx context.Context, requester *identity.Record, applicationID string) (*AdminView, error) {
	if requester == nil || !requester.IsAdministrator() {
		return nil, identity.ErrForbidden
	}

	app, err := s.store.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, nil
	}
	return s.enrich(ctx, requester, app), nil
}

func (s *Service) enrich(ctx context.Context, requester *identity.Record, app *Application) *AdminView {
	view := &AdminView{Application: *app}

	if s.directory != nil {
		subject, err := s.directory.AdminGetSubject(ctx, app.SubjectID)
		if err != nil {
			s.logger.WithError(err).WithField("subject_id", app.SubjectID).
				Warn("failed to resolve subject for review queue")
		} else if subject != nil {
			view.SubjectEmail = subject.Email
			view.DisplayName = subject.Metadata["display_name"]
		}
	}

	if s.discloser != nil {
		if doc, err := s.discloser.Issue(ctx, requester, app.Doc1Ref); err != nil {
			s.logger.WithError(err).WithField("application_id", app.ID).
				Warn("failed to sign document for review queue")
		} else {
			view.Doc1URL = doc.URL
			view.URLExpiry = doc.ExpiresAt
		}
		if doc, err := s.discloser.Issue(ctx, requester, app.Doc2Ref); err != nil {
			s.logger.WithError(err).WithField("application_id", app.ID).
				Warn("failed to sign document for review queue")
		} else {
			view.Doc2URL = doc.URL
			if view.URLExpiry.IsZero() {
				view.URLExpiry = doc.ExpiresAt
			}
		}
	}

	return view
}

func (s *Service) recordApplication(outcome string) {
	if s.metrics != nil {
		s.metrics.ApplicationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) recordDecision(decision string) {
	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(decision).Inc()
	}
}
