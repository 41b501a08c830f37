package roles

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pennygo/gatekeeper/pkg/identity"
	"github.com/pennygo/gatekeeper/pkg/observability"
)

// SourceError is a role-source read failure. It names which source failed:
// a failure on one source must not silently imply the other is absent, and
// the session resolver degrades from it to an empty capability set.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("role source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsSourceError checks whether an error is a role-source failure
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

// RegistrySource is the store surface the aggregator reads
type RegistrySource interface {
	IsAdministrator(ctx context.Context, subjectID string) (bool, error)
	AssignmentFor(ctx context.Context, subjectID string) (string, error)
}

// MirrorSource reads the profile projection's organizer status mirror
type MirrorSource interface {
	OrganizerStatusFor(ctx context.Context, subjectID string) (string, error)
}

// Aggregator reduces the independent role sources to one capability set.
// The result is the union of the sources, not a join.
type Aggregator struct {
	registries RegistrySource
	mirrors    MirrorSource
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewAggregator creates a role aggregator
func NewAggregator(registries RegistrySource, mirrors MirrorSource, logger *observability.Logger, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{
		registries: registries,
		mirrors:    mirrors,
		logger:     logger,
		metrics:    metrics,
	}
}

// CapabilitiesFor derives the capability set for a subject.
//
// Every subject holds traveler. The administrator registry and the
// role-assignment registry are read concurrently; either read failing
// returns a SourceError so the caller can degrade to least privilege
// instead of guessing. When the assignment registry grants organizer but
// the profile mirror still reads pending, the registry wins: the grant is
// authoritative and the mismatch is flagged for repair, never hidden.
func (a *Aggregator) CapabilitiesFor(ctx context.Context, subjectID string) (identity.CapabilitySet, error) {
	var (
		isAdmin    bool
		assignment string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		admin, err := a.registries.IsAdministrator(gctx, subjectID)
		if err != nil {
			a.recordSourceError("admin_registry")
			return &SourceError{Source: "admin_registry", Err: err}
		}
		isAdmin = admin
		return nil
	})
	g.Go(func() error {
		role, err := a.registries.AssignmentFor(gctx, subjectID)
		if err != nil {
			a.recordSourceError("role_assignments")
			return &SourceError{Source: "role_assignments", Err: err}
		}
		assignment = role
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	caps := identity.NewCapabilitySet(identity.CapabilityTraveler)
	if assignment == RoleOrganizer {
		caps.Add(identity.CapabilityOrganizer)
		a.checkMirror(ctx, subjectID)
	}
	if isAdmin {
		caps.Add(identity.CapabilityAdministrator)
	}

	return caps, nil
}

// checkMirror flags registry/mirror divergence for repair. The mirror read
// is advisory: its failure never affects capability resolution.
func (a *Aggregator) checkMirror(ctx context.Context, subjectID string) {
	status, err := a.mirrors.OrganizerStatusFor(ctx, subjectID)
	if err != nil {
		a.logger.WithError(err).WithField("subject_id", subjectID).
			Debug("mirror check skipped, projection unavailable")
		return
	}

	if status != "" && status != "approved" {
		mismatch := &identity.MirrorMismatchError{
			SubjectID:    subjectID,
			RegistryRole: RoleOrganizer,
			MirrorStatus: status,
		}
		a.logger.WithField("subject_id", subjectID).
			WithField("mirror_status", status).
			Warn(mismatch.Error())
		if a.metrics != nil {
			a.metrics.MirrorMismatchesTotal.Inc()
		}
	}
}

func (a *Aggregator) recordSourceError(source string) {
	if a.metrics != nil {
		a.metrics.RoleLookupErrorsTotal.WithLabelValues(source).Inc()
	}
}
