package verification

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pennygo/gatekeeper/pkg/observability"
	"github.com/pennygo/gatekeeper/pkg/roles"
)

// RoleWriter grants roles during repair
type RoleWriter interface {
	UpsertAssignment(ctx context.Context, subjectID, role string) error
}

// MirrorWriter repairs the profile status mirror
type MirrorWriter interface {
	SetOrganizerStatus(ctx context.Context, subjectID, status string) error
}

// RepairReport summarizes one reconciliation pass
type RepairReport struct {
	GrantsRepaired int
	MirrorRepaired int
	Errors         int
	Duration       time.Duration
}

// Reconciler periodically repairs divergence between the application store,
// the role-assignment registry, and the profile mirror. The workflow writes
// all three transactionally, so repairs should be rare; the reconciler
// exists for the writes that happened outside this service.
type Reconciler struct {
	store   *Store
	grants  RoleWriter
	mirrors MirrorWriter
	cron    *cron.Cron
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewReconciler creates a reconciler
func NewReconciler(store *Store, grants RoleWriter, mirrors MirrorWriter, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		store:   store,
		grants:  grants,
		mirrors: mirrors,
		logger:  logger,
		metrics: metrics,
	}
}

// Start schedules reconciliation on the given cron expression
func (r *Reconciler) Start(schedule string) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		r.Run(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.WithField("schedule", schedule).Info("reconciler started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish
func (r *Reconciler) Stop() {
	if r.cron != nil {
		ctx := r.cron.Stop()
		<-ctx.Done()
	}
}

// Run executes a single reconciliation pass
func (r *Reconciler) Run(ctx context.Context) RepairReport {
	start := time.Now()
	report := RepairReport{}

	if r.metrics != nil {
		r.metrics.ReconcileRunsTotal.Inc()
	}

	subjects, err := r.store.ApprovedWithoutGrant(ctx)
	if err != nil {
		r.logger.WithError(err).Error("reconciler failed to scan for missing grants")
		report.Errors++
	}
	for _, subjectID := range subjects {
		if err := r.grants.UpsertAssignment(ctx, subjectID, roles.RoleOrganizer); err != nil {
			r.logger.WithError(err).WithField("subject_id", subjectID).
				Error("reconciler failed to repair organizer grant")
			report.Errors++
			continue
		}
		r.logger.WithField("subject_id", subjectID).Warn("repaired missing organizer grant")
		report.GrantsRepaired++
		if r.metrics != nil {
			r.metrics.ReconcileRepairsTotal.WithLabelValues("missing_grant").Inc()
		}
	}

	drift, err := r.store.MirrorDrift(ctx)
	if err != nil {
		r.logger.WithError(err).Error("reconciler failed to scan for mirror drift")
		report.Errors++
	}
	for subjectID, status := range drift {
		if err := r.mirrors.SetOrganizerStatus(ctx, subjectID, string(status)); err != nil {
			r.logger.WithError(err).WithField("subject_id", subjectID).
				Error("reconciler failed to repair status mirror")
			report.Errors++
			continue
		}
		r.logger.WithFields(map[string]interface{}{
			"subject_id": subjectID,
			"status":     status,
		}).Warn("repaired organizer status mirror")
		report.MirrorRepaired++
		if r.metrics != nil {
			r.metrics.ReconcileRepairsTotal.WithLabelValues("mirror_drift").Inc()
		}
	}

	report.Duration = time.Since(start)
	r.logger.WithFields(map[string]interface{}{
		"grants_repaired": report.GrantsRepaired,
		"mirror_repaired": report.MirrorRepaired,
		"errors":          report.Errors,
		"duration_ms":     report.Duration.Milliseconds(),
	}).Info("reconciliation pass complete")

	return report
}
