package verification

import (
	"context"
	"os"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennygo/gatekeeper/pkg/observability"
	"github.com/pennygo/gatekeeper/pkg/roles"
)

type recordingRoleWriter struct {
	granted map[string]string
}

func (r *recordingRoleWriter) UpsertAssignment(ctx context.Context, subjectID, role string) error {
	if r.granted == nil {
		r.granted = make(map[string]string)
	}
	r.granted[subjectID] = role
	return nil
}

type recordingMirrorWriter struct {
	written map[string]string
}

func (r *recordingMirrorWriter) SetOrganizerStatus(ctx context.Context, subjectID, status string) error {
	if r.written == nil {
		r.written = make(map[string]string)
	}
	r.written[subjectID] = status
	return nil
}

func TestReconcilerRepairsMissingGrantsAndDrift(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT v.subject_id`).
		WithArgs(roles.RoleOrganizer).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id"}).AddRow("u1"))
	mock.ExpectQuery(`SELECT v.subject_id, v.status`).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "status"}).AddRow("u2", "approved"))

	grants := &recordingRoleWriter{}
	mirrors := &recordingMirrorWriter{}
	logger := observability.NewLogger(observability.ErrorLevel, os.Stderr)

	rec := NewReconciler(NewStore(db), grants, mirrors, logger, nil)
	report := rec.Run(context.Background())

	assert.Equal(t, 1, report.GrantsRepaired)
	assert.Equal(t, 1, report.MirrorRepaired)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, roles.RoleOrganizer, grants.granted["u1"])
	assert.Equal(t, "approved", mirrors.written["u2"])
}

func TestReconcilerHealthySystemRepairsNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT v.subject_id`).
		WithArgs(roles.RoleOrganizer).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id"}))
	mock.ExpectQuery(`SELECT v.subject_id, v.status`).
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "status"}))

	grants := &recordingRoleWriter{}
	mirrors := &recordingMirrorWriter{}
	logger := observability.NewLogger(observability.ErrorLevel, os.Stderr)

	rec := NewReconciler(NewStore(db), grants, mirrors, logger, nil)
	report := rec.Run(context.Background())

	assert.Zero(t, report.GrantsRepaired)
	assert.Zero(t, report.MirrorRepaired)
	assert.Empty(t, grants.granted)
	assert.Empty(t, mirrors.written)
}
