package roles

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAdministrator(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewStore(db)
	isAdmin, err := store.IsAdministrator(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, isAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignmentForNoRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT role FROM role_assignments`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}))

	store := NewStore(db)
	role, err := store.AssignmentFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, role, "no assignment row means no role, not an error")
}

func TestUpsertAssignmentIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO role_assignments`).
		WithArgs("u1", RoleOrganizer).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO role_assignments`).
		WithArgs("u1", RoleOrganizer).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	require.NoError(t, store.UpsertAssignment(context.Background(), "u1", RoleOrganizer))
	require.NoError(t, store.UpsertAssignment(context.Background(), "u1", RoleOrganizer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveAdministratorNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM admin_registry`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	err = store.RemoveAdministrator(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAdministratorNotFound)
}

func TestRemoveAdministratorStoreFailureIsNotNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM admin_registry`).
		WithArgs("u2").
		WillReturnError(errors.New("connection refused"))

	store := NewStore(db)
	err = store.RemoveAdministrator(context.Background(), "u2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAdministratorNotFound,
		"a store outage must not masquerade as a missing entry")
}
