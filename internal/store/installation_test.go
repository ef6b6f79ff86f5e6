package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxio-solutions/addon-lifecycle-service/internal/model"
)

func installationColumns() []string {
	return []string{"id", "tenant_id", "addon_id", "version_id", "pricing_id", "status", "config", "trial_ends_at", "installed_by", "created_at", "updated_at"}
}

func TestStore_GetInstallation(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	tenantID, addonID, versionID, userID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	rowID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM tenant_addons WHERE tenant_id = $1 AND addon_id = $2`)).
		WithArgs(tenantID, addonID).
		WillReturnRows(sqlmock.NewRows(installationColumns()).
			AddRow(rowID.String(), tenantID.String(), addonID.String(), versionID.String(), nil,
				"active", []byte(`{"theme":"dark"}`), nil, userID.String(), time.Now(), time.Now()))

	installation, err := s.GetInstallation(context.Background(), nil, tenantID, addonID)
	assert.NoError(t, err)
	require.NotNil(t, installation)
	assert.Equal(t, rowID, installation.ID)
	assert.Equal(t, "active", installation.Status)
	assert.Nil(t, installation.PricingID)
	assert.Nil(t, installation.TrialEndsAt)
	assert.JSONEq(t, `{"theme":"dark"}`, string(installation.Config))
}

func TestStore_GetInstallation_NotInstalled(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tenant_addons WHERE tenant_id = $1 AND addon_id = $2`)).
		WillReturnRows(sqlmock.NewRows(installationColumns()))

	installation, err := s.GetInstallation(context.Background(), nil, uuid.New(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, installation)
}

func TestStore_InstalledAddons_StatusFilter(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	tenantID := uuid.New()
	addonID, versionID := uuid.New(), uuid.New()
	statuses := []string{"active", "installing", "updating"}

	mock.ExpectQuery(regexp.QuoteMeta(`ta.status = ANY($2::text[])`)).
		WithArgs(tenantID, pq.Array(statuses)).
		WillReturnRows(sqlmock.NewRows([]string{"addon_id", "version_id", "status", "major", "minor", "patch"}).
			AddRow(addonID.String(), versionID.String(), "active", 2, 1, 0))

	installed, err := s.InstalledAddons(context.Background(), tenantID, statuses)
	assert.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, addonID, installed[0].AddonID)
	assert.Equal(t, 2, installed[0].Major)
	assert.Equal(t, 1, installed[0].Minor)
}

func TestStore_CreateInstallation_UniqueViolation(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenant_addons`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "tenant_addons_tenant_id_addon_id_key"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return s.CreateInstallation(context.Background(), tx, &model.TenantAddon{
			TenantID:    uuid.New(),
			AddonID:     uuid.New(),
			VersionID:   uuid.New(),
			Status:      model.InstallStatusActive,
			InstalledBy: uuid.New(),
		})
	})
	assert.ErrorIs(t, err, ErrDuplicateInstallation)
}

func TestStore_CreateInstallation_OtherErrorPassesThrough(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	boom := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenant_addons`)).WillReturnError(boom)
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return s.CreateInstallation(context.Background(), tx, &model.TenantAddon{
			TenantID:    uuid.New(),
			AddonID:     uuid.New(),
			VersionID:   uuid.New(),
			Status:      model.InstallStatusActive,
			InstalledBy: uuid.New(),
		})
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDuplicateInstallation)
}

func TestStore_InstallCountArithmetic(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	addonID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET install_count = install_count + 1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return s.IncrementInstallCount(context.Background(), tx, addonID)
	})
	assert.NoError(t, err)

	// Decrement floors at zero in SQL rather than in application code.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET install_count = GREATEST(install_count - 1, 0)`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return s.DecrementInstallCount(context.Background(), tx, addonID)
	})
	assert.NoError(t, err)
}

func TestStore_UpdateInstallationStatus_GuardedOnObservedStatus(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tenant_addons SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`)).
		WithArgs(id, model.InstallStatusDisabled, sqlmock.AnyArg(), model.InstallStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return s.UpdateInstallationStatus(context.Background(), tx, id, model.InstallStatusDisabled, model.InstallStatusActive)
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
}

func TestStore_UpdateInstallationVersion_GuardedOnObservedStatus(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	id, versionID := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE tenant_addons SET version_id = $2, updated_at = $3 WHERE id = $1 AND status = $4`)).
		WithArgs(id, versionID, sqlmock.AnyArg(), model.InstallStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return s.UpdateInstallationVersion(context.Background(), tx, id, versionID, model.InstallStatusActive)
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
}

func TestStore_DeleteInstallation_MissingRow(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tenant_addons WHERE id = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return s.DeleteInstallation(context.Background(), tx, uuid.New())
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestStore_ListHistory(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	tenantID, addonID := uuid.New(), uuid.New()
	historyColumns := []string{"id", "tenant_addon_id", "tenant_id", "addon_id", "action", "from_version_id", "to_version_id", "status", "performed_by", "performed_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE tenant_id = $1 AND addon_id = $2 ORDER BY performed_at DESC`)).
		WithArgs(tenantID, addonID).
		WillReturnRows(sqlmock.NewRows(historyColumns).
			AddRow(uuid.New().String(), uuid.New().String(), tenantID.String(), addonID.String(),
				"uninstall", uuid.New().String(), uuid.New().String(), "uninstalled", uuid.New().String(), time.Now()).
			AddRow(uuid.New().String(), uuid.New().String(), tenantID.String(), addonID.String(),
				"install", nil, uuid.New().String(), "active", uuid.New().String(), time.Now().Add(-time.Hour)))

	history, err := s.ListHistory(context.Background(), tenantID, &addonID)
	assert.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "uninstall", history[0].Action)
	assert.Equal(t, "install", history[1].Action)
	assert.Nil(t, history[1].FromVersionID)
	require.NotNil(t, history[1].ToVersionID)
}
