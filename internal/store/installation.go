package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/praxio-solutions/addon-lifecycle-service/internal/model"
)

// GetInstallation retrieves the tenant's installation of an addon. Returns
// (nil, nil) when the addon is not installed. Accepts a Querier so the
// in-transaction re-check reuses the same read.
func (s *Store) GetInstallation(ctx context.Context, q Querier, tenantID, addonID uuid.UUID) (*model.TenantAddon, error) {
	if q == nil {
		q = s.db
	}
	query := `SELECT id, tenant_id, addon_id, version_id, pricing_id, status, config, trial_ends_at, installed_by, created_at, updated_at
              FROM tenant_addons WHERE tenant_id = $1 AND addon_id = $2`
	ta := &model.TenantAddon{}
	err := q.QueryRowContext(ctx, query, tenantID, addonID).Scan(
		&ta.ID, &ta.TenantID, &ta.AddonID, &ta.VersionID, &ta.PricingID,
		&ta.Status, &ta.Config, &ta.TrialEndsAt, &ta.InstalledBy,
		&ta.CreatedAt, &ta.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ta, nil
}

// InstalledAddons lists the tenant's installations whose status is in
// statuses, joined with the installed version triple.
func (s *Store) InstalledAddons(ctx context.Context, tenantID uuid.UUID, statuses []string) ([]model.InstalledAddon, error) {
	query := `SELECT ta.addon_id, ta.version_id, ta.status, av.major, av.minor, av.patch
              FROM tenant_addons ta
              JOIN addon_versions av ON av.id = ta.version_id
              WHERE ta.tenant_id = $1 AND ta.status = ANY($2::text[])`
	rows, err := s.db.QueryContext(ctx, query, tenantID, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var installed []model.InstalledAddon
	for rows.Next() {
		var ia model.InstalledAddon
		if err := rows.Scan(&ia.AddonID, &ia.VersionID, &ia.Status, &ia.Major, &ia.Minor, &ia.Patch); err != nil {
			return nil, err
		}
		installed = append(installed, ia)
	}
	return installed, rows.Err()
}

// CreateInstallation inserts a new tenant_addons row. A uniqueness
// violation on (tenant_id, addon_id) is returned as
// ErrDuplicateInstallation.
func (s *Store) CreateInstallation(ctx context.Context, tx *sql.Tx, ta *model.TenantAddon) error {
	query := `INSERT INTO tenant_addons (id, tenant_id, addon_id, version_id, pricing_id, status, config, trial_ends_at, installed_by, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	ta.ID = uuid.New()
	ta.CreatedAt = time.Now()
	ta.UpdatedAt = ta.CreatedAt
	config := ta.Config
	if len(config) == 0 {
		config = []byte("{}")
	}
	_, err := tx.ExecContext(ctx, query,
		ta.ID, ta.TenantID, ta.AddonID, ta.VersionID, ta.PricingID,
		ta.Status, []byte(config), ta.TrialEndsAt, ta.InstalledBy,
		ta.CreatedAt, ta.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateInstallation
	}
	return err
}

// UpdateInstallationVersion moves an installation to a new version,
// preserving its status. The update is guarded on the status the caller
// observed during its pre-check; zero matched rows means a concurrent
// transition won and comes back as ErrStatusChanged.
func (s *Store) UpdateInstallationVersion(ctx context.Context, tx *sql.Tx, id, versionID uuid.UUID, expectedStatus string) error {
	query := `UPDATE tenant_addons SET version_id = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := tx.ExecContext(ctx, query, id, versionID, time.Now(), expectedStatus)
	if err != nil {
		return err
	}
	return requireMatchedRow(result, ErrStatusChanged)
}

// UpdateInstallationStatus toggles an installation between active and
// disabled, guarded on the status the caller observed during its
// pre-check.
func (s *Store) UpdateInstallationStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status, expectedStatus string) error {
	query := `UPDATE tenant_addons SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := tx.ExecContext(ctx, query, id, status, time.Now(), expectedStatus)
	if err != nil {
		return err
	}
	return requireMatchedRow(result, ErrStatusChanged)
}

// DeleteInstallation removes a tenant_addons row. The caller must append
// the uninstall history row first, while the row still exists.
func (s *Store) DeleteInstallation(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	query := `DELETE FROM tenant_addons WHERE id = $1`
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireMatchedRow(result, sql.ErrNoRows)
}

// requireMatchedRow maps a zero-row write to missing, so guarded updates
// and deletes surface a typed error instead of silently succeeding.
func requireMatchedRow(result sql.Result, missing error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return missing
	}
	return nil
}

// AppendHistory writes one append-only lifecycle record.
func (s *Store) AppendHistory(ctx context.Context, tx *sql.Tx, h *model.AddonInstallHistory) error {
	query := `INSERT INTO addon_install_history (id, tenant_addon_id, tenant_id, addon_id, action, from_version_id, to_version_id, status, performed_by, performed_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	h.ID = uuid.New()
	h.PerformedAt = time.Now()
	_, err := tx.ExecContext(ctx, query,
		h.ID, h.TenantAddonID, h.TenantID, h.AddonID, h.Action,
		h.FromVersionID, h.ToVersionID, h.Status, h.PerformedBy, h.PerformedAt,
	)
	return err
}

// IncrementInstallCount bumps the denormalized counter as a single SQL
// expression so concurrent installs cannot lose updates. The caller must
// invalidate the cached catalog row after the transaction commits; doing
// it here would let a concurrent read re-cache the pre-commit value.
func (s *Store) IncrementInstallCount(ctx context.Context, tx *sql.Tx, addonID uuid.UUID) error {
	query := `UPDATE addons SET install_count = install_count + 1, updated_at = $2 WHERE id = $1`
	_, err := tx.ExecContext(ctx, query, addonID, time.Now())
	return err
}

// DecrementInstallCount lowers the counter with a floor of zero. Same
// post-commit invalidation contract as IncrementInstallCount.
func (s *Store) DecrementInstallCount(ctx context.Context, tx *sql.Tx, addonID uuid.UUID) error {
	query := `UPDATE addons SET install_count = GREATEST(install_count - 1, 0), updated_at = $2 WHERE id = $1`
	_, err := tx.ExecContext(ctx, query, addonID, time.Now())
	return err
}

// ListHistory returns the tenant's lifecycle history newest-first,
// optionally filtered to one addon.
func (s *Store) ListHistory(ctx context.Context, tenantID uuid.UUID, addonID *uuid.UUID) ([]model.AddonInstallHistory, error) {
	query := `SELECT id, tenant_addon_id, tenant_id, addon_id, action, from_version_id, to_version_id, status, performed_by, performed_at
              FROM addon_install_history WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if addonID != nil {
		query += ` AND addon_id = $2`
		args = append(args, *addonID)
	}
	query += ` ORDER BY performed_at DESC LIMIT 200`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []model.AddonInstallHistory
	for rows.Next() {
		var h model.AddonInstallHistory
		if err := rows.Scan(
			&h.ID, &h.TenantAddonID, &h.TenantID, &h.AddonID, &h.Action,
			&h.FromVersionID, &h.ToVersionID, &h.Status, &h.PerformedBy, &h.PerformedAt,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
