package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/praxio-solutions/addon-lifecycle-service/internal/model"
)

const addonCacheTTL = 1 * time.Hour

// GetAddon retrieves a catalog addon by ID, consulting the cache first.
// Returns (nil, nil) when the addon does not exist.
func (s *Store) GetAddon(ctx context.Context, id uuid.UUID) (*model.Addon, error) {
	key := fmt.Sprintf("addon:%s", id.String())
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			addon := &model.Addon{}
			if err := json.Unmarshal([]byte(cached), addon); err == nil {
				return addon, nil
			}
		}
	}

	query := `SELECT id, slug, name, status, install_count, dependencies, created_at, updated_at
              FROM addons WHERE id = $1`
	addon := &model.Addon{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&addon.ID, &addon.Slug, &addon.Name, &addon.Status, &addon.InstallCount,
		&addon.Dependencies, &addon.CreatedAt, &addon.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(addon); err == nil {
			s.cache.SetEx(ctx, key, data, addonCacheTTL)
		}
	}
	return addon, nil
}

// GetAddonsByIDs batch-fetches catalog addons. Missing IDs are simply
// absent from the result.
func (s *Store) GetAddonsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Addon, error) {
	result := make(map[uuid.UUID]*model.Addon, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT id, slug, name, status, install_count, dependencies, created_at, updated_at
              FROM addons WHERE id = ANY($1::uuid[])`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		addon := &model.Addon{}
		if err := rows.Scan(
			&addon.ID, &addon.Slug, &addon.Name, &addon.Status, &addon.InstallCount,
			&addon.Dependencies, &addon.CreatedAt, &addon.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result[addon.ID] = addon
	}
	return result, rows.Err()
}

// GetVersion retrieves an addon version by ID. Returns (nil, nil) when the
// version does not exist.
func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (*model.AddonVersion, error) {
	query := `SELECT id, addon_id, major, minor, patch, is_latest, dependencies, created_at
              FROM addon_versions WHERE id = $1`
	return s.scanVersion(s.db.QueryRowContext(ctx, query, id))
}

// GetLatestVersion retrieves the version flagged is_latest for an addon.
// Returns (nil, nil) when the addon has no published version.
func (s *Store) GetLatestVersion(ctx context.Context, addonID uuid.UUID) (*model.AddonVersion, error) {
	query := `SELECT id, addon_id, major, minor, patch, is_latest, dependencies, created_at
              FROM addon_versions WHERE addon_id = $1 AND is_latest = true`
	return s.scanVersion(s.db.QueryRowContext(ctx, query, addonID))
}

// GetVersionsByIDs batch-fetches addon versions.
func (s *Store) GetVersionsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.AddonVersion, error) {
	result := make(map[uuid.UUID]*model.AddonVersion, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT id, addon_id, major, minor, patch, is_latest, dependencies, created_at
              FROM addon_versions WHERE id = ANY($1::uuid[])`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		v := &model.AddonVersion{}
		if err := rows.Scan(
			&v.ID, &v.AddonID, &v.Major, &v.Minor, &v.Patch,
			&v.IsLatest, &v.Dependencies, &v.CreatedAt,
		); err != nil {
			return nil, err
		}
		result[v.ID] = v
	}
	return result, rows.Err()
}

// GetPricing retrieves a pricing plan by ID. Returns (nil, nil) when the
// plan does not exist.
func (s *Store) GetPricing(ctx context.Context, id uuid.UUID) (*model.AddonPricing, error) {
	query := `SELECT id, addon_id, cycle, trial_days, created_at
              FROM addon_pricings WHERE id = $1`
	pricing := &model.AddonPricing{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&pricing.ID, &pricing.AddonID, &pricing.Cycle, &pricing.TrialDays, &pricing.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pricing, nil
}

func (s *Store) scanVersion(row *sql.Row) (*model.AddonVersion, error) {
	v := &model.AddonVersion{}
	err := row.Scan(
		&v.ID, &v.AddonID, &v.Major, &v.Minor, &v.Patch,
		&v.IsLatest, &v.Dependencies, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// InvalidateAddon drops the cached catalog row. Called after a transaction
// that changed install_count commits, never from inside it.
func (s *Store) InvalidateAddon(ctx context.Context, id uuid.UUID) {
	if s.cache != nil {
		s.cache.Del(ctx, fmt.Sprintf("addon:%s", id.String()))
	}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
