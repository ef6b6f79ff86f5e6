package store

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	s := NewStore(db, nil)
	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
	return s, mock, teardown
}

func addonColumns() []string {
	return []string{"id", "slug", "name", "status", "install_count", "dependencies", "created_at", "updated_at"}
}

func versionColumns() []string {
	return []string{"id", "addon_id", "major", "minor", "patch", "is_latest", "dependencies", "created_at"}
}

func TestStore_GetAddon(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	ctx := context.Background()
	addonID := uuid.New()
	depID := uuid.New()
	deps := fmt.Sprintf(`[{"addonId":%q,"optional":false,"minVersion":"1.0.0"}]`, depID)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM addons WHERE id = $1`)).
		WithArgs(addonID).
		WillReturnRows(sqlmock.NewRows(addonColumns()).
			AddRow(addonID.String(), "payroll", "Payroll", "published", 3, []byte(deps), time.Now(), time.Now()))

	addon, err := s.GetAddon(ctx, addonID)
	assert.NoError(t, err)
	require.NotNil(t, addon)
	assert.Equal(t, addonID, addon.ID)
	assert.Equal(t, "payroll", addon.Slug)
	assert.Equal(t, 3, addon.InstallCount)
	require.Len(t, addon.Dependencies, 1)
	assert.Equal(t, depID, addon.Dependencies[0].AddonID)
	assert.False(t, addon.Dependencies[0].Optional)
	assert.Equal(t, "1.0.0", addon.Dependencies[0].MinVersion)
}

func TestStore_GetAddon_NotFound(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	addonID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM addons WHERE id = $1`)).
		WithArgs(addonID).
		WillReturnRows(sqlmock.NewRows(addonColumns()))

	addon, err := s.GetAddon(context.Background(), addonID)
	assert.NoError(t, err)
	assert.Nil(t, addon)
}

// fakeRedis is an in-memory RedisClient for cache tests.
type fakeRedis struct {
	values map[string]string
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := f.values[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.values[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(f.values, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestStore_GetAddon_CachesResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cache := &fakeRedis{values: make(map[string]string)}
	s := NewStore(db, cache)

	ctx := context.Background()
	addonID := uuid.New()

	// Only one database read expected; the second call is served from cache.
	mock.ExpectQuery(regexp.QuoteMeta(`FROM addons WHERE id = $1`)).
		WithArgs(addonID).
		WillReturnRows(sqlmock.NewRows(addonColumns()).
			AddRow(addonID.String(), "payroll", "Payroll", "published", 0, []byte(`[]`), time.Now(), time.Now()))

	first, err := s.GetAddon(ctx, addonID)
	assert.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.GetAddon(ctx, addonID)
	assert.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Slug, second.Slug)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InvalidateAddon_EvictsCachedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cache := &fakeRedis{values: make(map[string]string)}
	s := NewStore(db, cache)

	ctx := context.Background()
	addonID := uuid.New()

	// Two database reads expected: the invalidation in between evicts the
	// cached row, so the second call sees the updated counter.
	mock.ExpectQuery(regexp.QuoteMeta(`FROM addons WHERE id = $1`)).
		WithArgs(addonID).
		WillReturnRows(sqlmock.NewRows(addonColumns()).
			AddRow(addonID.String(), "payroll", "Payroll", "published", 3, []byte(`[]`), time.Now(), time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM addons WHERE id = $1`)).
		WithArgs(addonID).
		WillReturnRows(sqlmock.NewRows(addonColumns()).
			AddRow(addonID.String(), "payroll", "Payroll", "published", 4, []byte(`[]`), time.Now(), time.Now()))

	first, err := s.GetAddon(ctx, addonID)
	assert.NoError(t, err)
	assert.Equal(t, 3, first.InstallCount)

	s.InvalidateAddon(ctx, addonID)

	second, err := s.GetAddon(ctx, addonID)
	assert.NoError(t, err)
	assert.Equal(t, 4, second.InstallCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetAddonsByIDs(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM addons WHERE id = ANY($1::uuid[])`)).
		WithArgs(pq.Array([]string{a.String(), b.String()})).
		WillReturnRows(sqlmock.NewRows(addonColumns()).
			AddRow(a.String(), "payroll", "Payroll", "published", 1, []byte(`[]`), time.Now(), time.Now()).
			AddRow(b.String(), "payroll-reports", "Payroll Reports", "published", 1, []byte(`[]`), time.Now(), time.Now()))

	addons, err := s.GetAddonsByIDs(context.Background(), []uuid.UUID{a, b})
	assert.NoError(t, err)
	assert.Len(t, addons, 2)
	assert.Equal(t, "Payroll", addons[a].Name)
	assert.Equal(t, "Payroll Reports", addons[b].Name)
}

func TestStore_GetAddonsByIDs_Empty(t *testing.T) {
	s, _, teardown := setupTestStore(t)
	defer teardown()

	addons, err := s.GetAddonsByIDs(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, addons)
}

func TestStore_GetLatestVersion(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	addonID := uuid.New()
	versionID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM addon_versions WHERE addon_id = $1 AND is_latest = true`)).
		WithArgs(addonID).
		WillReturnRows(sqlmock.NewRows(versionColumns()).
			AddRow(versionID.String(), addonID.String(), 1, 10, 0, true, []byte(`[]`), time.Now()))

	version, err := s.GetLatestVersion(context.Background(), addonID)
	assert.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, versionID, version.ID)
	assert.Equal(t, 1, version.Major)
	assert.Equal(t, 10, version.Minor)
	assert.Equal(t, 0, version.Patch)
	assert.True(t, version.IsLatest)
}

func TestStore_GetLatestVersion_None(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	addonID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM addon_versions WHERE addon_id = $1 AND is_latest = true`)).
		WithArgs(addonID).
		WillReturnRows(sqlmock.NewRows(versionColumns()))

	version, err := s.GetLatestVersion(context.Background(), addonID)
	assert.NoError(t, err)
	assert.Nil(t, version)
}

func TestStore_GetPricing(t *testing.T) {
	s, mock, teardown := setupTestStore(t)
	defer teardown()

	pricingID := uuid.New()
	addonID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM addon_pricings WHERE id = $1`)).
		WithArgs(pricingID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "addon_id", "cycle", "trial_days", "created_at"}).
			AddRow(pricingID.String(), addonID.String(), "monthly", 14, time.Now()))

	pricing, err := s.GetPricing(context.Background(), pricingID)
	assert.NoError(t, err)
	require.NotNil(t, pricing)
	assert.Equal(t, addonID, pricing.AddonID)
	assert.Equal(t, 14, pricing.TrialDays)
}
