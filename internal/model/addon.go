package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Addon statuses in the catalog.
const (
	AddonStatusDraft      = "draft"
	AddonStatusPublished  = "published"
	AddonStatusDeprecated = "deprecated"
)

// Addon represents the addons table (catalog entry). Catalog rows are
// mutated only by catalog-admin tooling; the lifecycle engine reads them
// and bumps install_count.
type Addon struct {
	ID           uuid.UUID      `json:"id"`
	Slug         string         `json:"slug"`
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	InstallCount int            `json:"install_count"`
	Dependencies DependencyList `json:"dependencies"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// AddonVersion represents the addon_versions table. Exactly one row per
// addon carries is_latest = true.
type AddonVersion struct {
	ID           uuid.UUID      `json:"id"`
	AddonID      uuid.UUID      `json:"addon_id"`
	Major        int            `json:"major"`
	Minor        int            `json:"minor"`
	Patch        int            `json:"patch"`
	IsLatest     bool           `json:"is_latest"`
	Dependencies DependencyList `json:"dependencies"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AddonPricing represents the addon_pricings table. Referenced by the
// engine for trial computation, never mutated by it.
type AddonPricing struct {
	ID        uuid.UUID `json:"id"`
	AddonID   uuid.UUID `json:"addon_id"`
	Cycle     string    `json:"cycle"`
	TrialDays int       `json:"trial_days"`
	CreatedAt time.Time `json:"created_at"`
}

// Dependency is one declared requirement of an addon or addon version.
// MinVersion is empty when only presence is required.
type Dependency struct {
	AddonID    uuid.UUID `json:"addonId"`
	Optional   bool      `json:"optional"`
	MinVersion string    `json:"minVersion,omitempty"`
}

// DependencyList is stored as a jsonb array and decoded once at scan time.
type DependencyList []Dependency

// Scan implements sql.Scanner for jsonb columns.
func (d *DependencyList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		if len(v) == 0 {
			*d = nil
			return nil
		}
		return json.Unmarshal(v, d)
	case string:
		if v == "" {
			*d = nil
			return nil
		}
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("model: cannot scan %T into DependencyList", src)
	}
}

// Value implements driver.Valuer for jsonb columns.
func (d DependencyList) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}
