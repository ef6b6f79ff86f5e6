package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TenantAddon statuses. The committed install path jumps straight to
// active; installing/updating are transient and still count as "present"
// when dependencies are being checked.
const (
	InstallStatusInstalling = "installing"
	InstallStatusUpdating   = "updating"
	InstallStatusActive     = "active"
	InstallStatusDisabled   = "disabled"

	// InstallStatusUninstalled never appears on a tenant_addons row; it is
	// the terminal status recorded on the uninstall history entry.
	InstallStatusUninstalled = "uninstalled"
)

// Lifecycle history actions.
const (
	ActionInstall   = "install"
	ActionUpdate    = "update"
	ActionDisable   = "disable"
	ActionEnable    = "enable"
	ActionUninstall = "uninstall"
)

// TenantAddon represents the tenant_addons table: one installation of an
// addon for a tenant. At most one row exists per (tenant_id, addon_id),
// enforced by a unique constraint. Config is an opaque blob owned by the
// caller; the engine stores and returns it untouched.
type TenantAddon struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	AddonID     uuid.UUID       `json:"addon_id"`
	VersionID   uuid.UUID       `json:"version_id"`
	PricingID   *uuid.UUID      `json:"pricing_id,omitempty"`
	Status      string          `json:"status"`
	Config      json.RawMessage `json:"config"`
	TrialEndsAt *time.Time      `json:"trial_ends_at,omitempty"`
	InstalledBy uuid.UUID       `json:"installed_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AddonInstallHistory represents the addon_install_history table. Rows are
// write-once: never updated, never deleted.
type AddonInstallHistory struct {
	ID            uuid.UUID  `json:"id"`
	TenantAddonID uuid.UUID  `json:"tenant_addon_id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	AddonID       uuid.UUID  `json:"addon_id"`
	Action        string     `json:"action"`
	FromVersionID *uuid.UUID `json:"from_version_id,omitempty"`
	ToVersionID   *uuid.UUID `json:"to_version_id,omitempty"`
	Status        string     `json:"status"`
	PerformedBy   uuid.UUID  `json:"performed_by"`
	PerformedAt   time.Time  `json:"performed_at"`
}

// InstalledAddon is the projection used by dependency checks: which addon,
// at which version, in which state.
type InstalledAddon struct {
	AddonID   uuid.UUID `json:"addon_id"`
	VersionID uuid.UUID `json:"version_id"`
	Status    string    `json:"status"`
	Major     int       `json:"major"`
	Minor     int       `json:"minor"`
	Patch     int       `json:"patch"`
}

// Semver renders the installed version triple as "major.minor.patch".
func (ia InstalledAddon) Semver() string {
	return fmt.Sprintf("%d.%d.%d", ia.Major, ia.Minor, ia.Patch)
}
