package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/praxio-solutions/addon-lifecycle-service/internal/model"
	"github.com/praxio-solutions/addon-lifecycle-service/internal/monitoring"
	"github.com/praxio-solutions/addon-lifecycle-service/internal/store"
)

// Code classifies a lifecycle failure. An empty code means success.
type Code string

const (
	// Not-found class: the referenced entity does not exist in the
	// expected state.
	CodeAddonNotFound   Code = "ADDON_NOT_FOUND"
	CodeNotInstalled    Code = "NOT_INSTALLED"
	CodeVersionNotFound Code = "VERSION_NOT_FOUND"
	CodeNoVersion       Code = "NO_VERSION"

	// State-conflict class: the transition is illegal from the current
	// state.
	CodeAlreadyInstalled Code = "ALREADY_INSTALLED"
	CodeAlreadyDisabled  Code = "ALREADY_DISABLED"
	CodeNotDisabled      Code = "NOT_DISABLED"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeInvalidPricing   Code = "INVALID_PRICING"

	// Dependency-violation class: blocked by the dependency graph.
	CodeMissingDependencies Code = "MISSING_DEPENDENCIES"
	CodeHasDependents       Code = "HAS_DEPENDENTS"

	// Transactional-failure class: the transaction rolled back, state is
	// unchanged, the whole operation may be retried.
	CodeInstallFailed   Code = "INSTALL_FAILED"
	CodeUpgradeFailed   Code = "UPGRADE_FAILED"
	CodeDisableFailed   Code = "DISABLE_FAILED"
	CodeEnableFailed    Code = "ENABLE_FAILED"
	CodeUninstallFailed Code = "UNINSTALL_FAILED"
)

// Result is the structured outcome of a lifecycle operation. Expected
// failures never surface as errors; only unexpected storage faults during
// the read-only pre-checks propagate to the caller.
type Result struct {
	Success           bool                        `json:"success"`
	Code              Code                        `json:"code,omitempty"`
	Message           string                      `json:"message,omitempty"`
	Installation      *model.TenantAddon          `json:"installation,omitempty"`
	Missing           []model.Dependency          `json:"missing,omitempty"`
	Conflicts         []string                    `json:"conflicts,omitempty"`
	Dependents        []string                    `json:"dependents,omitempty"`
	History           []model.AddonInstallHistory `json:"history,omitempty"`
	RollbackPerformed bool                        `json:"rollback_performed,omitempty"`
}

// LifecycleService orchestrates the five state-changing addon operations.
// Each operation runs its pre-checks on the pool, then a single transaction
// that re-validates the critical invariant, mutates state, and appends
// exactly one history row.
type LifecycleService struct {
	store      *store.Store
	deps       *DependencyChecker
	dependents *DependentChecker
}

func NewLifecycleService(st *store.Store) *LifecycleService {
	return &LifecycleService{
		store:      st,
		deps:       NewDependencyChecker(st),
		dependents: NewDependentChecker(st),
	}
}

// Install creates a TenantAddon at the addon's latest version.
func (s *LifecycleService) Install(ctx context.Context, tenantID, addonID uuid.UUID, pricingID *uuid.UUID, config json.RawMessage, userID uuid.UUID) (*Result, error) {
	started := time.Now()

	addon, err := s.store.GetAddon(ctx, addonID)
	if err != nil {
		return nil, err
	}
	if addon == nil || addon.Status != model.AddonStatusPublished {
		return s.failure(model.ActionInstall, CodeAddonNotFound, "addon not found"), nil
	}

	existing, err := s.store.GetInstallation(ctx, nil, tenantID, addonID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.failure(model.ActionInstall, CodeAlreadyInstalled, "addon is already installed"), nil
	}

	latest, err := s.store.GetLatestVersion(ctx, addonID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return s.failure(model.ActionInstall, CodeNoVersion, "addon has no installable version"), nil
	}

	check, err := s.deps.CheckDependencies(ctx, tenantID, addonID, &latest.ID)
	if err != nil {
		return nil, err
	}
	if !check.Satisfied {
		res := s.failure(model.ActionInstall, CodeMissingDependencies, "dependencies are not satisfied")
		res.Missing = check.Missing
		res.Conflicts = check.Conflicts
		return res, nil
	}

	var pricing *model.AddonPricing
	if pricingID != nil {
		pricing, err = s.store.GetPricing(ctx, *pricingID)
		if err != nil {
			return nil, err
		}
		if pricing == nil || pricing.AddonID != addonID {
			return s.failure(model.ActionInstall, CodeInvalidPricing, "pricing does not belong to this addon"), nil
		}
	}

	installation := &model.TenantAddon{
		TenantID:    tenantID,
		AddonID:     addonID,
		VersionID:   latest.ID,
		PricingID:   pricingID,
		Status:      model.InstallStatusActive,
		Config:      config,
		InstalledBy: userID,
	}
	if pricing != nil && pricing.TrialDays > 0 {
		trialEnd := time.Now().AddDate(0, 0, pricing.TrialDays)
		installation.TrialEndsAt = &trialEnd
	}

	txErr := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Re-check inside the transaction so a racing install surfaces as
		// a clean ALREADY_INSTALLED instead of a raw constraint error.
		current, err := s.store.GetInstallation(ctx, tx, tenantID, addonID)
		if err != nil {
			return err
		}
		if current != nil {
			return store.ErrDuplicateInstallation
		}
		if err := s.store.CreateInstallation(ctx, tx, installation); err != nil {
			return err
		}
		if err := s.store.AppendHistory(ctx, tx, &model.AddonInstallHistory{
			TenantAddonID: installation.ID,
			TenantID:      tenantID,
			AddonID:       addonID,
			Action:        model.ActionInstall,
			ToVersionID:   &latest.ID,
			Status:        model.InstallStatusActive,
			PerformedBy:   userID,
		}); err != nil {
			return err
		}
		return s.store.IncrementInstallCount(ctx, tx, addonID)
	})
	if errors.Is(txErr, store.ErrDuplicateInstallation) {
		res := s.failure(model.ActionInstall, CodeAlreadyInstalled, "addon is already installed")
		res.RollbackPerformed = true
		return res, nil
	}
	if txErr != nil {
		return s.rollback(model.ActionInstall, CodeInstallFailed, tenantID, addonID, txErr), nil
	}

	s.store.InvalidateAddon(ctx, addonID)
	s.observe(model.ActionInstall, "", started)
	return &Result{Success: true, Installation: installation}, nil
}

// Upgrade moves an installation to a specific version, preserving status.
func (s *LifecycleService) Upgrade(ctx context.Context, tenantID, addonID, targetVersionID, userID uuid.UUID) (*Result, error) {
	started := time.Now()

	installation, err := s.store.GetInstallation(ctx, nil, tenantID, addonID)
	if err != nil {
		return nil, err
	}
	if installation == nil {
		return s.failure(model.ActionUpdate, CodeNotInstalled, "addon is not installed"), nil
	}
	if installation.Status != model.InstallStatusActive && installation.Status != model.InstallStatusDisabled {
		return s.failure(model.ActionUpdate, CodeInvalidState, "installation is not in an upgradable state"), nil
	}

	target, err := s.store.GetVersion(ctx, targetVersionID)
	if err != nil {
		return nil, err
	}
	if target == nil || target.AddonID != addonID {
		return s.failure(model.ActionUpdate, CodeVersionNotFound, "target version not found"), nil
	}

	check, err := s.deps.CheckDependencies(ctx, tenantID, addonID, &target.ID)
	if err != nil {
		return nil, err
	}
	if !check.Satisfied {
		res := s.failure(model.ActionUpdate, CodeMissingDependencies, "dependencies are not satisfied")
		res.Missing = check.Missing
		res.Conflicts = check.Conflicts
		return res, nil
	}

	fromVersionID := installation.VersionID
	txErr := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		// Guarded on the pre-checked status so a concurrent transition
		// surfaces instead of committing a blind write.
		if err := s.store.UpdateInstallationVersion(ctx, tx, installation.ID, target.ID, installation.Status); err != nil {
			return err
		}
		return s.store.AppendHistory(ctx, tx, &model.AddonInstallHistory{
			TenantAddonID: installation.ID,
			TenantID:      tenantID,
			AddonID:       addonID,
			Action:        model.ActionUpdate,
			FromVersionID: &fromVersionID,
			ToVersionID:   &target.ID,
			Status:        installation.Status,
			PerformedBy:   userID,
		})
	})
	if errors.Is(txErr, store.ErrStatusChanged) {
		return s.staleStatus(model.ActionUpdate), nil
	}
	if txErr != nil {
		return s.rollback(model.ActionUpdate, CodeUpgradeFailed, tenantID, addonID, txErr), nil
	}

	installation.VersionID = target.ID
	s.observe(model.ActionUpdate, "", started)
	return &Result{Success: true, Installation: installation}, nil
}

// Disable sets an active installation to disabled. Blocked while any other
// installed addon depends on it.
func (s *LifecycleService) Disable(ctx context.Context, tenantID, addonID, userID uuid.UUID) (*Result, error) {
	started := time.Now()

	installation, err := s.store.GetInstallation(ctx, nil, tenantID, addonID)
	if err != nil {
		return nil, err
	}
	if installation == nil {
		return s.failure(model.ActionDisable, CodeNotInstalled, "addon is not installed"), nil
	}
	if installation.Status == model.InstallStatusDisabled {
		return s.failure(model.ActionDisable, CodeAlreadyDisabled, "addon is already disabled"), nil
	}
	if installation.Status != model.InstallStatusActive {
		return s.failure(model.ActionDisable, CodeInvalidState, "installation is not active"), nil
	}

	dependents, err := s.dependents.CheckDependents(ctx, tenantID, addonID)
	if err != nil {
		return nil, err
	}
	if dependents.HasDependents {
		res := s.failure(model.ActionDisable, CodeHasDependents, "other installed addons depend on this addon")
		res.Dependents = dependents.Dependents
		return res, nil
	}

	txErr := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.UpdateInstallationStatus(ctx, tx, installation.ID, model.InstallStatusDisabled, model.InstallStatusActive); err != nil {
			return err
		}
		return s.store.AppendHistory(ctx, tx, &model.AddonInstallHistory{
			TenantAddonID: installation.ID,
			TenantID:      tenantID,
			AddonID:       addonID,
			Action:        model.ActionDisable,
			FromVersionID: &installation.VersionID,
			ToVersionID:   &installation.VersionID,
			Status:        model.InstallStatusDisabled,
			PerformedBy:   userID,
		})
	})
	if errors.Is(txErr, store.ErrStatusChanged) {
		return s.staleStatus(model.ActionDisable), nil
	}
	if txErr != nil {
		return s.rollback(model.ActionDisable, CodeDisableFailed, tenantID, addonID, txErr), nil
	}

	installation.Status = model.InstallStatusDisabled
	s.observe(model.ActionDisable, "", started)
	return &Result{Success: true, Installation: installation}, nil
}

// Enable re-activates a disabled installation after re-checking its
// dependencies against the currently pinned version; the graph may have
// changed since it was disabled.
func (s *LifecycleService) Enable(ctx context.Context, tenantID, addonID, userID uuid.UUID) (*Result, error) {
	started := time.Now()

	installation, err := s.store.GetInstallation(ctx, nil, tenantID, addonID)
	if err != nil {
		return nil, err
	}
	if installation == nil {
		return s.failure(model.ActionEnable, CodeNotInstalled, "addon is not installed"), nil
	}
	if installation.Status != model.InstallStatusDisabled {
		return s.failure(model.ActionEnable, CodeNotDisabled, "addon is not disabled"), nil
	}

	check, err := s.deps.CheckDependencies(ctx, tenantID, addonID, &installation.VersionID)
	if err != nil {
		return nil, err
	}
	if !check.Satisfied {
		res := s.failure(model.ActionEnable, CodeMissingDependencies, "dependencies are not satisfied")
		res.Missing = check.Missing
		res.Conflicts = check.Conflicts
		return res, nil
	}

	txErr := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.UpdateInstallationStatus(ctx, tx, installation.ID, model.InstallStatusActive, model.InstallStatusDisabled); err != nil {
			return err
		}
		return s.store.AppendHistory(ctx, tx, &model.AddonInstallHistory{
			TenantAddonID: installation.ID,
			TenantID:      tenantID,
			AddonID:       addonID,
			Action:        model.ActionEnable,
			FromVersionID: &installation.VersionID,
			ToVersionID:   &installation.VersionID,
			Status:        model.InstallStatusActive,
			PerformedBy:   userID,
		})
	})
	if errors.Is(txErr, store.ErrStatusChanged) {
		return s.staleStatus(model.ActionEnable), nil
	}
	if txErr != nil {
		return s.rollback(model.ActionEnable, CodeEnableFailed, tenantID, addonID, txErr), nil
	}

	installation.Status = model.InstallStatusActive
	s.observe(model.ActionEnable, "", started)
	return &Result{Success: true, Installation: installation}, nil
}

// Uninstall deletes the installation in any status, provided nothing else
// depends on it. The history row is appended before the delete so it can
// still reference the installation.
func (s *LifecycleService) Uninstall(ctx context.Context, tenantID, addonID, userID uuid.UUID) (*Result, error) {
	started := time.Now()

	installation, err := s.store.GetInstallation(ctx, nil, tenantID, addonID)
	if err != nil {
		return nil, err
	}
	if installation == nil {
		return s.failure(model.ActionUninstall, CodeNotInstalled, "addon is not installed"), nil
	}

	dependents, err := s.dependents.CheckDependents(ctx, tenantID, addonID)
	if err != nil {
		return nil, err
	}
	if dependents.HasDependents {
		res := s.failure(model.ActionUninstall, CodeHasDependents, "other installed addons depend on this addon")
		res.Dependents = dependents.Dependents
		return res, nil
	}

	txErr := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.store.AppendHistory(ctx, tx, &model.AddonInstallHistory{
			TenantAddonID: installation.ID,
			TenantID:      tenantID,
			AddonID:       addonID,
			Action:        model.ActionUninstall,
			FromVersionID: &installation.VersionID,
			ToVersionID:   &installation.VersionID,
			Status:        model.InstallStatusUninstalled,
			PerformedBy:   userID,
		}); err != nil {
			return err
		}
		if err := s.store.DeleteInstallation(ctx, tx, installation.ID); err != nil {
			return err
		}
		return s.store.DecrementInstallCount(ctx, tx, addonID)
	})
	if txErr != nil {
		return s.rollback(model.ActionUninstall, CodeUninstallFailed, tenantID, addonID, txErr), nil
	}

	s.store.InvalidateAddon(ctx, addonID)
	s.observe(model.ActionUninstall, "", started)
	return &Result{Success: true}, nil
}

// GetHistory returns the tenant's lifecycle history newest-first,
// optionally filtered to one addon. Side-effect free.
func (s *LifecycleService) GetHistory(ctx context.Context, tenantID uuid.UUID, addonID *uuid.UUID) (*Result, error) {
	history, err := s.store.ListHistory(ctx, tenantID, addonID)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, History: history}, nil
}

func (s *LifecycleService) failure(action string, code Code, message string) *Result {
	monitoring.LifecycleOperations.WithLabelValues(action, string(code)).Inc()
	return &Result{Code: code, Message: message}
}

// staleStatus reports a guarded write that matched zero rows: the
// installation moved to another status after the pre-check, the
// transaction rolled back, nothing was committed.
func (s *LifecycleService) staleStatus(action string) *Result {
	res := s.failure(action, CodeInvalidState, "installation status changed concurrently")
	res.RollbackPerformed = true
	return res
}

// rollback builds the transactional-failure result. The transaction has
// already been rolled back by WithTx; state is unchanged.
func (s *LifecycleService) rollback(action string, code Code, tenantID, addonID uuid.UUID, err error) *Result {
	log.Error().Err(err).
		Str("action", action).
		Str("tenant_id", tenantID.String()).
		Str("addon_id", addonID.String()).
		Msg("Lifecycle transaction rolled back")
	monitoring.RollbackAlert(action, map[string]string{
		"tenant_id": tenantID.String(),
		"addon_id":  addonID.String(),
	})
	monitoring.LifecycleOperations.WithLabelValues(action, string(code)).Inc()
	return &Result{Code: code, Message: err.Error(), RollbackPerformed: true}
}

func (s *LifecycleService) observe(action string, code Code, started time.Time) {
	label := "ok"
	if code != "" {
		label = string(code)
	}
	monitoring.LifecycleOperations.WithLabelValues(action, label).Inc()
	monitoring.OperationDuration.Observe(time.Since(started).Seconds())
}
