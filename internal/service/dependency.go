package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/praxio-solutions/addon-lifecycle-service/internal/model"
	"github.com/praxio-solutions/addon-lifecycle-service/internal/semver"
	"github.com/praxio-solutions/addon-lifecycle-service/internal/store"
)

// Statuses that count as "present" when checking whether a candidate's
// dependencies are satisfied. A disabled installation does NOT satisfy a
// dependency, but it still counts when looking for dependents below: the
// asymmetry is deliberate, disabling keeps the data around.
var dependencyPresentStatuses = []string{
	model.InstallStatusActive,
	model.InstallStatusInstalling,
	model.InstallStatusUpdating,
}

var dependentPresentStatuses = []string{
	model.InstallStatusActive,
	model.InstallStatusDisabled,
}

// DependencyResult reports whether a candidate addon can be installed or
// enabled. Missing holds absent non-optional dependencies; Conflicts holds
// human-readable version violations. The two are distinct failure classes.
type DependencyResult struct {
	Satisfied bool               `json:"satisfied"`
	Missing   []model.Dependency `json:"missing,omitempty"`
	Conflicts []string           `json:"conflicts,omitempty"`
}

// DependentResult lists installed addons that would break if the target
// were disabled or uninstalled.
type DependentResult struct {
	HasDependents bool     `json:"has_dependents"`
	Dependents    []string `json:"dependents,omitempty"`
}

// DependencyChecker evaluates a candidate addon against what the tenant
// already has installed.
type DependencyChecker struct {
	store *store.Store
}

func NewDependencyChecker(st *store.Store) *DependencyChecker {
	return &DependencyChecker{store: st}
}

// CheckDependencies decides whether installing, enabling, or upgrading to
// targetVersionID is legal for the tenant. A nil targetVersionID checks
// only the addon-level dependency list.
func (c *DependencyChecker) CheckDependencies(ctx context.Context, tenantID, addonID uuid.UUID, targetVersionID *uuid.UUID) (*DependencyResult, error) {
	addon, err := c.store.GetAddon(ctx, addonID)
	if err != nil {
		return nil, err
	}
	if addon == nil {
		// A missing addon is a harder failure than a missing dependency.
		return &DependencyResult{
			Conflicts: []string{fmt.Sprintf("addon %s not found", addonID)},
		}, nil
	}

	deps := append(model.DependencyList{}, addon.Dependencies...)
	if targetVersionID != nil {
		version, err := c.store.GetVersion(ctx, *targetVersionID)
		if err != nil {
			return nil, err
		}
		if version == nil || version.AddonID != addonID {
			return &DependencyResult{
				Conflicts: []string{fmt.Sprintf("version %s not found for addon %s", targetVersionID, addon.Slug)},
			}, nil
		}
		deps = append(deps, version.Dependencies...)
	}

	if len(deps) == 0 {
		return &DependencyResult{Satisfied: true}, nil
	}

	installed, err := c.store.InstalledAddons(ctx, tenantID, dependencyPresentStatuses)
	if err != nil {
		return nil, err
	}
	installedByAddon := make(map[uuid.UUID]model.InstalledAddon, len(installed))
	for _, ia := range installed {
		installedByAddon[ia.AddonID] = ia
	}

	names, err := c.dependencyNames(ctx, deps)
	if err != nil {
		return nil, err
	}

	result := &DependencyResult{}
	for _, dep := range deps {
		current, ok := installedByAddon[dep.AddonID]
		if !ok {
			if !dep.Optional {
				result.Missing = append(result.Missing, dep)
			}
			continue
		}
		// Optional dependencies never block, whatever their version.
		if dep.Optional || dep.MinVersion == "" {
			continue
		}

		installedVersion := current.Semver()
		satisfied, err := semver.AtLeast(installedVersion, dep.MinVersion)
		if err != nil {
			result.Conflicts = append(result.Conflicts,
				fmt.Sprintf("%s declares unparseable minimum version %q", names[dep.AddonID], dep.MinVersion))
			continue
		}
		if !satisfied {
			result.Conflicts = append(result.Conflicts,
				fmt.Sprintf("%s requires version >= %s, installed version is %s", names[dep.AddonID], dep.MinVersion, installedVersion))
		}
	}

	result.Satisfied = len(result.Missing) == 0 && len(result.Conflicts) == 0
	return result, nil
}

// dependencyNames resolves display names for conflict messages in one
// batched read.
func (c *DependencyChecker) dependencyNames(ctx context.Context, deps model.DependencyList) (map[uuid.UUID]string, error) {
	ids := make([]uuid.UUID, 0, len(deps))
	seen := make(map[uuid.UUID]bool, len(deps))
	for _, dep := range deps {
		if !seen[dep.AddonID] {
			seen[dep.AddonID] = true
			ids = append(ids, dep.AddonID)
		}
	}

	addons, err := c.store.GetAddonsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if addon, ok := addons[id]; ok {
			names[id] = addon.Name
		} else {
			names[id] = id.String()
		}
	}
	return names, nil
}

// DependentChecker is the inverse query: who depends on a given addon.
type DependentChecker struct {
	store *store.Store
}

func NewDependentChecker(st *store.Store) *DependentChecker {
	return &DependentChecker{store: st}
}

// CheckDependents finds installed addons (active or disabled) that declare
// a non-optional dependency, addon-level or version-level, on addonID.
// No addon may be disabled or uninstalled while this returns any.
func (c *DependentChecker) CheckDependents(ctx context.Context, tenantID, addonID uuid.UUID) (*DependentResult, error) {
	installed, err := c.store.InstalledAddons(ctx, tenantID, dependentPresentStatuses)
	if err != nil {
		return nil, err
	}

	candidates := installed[:0]
	for _, ia := range installed {
		if ia.AddonID != addonID {
			candidates = append(candidates, ia)
		}
	}
	if len(candidates) == 0 {
		return &DependentResult{}, nil
	}

	// One batched read per table instead of one query per candidate.
	addonIDs := make([]uuid.UUID, 0, len(candidates))
	versionIDs := make([]uuid.UUID, 0, len(candidates))
	for _, ia := range candidates {
		addonIDs = append(addonIDs, ia.AddonID)
		versionIDs = append(versionIDs, ia.VersionID)
	}
	addons, err := c.store.GetAddonsByIDs(ctx, addonIDs)
	if err != nil {
		return nil, err
	}
	versions, err := c.store.GetVersionsByIDs(ctx, versionIDs)
	if err != nil {
		return nil, err
	}

	result := &DependentResult{}
	for _, ia := range candidates {
		addon, ok := addons[ia.AddonID]
		if !ok {
			continue
		}
		if dependsOn(addon.Dependencies, addonID) {
			result.Dependents = append(result.Dependents, addon.Name)
			continue
		}
		if version, ok := versions[ia.VersionID]; ok && dependsOn(version.Dependencies, addonID) {
			result.Dependents = append(result.Dependents, addon.Name)
		}
	}

	result.HasDependents = len(result.Dependents) > 0
	return result, nil
}

func dependsOn(deps model.DependencyList, addonID uuid.UUID) bool {
	for _, dep := range deps {
		if dep.AddonID == addonID && !dep.Optional {
			return true
		}
	}
	return false
}
