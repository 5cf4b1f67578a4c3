/*
assets.go - Asset reference resolution boundary

PURPOSE:
  The engine consumes asset identifiers supplied by an external asset
  directory and never duplicates asset attribute storage. This file
  defines that boundary and a static in-memory directory for dev and
  tests.

SEE ALSO:
  - engine.go: Validates covered/serviced assets through AssetDirectory
*/
package amc

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// ASSET DIRECTORY - External resolver boundary
// =============================================================================

// AssetDirectory validates that asset ids exist in a department.
// Implementations call out to the inventory system; the engine only ever
// sees identifiers and a pass/fail answer.
type AssetDirectory interface {
	// Validate returns nil when every id is known to the department, or
	// an UnknownAssetError listing the ids that are not.
	Validate(ctx context.Context, dept Department, assetIDs []string) error
}

// =============================================================================
// STATIC DIRECTORY - Fixed id sets (dev/tests)
// =============================================================================

// StaticDirectory is an AssetDirectory over fixed id sets.
type StaticDirectory struct {
	mu     sync.RWMutex
	assets map[Department]map[string]bool
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{assets: make(map[Department]map[string]bool)}
}

// Add registers asset ids under a department.
func (d *StaticDirectory) Add(dept Department, assetIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.assets[dept] == nil {
		d.assets[dept] = make(map[string]bool)
	}
	for _, id := range assetIDs {
		d.assets[dept][id] = true
	}
}

func (d *StaticDirectory) Validate(_ context.Context, dept Department, assetIDs []string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var unknown []string
	for _, id := range assetIDs {
		if !d.assets[dept][id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &UnknownAssetError{Department: dept, AssetIDs: unknown}
	}
	return nil
}

// PermissiveDirectory accepts every asset id. Useful when the upstream
// directory is unavailable in a dev environment.
type PermissiveDirectory struct{}

func (PermissiveDirectory) Validate(context.Context, Department, []string) error { return nil }
