package app

import (
	"context"
	"errors"
	"fmt"

	"fleetplan/internal/catalog"
	"fleetplan/internal/engine"
	"fleetplan/internal/repo"
)

// DefaultFleetID names the fleet seeded when a workspace has neither a stored catalog nor
// a catalog file.
const DefaultFleetID = "fleet"

// ResolveCatalog picks the session catalog and makes sure it is stored in the workspace DB.
// A fleetplan.yml in the workspace wins over the stored snapshot; with neither, the
// reference catalog is seeded under fleetOverride (or DefaultFleetID).
func ResolveCatalog(ctx context.Context, workspace, fleetOverride, actorID string, eng engine.Engine) (*catalog.Catalog, error) {
	fromFile, err := catalog.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", catalog.Path(workspace), err)
	}
	if fromFile != nil {
		if fleetOverride != "" && fromFile.Fleet.ID != fleetOverride {
			return nil, fmt.Errorf("catalog file is for fleet %s, not %s", fromFile.Fleet.ID, fleetOverride)
		}
		if err := eng.ImportCatalog(ctx, fromFile, actorID); err != nil {
			return nil, fmt.Errorf("store catalog: %w", err)
		}
		return fromFile, nil
	}

	var stored *catalog.Catalog
	if fleetOverride != "" {
		stored, err = eng.Repo.GetCatalog(ctx, fleetOverride)
	} else {
		stored, err = eng.Repo.SingleCatalog(ctx)
	}
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	fleetID := fleetOverride
	if fleetID == "" {
		fleetID = DefaultFleetID
	}
	seed := catalog.Default(fleetID)
	if err := eng.ImportCatalog(ctx, seed, actorID); err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	return seed, nil
}
