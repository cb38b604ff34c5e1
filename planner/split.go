package planner

import (
	"context"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/planplumbing"
)

// split rewrites plan, replacing its single CatalogTable leaf (if any) with
// one per-file TableScanPlan over each ScanTable the catalog's Splitter
// produces, reconstructing every ancestor above it via WithInputs
// (spec.md §4.6 step 3). If the leaf is not backed by a CatalogTable, split
// returns the plan unchanged as a singleton slice.
//
// The core only ever builds single-input chains (a multi-input node is
// rejected below), so the "recursive" traversal spec.md §9 warns about
// degenerates into a walk down a linked list; it is still performed with
// an explicit stack rather than a recursive call so a future multi-input
// relaxation doesn't reintroduce unbounded Go call-stack growth per plan
// level.
func split(ctx context.Context, plan planplumbing.Plan) ([]planplumbing.Plan, error) {
	var ancestors []planplumbing.Plan
	cur := plan
	for {
		inputs := cur.Inputs()
		if len(inputs) == 0 {
			break
		}
		if len(inputs) > 1 {
			return nil, buzzerrors.Plan("NotImplemented: multi-input plans")
		}
		ancestors = append(ancestors, cur)
		cur = inputs[0]
	}
	leaf := cur

	scanLeaf, ok := leaf.(*planplumbing.TableScanPlan)
	if !ok {
		return []planplumbing.Plan{plan}, nil
	}
	catalog, ok := scanLeaf.Source().(*planplumbing.CatalogTable)
	if !ok {
		return []planplumbing.Plan{plan}, nil
	}

	scanTables, err := catalog.Split(ctx)
	if err != nil {
		return nil, buzzerrors.Plan("catalog %q split failed: %v", catalog.Name(), err)
	}
	if len(scanTables) == 0 {
		return nil, buzzerrors.Internal("catalog %q split produced zero files", catalog.Name())
	}

	out := make([]planplumbing.Plan, len(scanTables))
	for i, st := range scanTables {
		leafPlan, err := planplumbing.NewTableScanPlan(st, scanLeaf.Projection())
		if err != nil {
			return nil, err
		}
		out[i] = rebuildAncestors(ancestors, leafPlan)
	}
	return out, nil
}

// rebuildAncestors reapplies each ancestor's own expressions over newLeaf,
// innermost first — the explicit-stack pop corresponding to the descent in
// split above.
func rebuildAncestors(ancestors []planplumbing.Plan, newLeaf planplumbing.Plan) planplumbing.Plan {
	cur := newLeaf
	for i := len(ancestors) - 1; i >= 0; i-- {
		cur = ancestors[i].WithInputs([]planplumbing.Plan{cur})
	}
	return cur
}
