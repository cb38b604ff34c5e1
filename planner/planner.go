// Package planner implements the "fuse" tier (spec.md §4.6): it turns two
// SQL strings (a scan step and a merge step) plus a catalog of splittable
// tables into a DistributedPlan ready for dispatch to scanners and
// combiners.
package planner

import (
	"context"
	"sync"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/planplumbing"
	"github.com/buzzdb/buzz/sqlfront"
)

// ScanDispatch is everything one scanner needs to execute its share of the
// scan step: the file group to read (as a ScanTable, already carrying its
// schema and file list) and the combiner it must upload its results to.
// The scan SQL is re-parsed by the scanner against a single-table catalog
// containing only this ScanTable — spec.md §6 defines no wire format for
// shipping an arbitrary Plan object tree to a scanner, so this repository
// re-derives the identical per-file plan at the scanner from the same
// deterministic (sql, catalog) pair the planner used, rather than
// serializing the Go Plan value graph itself.
type ScanDispatch struct {
	QueryID  common.QueryId
	Table    *planplumbing.ScanTable
	ScanSQL  string
	Combiner common.HCombAddress
}

// ZonePlan is one combiner and the scanners feeding it (spec.md §3).
type ZonePlan struct {
	Combiner   common.HCombAddress
	MergeSQL   string
	MergeName  string
	Schema     *arrow.Schema
	NbScanners int
	Scans      []*ScanDispatch
}

// DistributedPlan is the planner's output: one zone per active combiner.
type DistributedPlan struct {
	QueryID common.QueryId
	Zones   []ZonePlan
}

// QueryPlanner is the "fuse" tier's planning state: a registry of catalogs
// keyed by table name.
type QueryPlanner struct {
	mu       sync.Mutex
	catalogs map[string]planplumbing.TableSource
}

// New returns an empty QueryPlanner.
func New() *QueryPlanner {
	return &QueryPlanner{catalogs: map[string]planplumbing.TableSource{}}
}

// AddCatalog registers table under its own name (spec.md §4.6 step 1).
func (p *QueryPlanner) AddCatalog(table *planplumbing.CatalogTable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.catalogs[table.Name()] = table
}

// Plan produces a DistributedPlan for steps against the registered
// catalogs, dispatching across min(len(combiners), number of scan
// partitions) zones. steps must be exactly
// [Scan, Merge] (spec.md §4.6 contract).
func (p *QueryPlanner) Plan(ctx context.Context, queryID common.QueryId, steps []common.BuzzStep, combiners []common.HCombAddress) (*DistributedPlan, error) {
	if len(steps) != 2 || steps[0].Type != common.StepScan || steps[1].Type != common.StepMerge {
		return nil, buzzerrors.Plan("NotImplemented: expected exactly two steps [Scan, Merge], got %d", len(steps))
	}
	if len(combiners) == 0 {
		return nil, buzzerrors.Plan("at least one combiner is required")
	}

	cat := p.snapshotCatalog()

	scanPlan, err := sqlfront.Parse(steps[0].SQL, cat)
	if err != nil {
		return nil, err
	}
	schema := scanPlan.Schema()

	perFile, err := split(ctx, scanPlan)
	if err != nil {
		return nil, err
	}
	k := len(perFile)

	files := make([]*planplumbing.ScanTable, 0, k)
	for _, fp := range perFile {
		st, err := leafScanTable(fp)
		if err != nil {
			return nil, err
		}
		files = append(files, st)
	}

	// Register the placeholder ResultTable (modeled as an EmptyTable: the
	// planner has no real channel at planning time, only a schema and a
	// name) so the merge SQL can be validated against it eagerly, before
	// any RPC is issued (spec.md §4.6 step 4; scenario 3 in §8).
	placeholderCat := make(sqlfront.MapCatalog, len(cat)+1)
	for name, t := range cat {
		placeholderCat[name] = t
	}
	placeholderCat[steps[0].Name] = planplumbing.NewEmptyTable(steps[0].Name, schema)
	if _, err := sqlfront.Parse(steps[1].SQL, placeholderCat); err != nil {
		return nil, err
	}

	z := min(len(combiners), k)
	if z == 0 {
		return nil, buzzerrors.Internal("split produced zero per-file plans")
	}
	zones := make([]ZonePlan, z)
	for i := range zones {
		zones[i] = ZonePlan{
			Combiner:  combiners[i],
			MergeSQL:  steps[1].SQL,
			MergeName: steps[0].Name,
			Schema:    schema,
		}
	}
	for i, st := range files {
		zone := i % z
		zones[zone].Scans = append(zones[zone].Scans, &ScanDispatch{
			QueryID:  queryID,
			Table:    st,
			ScanSQL:  steps[0].SQL,
			Combiner: combiners[zone],
		})
	}
	for i := range zones {
		zones[i].NbScanners = len(zones[i].Scans)
	}

	return &DistributedPlan{QueryID: queryID, Zones: zones}, nil
}

func (p *QueryPlanner) snapshotCatalog() sqlfront.MapCatalog {
	p.mu.Lock()
	defer p.mu.Unlock()
	cat := make(sqlfront.MapCatalog, len(p.catalogs))
	for name, t := range p.catalogs {
		cat[name] = t
	}
	return cat
}

// leafScanTable walks down to plan's leaf and returns its ScanTable
// source, failing if split did not produce one (an internal invariant
// violation, never a user-facing Plan error).
func leafScanTable(plan planplumbing.Plan) (*planplumbing.ScanTable, error) {
	cur := plan
	for {
		inputs := cur.Inputs()
		if len(inputs) == 0 {
			break
		}
		cur = inputs[0]
	}
	scan, ok := cur.(*planplumbing.TableScanPlan)
	if !ok {
		return nil, buzzerrors.Internal("split produced a plan with no TableScanPlan leaf (%T)", cur)
	}
	st, ok := scan.Source().(*planplumbing.ScanTable)
	if !ok {
		return nil, buzzerrors.Internal("split produced a plan whose leaf is not a ScanTable (%T)", scan.Source())
	}
	return st, nil
}
