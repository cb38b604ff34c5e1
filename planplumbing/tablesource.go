package planplumbing

import (
	"context"
	"sync"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/rangecache"
)

// SourceKind tags the concrete kind behind a TableSource (CatalogTable,
// ScanTable, ResultTable or EmptyTable) and names it in String output and
// error messages; the planner and scanner themselves select the concrete
// kind with type assertions (spec.md §9: "model the latter as a trait with
// an identity-probe operation").
type SourceKind int

const (
	KindCatalog SourceKind = iota
	KindScan
	KindResult
	KindEmpty
)

func (k SourceKind) String() string {
	switch k {
	case KindCatalog:
		return "catalog"
	case KindScan:
		return "scan"
	case KindResult:
		return "result"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// TableSource is the escape hatch a TableScan leaf carries.
type TableSource interface {
	Kind() SourceKind
	Name() string
	Schema() *arrow.Schema
}

// Splitter enumerates the SizedFiles behind a CatalogTable and groups them
// into ScanTables, one per file or file group.
type Splitter interface {
	Split(ctx context.Context) ([]*ScanTable, error)
}

// CatalogTable wraps a Splitter. It appears only in planner-side plans and
// is lowered away by split() before leaving the planner (spec.md §3).
type CatalogTable struct {
	name     string
	schema   *arrow.Schema
	splitter Splitter
}

// NewCatalogTable returns a CatalogTable backed by splitter.
func NewCatalogTable(name string, schema *arrow.Schema, splitter Splitter) *CatalogTable {
	return &CatalogTable{name: name, schema: schema, splitter: splitter}
}

func (t *CatalogTable) Kind() SourceKind      { return KindCatalog }
func (t *CatalogTable) Name() string          { return t.name }
func (t *CatalogTable) Schema() *arrow.Schema { return t.schema }

// Split enumerates the catalog's files into per-file ScanTables.
func (t *CatalogTable) Split(ctx context.Context) ([]*ScanTable, error) {
	return t.splitter.Split(ctx)
}

// ScanTable (a.k.a. HBeeTable) is one file group plus a late-bound
// RangeCache slot, set exactly once by ScannerService before physical
// execution begins (spec.md §3).
type ScanTable struct {
	name   string
	schema *arrow.Schema
	files  []common.SizedFile

	mu     sync.Mutex
	caches map[string]*rangecache.RangeCache
}

// NewScanTable returns a ScanTable over files, with no RangeCache injected
// yet.
func NewScanTable(name string, schema *arrow.Schema, files []common.SizedFile) *ScanTable {
	return &ScanTable{name: name, schema: schema, files: files}
}

func (t *ScanTable) Kind() SourceKind           { return KindScan }
func (t *ScanTable) Name() string               { return t.name }
func (t *ScanTable) Schema() *arrow.Schema      { return t.schema }
func (t *ScanTable) Files() []common.SizedFile  { return t.files }

// SetCaches injects one RangeCache per file key. Calling it a second time
// is an invariant violation.
func (t *ScanTable) SetCaches(caches map[string]*rangecache.RangeCache) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.caches != nil {
		return buzzerrors.Internal("RangeCache already injected into scan table %q", t.name)
	}
	t.caches = caches
	return nil
}

// Cache returns the RangeCache injected for fileKey.
func (t *ScanTable) Cache(fileKey string) (*rangecache.RangeCache, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.caches[fileKey]
	if !ok {
		return nil, buzzerrors.Internal("no RangeCache injected for file %q of scan table %q", fileKey, t.name)
	}
	return c, nil
}

// ResultStream is supplied by whatever owns the inbound channel for one
// query — the combiner registry entry — so ResultTable only needs to pull
// one partition's stream from it.
type ResultStream interface {
	Partition(i int) BatchStream
}

// ResultTable is the combiner-side virtual table: QueryId, expected
// partition count, schema and a result stream (spec.md §3). Its i-th
// partition is a handle onto the shared inbound channel.
type ResultTable struct {
	queryID            common.QueryId
	name               string
	schema             *arrow.Schema
	expectedPartitions int
	stream             ResultStream
}

// NewResultTable returns a ResultTable registered under name for queryID.
func NewResultTable(queryID common.QueryId, name string, schema *arrow.Schema, expectedPartitions int, stream ResultStream) *ResultTable {
	return &ResultTable{
		queryID:            queryID,
		name:               name,
		schema:             schema,
		expectedPartitions: expectedPartitions,
		stream:             stream,
	}
}

func (t *ResultTable) Kind() SourceKind            { return KindResult }
func (t *ResultTable) Name() string                { return t.name }
func (t *ResultTable) Schema() *arrow.Schema       { return t.schema }
func (t *ResultTable) QueryID() common.QueryId     { return t.queryID }
func (t *ResultTable) ExpectedPartitions() int     { return t.expectedPartitions }

// Scan returns partition i's batch stream.
func (t *ResultTable) Scan(partition int) (BatchStream, error) {
	if partition < 0 || partition >= t.expectedPartitions {
		return nil, buzzerrors.Internal("result table %q has no partition %d (expected %d)", t.name, partition, t.expectedPartitions)
	}
	return t.stream.Partition(partition), nil
}

// EmptyTable is a schema-only table whose scan always fails. It stands in
// for the placeholder ResultTable the planner registers during its
// planning-only traversal (spec.md §4.6 step 4), where no real channel
// exists yet and nothing should ever actually execute against it.
type EmptyTable struct {
	name   string
	schema *arrow.Schema
}

// NewEmptyTable returns a schema-only placeholder table named name.
func NewEmptyTable(name string, schema *arrow.Schema) *EmptyTable {
	return &EmptyTable{name: name, schema: schema}
}

func (t *EmptyTable) Kind() SourceKind      { return KindEmpty }
func (t *EmptyTable) Name() string          { return t.name }
func (t *EmptyTable) Schema() *arrow.Schema { return t.schema }

// Scan always fails: EmptyTable exists to occupy a planning-only slot, not
// to be executed.
func (t *EmptyTable) Scan(partition int) (BatchStream, error) {
	return nil, buzzerrors.Internal("table %q is a planning-only placeholder with no data; it must not reach execution", t.name)
}
