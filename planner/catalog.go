package planner

import (
	"context"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/planplumbing"
)

// FileSplitter is the simplest Splitter planplumbing.CatalogTable can be
// built on: one ScanTable per file, spec.md §3's "one per file or file
// group" with group size fixed at one. cmd/fuse builds catalogs from a
// manifest of known files with this; a deployment wanting file grouping
// (e.g. co-locating small files into one ScanTable) would supply its own
// Splitter instead.
type FileSplitter struct {
	Name   string
	Schema *arrow.Schema
	Files  []common.SizedFile
}

// Split implements planplumbing.Splitter.
func (s FileSplitter) Split(ctx context.Context) ([]*planplumbing.ScanTable, error) {
	tables := make([]*planplumbing.ScanTable, len(s.Files))
	for i, f := range s.Files {
		tables[i] = planplumbing.NewScanTable(s.Name, s.Schema, []common.SizedFile{f})
	}
	return tables, nil
}

// NewFileCatalog returns a CatalogTable over files, split one file per
// ScanTable.
func NewFileCatalog(name string, schema *arrow.Schema, files []common.SizedFile) *planplumbing.CatalogTable {
	return planplumbing.NewCatalogTable(name, schema, FileSplitter{Name: name, Schema: schema, Files: files})
}
