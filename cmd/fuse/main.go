// Command fuse runs the planner ("fuse") tier of spec.md §4.6 as a one-shot
// CLI: it accepts a scan SQL, a merge SQL and a manifest of catalog files,
// plans a DistributedPlan, dispatches it to a pool of scanners and
// combiners, and writes the final merged Arrow IPC stream to a file or
// logs a row-count summary of it. spec.md §6 defines no wire contract
// between a user and the planner, so this binary fills that gap the way a
// CLI tool in the teacher's cmd/ tree would: flags in, a file or a log
// line out.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow/go/v15/arrow/ipc"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/planner"
	"github.com/buzzdb/buzz/planplumbing"
	"github.com/buzzdb/buzz/rpcflight"
)

var (
	scanSQLFlag   = &cli.StringFlag{Name: "scan-sql", Required: true, Usage: "SQL for the scan step"}
	mergeSQLFlag  = &cli.StringFlag{Name: "merge-sql", Required: true, Usage: "SQL for the merge step"}
	tableFlag     = &cli.StringFlag{Name: "table", Required: true, Usage: "catalog table name the scan SQL and merge SQL both reference"}
	manifestFlag  = &cli.StringFlag{Name: "manifest", Required: true, Usage: "path to a JSON file listing the table's SizedFiles"}
	schemaFlag    = &cli.StringFlag{Name: "schema", Required: true, Usage: "path to a file holding the table's Arrow IPC-serialized schema"}
	scannersFlag  = &cli.StringFlag{Name: "scanners", Required: true, Usage: "comma-separated host:port list of scanners to dispatch to"}
	combinersFlag = &cli.StringFlag{Name: "combiners", Required: true, Usage: "comma-separated host:port list of combiners to assign zones to"}
	outputFlag    = &cli.StringFlag{Name: "output", Usage: "path to write the final Arrow IPC stream; if unset, a row-count summary is logged"}
)

func main() {
	app := &cli.App{
		Name:  "fuse",
		Usage: "plan and dispatch one query across the buzz execution fabric",
		Flags: []cli.Flag{scanSQLFlag, mergeSQLFlag, tableFlag, manifestFlag, schemaFlag, scannersFlag, combinersFlag, outputFlag},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx := c.Context
	logger := log.New("component", "fuse_main")

	files, err := readManifest(c.String(manifestFlag.Name))
	if err != nil {
		return err
	}
	schemaBytes, err := os.ReadFile(c.String(schemaFlag.Name))
	if err != nil {
		return fmt.Errorf("reading schema file: %w", err)
	}
	schema, err := rpcflight.DecodeSchema(schemaBytes)
	if err != nil {
		return err
	}

	scanners, err := parseAddresses(c.String(scannersFlag.Name))
	if err != nil {
		return err
	}
	combiners, err := parseAddresses(c.String(combinersFlag.Name))
	if err != nil {
		return err
	}

	table := c.String(tableFlag.Name)
	p := planner.New()
	p.AddCatalog(planner.NewFileCatalog(table, schema, files))

	queryID := common.QueryId(uuid.NewString())
	steps := []common.BuzzStep{
		{SQL: c.String(scanSQLFlag.Name), Name: table, Type: common.StepScan},
		{SQL: c.String(mergeSQLFlag.Name), Name: table, Type: common.StepMerge},
	}

	plan, err := p.Plan(ctx, queryID, steps, combiners)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	logger.Info("planned query", "query_id", queryID, "zones", len(plan.Zones))

	dialScanner := func(addr common.HCombAddress) (*rpcflight.ScannerClient, error) {
		conn, err := rpcflight.Dial(addr)
		if err != nil {
			return nil, err
		}
		return rpcflight.NewScannerClient(conn), nil
	}
	dialCombiner := func(addr common.HCombAddress) (*rpcflight.CombinerClient, error) {
		conn, err := rpcflight.Dial(addr)
		if err != nil {
			return nil, err
		}
		return rpcflight.NewCombinerClient(conn), nil
	}

	stream, err := planner.Dispatch(ctx, plan, scanners, dialScanner, dialCombiner)
	if err != nil {
		return fmt.Errorf("dispatching: %w", err)
	}

	return writeResult(ctx, c.String(outputFlag.Name), plan, stream, logger)
}

func writeResult(ctx context.Context, outPath string, plan *planner.DistributedPlan, stream planplumbing.BatchStream, logger log.Logger) error {
	batches, err := planplumbing.Collect(ctx, stream)
	if err != nil {
		return fmt.Errorf("collecting results: %w", err)
	}
	if outPath == "" {
		var rows int64
		for _, b := range batches {
			rows += b.NumRows()
		}
		logger.Info("query complete", "query_id", plan.QueryID, "batches", len(batches), "rows", rows)
		return nil
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if len(batches) == 0 {
		return nil
	}
	w := ipc.NewWriter(f, ipc.WithSchema(batches[0].Schema()))
	defer w.Close()
	for _, b := range batches {
		if err := w.Write(b); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	return nil
}

func readManifest(path string) ([]common.SizedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var files []common.SizedFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return files, nil
}

func parseAddresses(csv string) ([]common.HCombAddress, error) {
	var out []common.HCombAddress
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, portStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid address %q: expected host:port", part)
		}
		var port int
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", part, err)
		}
		out = append(out, common.HCombAddress{Host: host, Port: port})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses given")
	}
	return out, nil
}
