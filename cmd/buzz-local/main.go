// Command buzz-local races all three tiers of the execution fabric in one
// process on loopback, for local development and integration testing
// (SPEC_FULL.md §4.9, grounded on original_source/code/src/bin/main_integ.rs's
// tokio::select! over start_fuse/start_hbee_server/start_hcomb_server). It
// is not a production deployment shape — each tier still ships as its own
// independently runnable cmd/hbee, cmd/hcomb and cmd/fuse binary — purely a
// one-process convenience for exercising the whole fabric end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/apache/arrow/go/v15/arrow/flight"
	"github.com/apache/arrow/go/v15/arrow/ipc"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"

	"github.com/buzzdb/buzz/combiner"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/metrics"
	"github.com/buzzdb/buzz/objectstore"
	"github.com/buzzdb/buzz/planner"
	"github.com/buzzdb/buzz/planplumbing"
	"github.com/buzzdb/buzz/rpcflight"
	"github.com/buzzdb/buzz/scanner"
)

var (
	hbeeListenFlag  = &cli.StringFlag{Name: "hbee-listen", Value: "127.0.0.1:9011"}
	hcombListenFlag = &cli.StringFlag{Name: "hcomb-listen", Value: "127.0.0.1:9012"}
	bucketFlag      = &cli.StringFlag{Name: "bucket", Required: true}
	scanSQLFlag     = &cli.StringFlag{Name: "scan-sql", Required: true}
	mergeSQLFlag    = &cli.StringFlag{Name: "merge-sql", Required: true}
	tableFlag       = &cli.StringFlag{Name: "table", Required: true}
	manifestFlag    = &cli.StringFlag{Name: "manifest", Required: true}
	schemaFlag      = &cli.StringFlag{Name: "schema", Required: true}
	outputFlag      = &cli.StringFlag{Name: "output"}
)

func main() {
	app := &cli.App{
		Name:  "buzz-local",
		Usage: "run fuse, hbee and hcomb together on loopback for one query",
		Flags: []cli.Flag{hbeeListenFlag, hcombListenFlag, bucketFlag, scanSQLFlag, mergeSQLFlag, tableFlag, manifestFlag, schemaFlag, outputFlag},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type tierResult struct {
	name string
	err  error
}

func run(c *cli.Context) error {
	logger := log.New("component", "buzz_local")
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	store := objectstore.NewMemStore(nil)
	reg := metrics.NewRegistry()

	hcombSvc := combiner.New(reg)
	hcombLis, err := net.Listen("tcp", c.String(hcombListenFlag.Name))
	if err != nil {
		return fmt.Errorf("listening hcomb: %w", err)
	}
	hcombServer := grpc.NewServer()
	flight.RegisterFlightServiceServer(hcombServer, combiner.NewFlightServer(hcombSvc))

	hbeeDial := func(addr common.HCombAddress) scanner.Uploader {
		conn, err := rpcflight.Dial(addr)
		if err != nil {
			return rpcflight.FailedUploader{Err: err}
		}
		return rpcflight.NewCombinerClient(conn)
	}
	hbeeSvc := scanner.New(store, c.String(bucketFlag.Name), hbeeDial, reg)
	flightDial := func(addr common.HCombAddress) (scanner.Uploader, error) {
		conn, err := rpcflight.Dial(addr)
		if err != nil {
			return nil, err
		}
		return rpcflight.NewCombinerClient(conn), nil
	}
	hbeeLis, err := net.Listen("tcp", c.String(hbeeListenFlag.Name))
	if err != nil {
		return fmt.Errorf("listening hbee: %w", err)
	}
	hbeeServer := grpc.NewServer()
	flight.RegisterFlightServiceServer(hbeeServer, scanner.NewFlightServer(hbeeSvc, flightDial, 2048))

	results := make(chan tierResult, 3)

	go func() { results <- tierResult{"hcomb", hcombServer.Serve(hcombLis)} }()
	go func() { results <- tierResult{"hbee", hbeeServer.Serve(hbeeLis)} }()
	go func() {
		err := runQuery(ctx, c, store)
		results <- tierResult{"fuse", err}
	}()

	first := <-results
	logger.Info("first tier finished, shutting down the rest", "tier", first.name, "err", first.err)

	hcombServer.GracefulStop()
	hbeeServer.GracefulStop()
	cancel()

	if first.name == "fuse" {
		return first.err
	}
	return fmt.Errorf("%s exited before fuse finished: %w", first.name, first.err)
}

func runQuery(ctx context.Context, c *cli.Context, store objectstore.Store) error {
	logger := log.New("component", "buzz_local_fuse")

	data, err := os.ReadFile(c.String(manifestFlag.Name))
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	var files []common.SizedFile
	if err := json.Unmarshal(data, &files); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	schemaBytes, err := os.ReadFile(c.String(schemaFlag.Name))
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	schema, err := rpcflight.DecodeSchema(schemaBytes)
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
	hcombAddr, err := parseAddr(c.String(hcombListenFlag.Name))
	if err != nil {
		return err
	}
	hbeeAddr, err := parseAddr(c.String(hbeeListenFlag.Name))
	if err != nil {
		return err
	}

	plan, err := p.Plan(ctx, queryID, steps, []common.HCombAddress{hcombAddr})
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}

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

	stream, err := planner.Dispatch(ctx, plan, []common.HCombAddress{hbeeAddr}, dialScanner, dialCombiner)
	if err != nil {
		return fmt.Errorf("dispatching: %w", err)
	}

	batches, err := planplumbing.Collect(ctx, stream)
	if err != nil {
		return fmt.Errorf("collecting: %w", err)
	}

	var rows int64
	for _, b := range batches {
		rows += b.NumRows()
	}
	logger.Info("query complete", "query_id", queryID, "batches", len(batches), "rows", rows)

	if out := c.String(outputFlag.Name); out != "" && len(batches) > 0 {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		w := ipc.NewWriter(f, ipc.WithSchema(batches[0].Schema()))
		defer w.Close()
		for _, b := range batches {
			if err := w.Write(b); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		}
	}
	return nil
}

func parseAddr(hostport string) (common.HCombAddress, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return common.HCombAddress{}, fmt.Errorf("invalid address %q: %w", hostport, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return common.HCombAddress{}, fmt.Errorf("invalid port in %q: %w", hostport, err)
	}
	return common.HCombAddress{Host: host, Port: port}, nil
}
