// Command hbee runs the scanner ("hbee") tier of spec.md §4.4 as a
// standalone Flight RPC server: it receives ExecuteQuery actions from a
// planner, scans its assigned Parquet files out of an object store, and
// uploads the result to the zone's combiner.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/apache/arrow/go/v15/arrow/flight"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"

	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/metrics"
	"github.com/buzzdb/buzz/objectstore"
	"github.com/buzzdb/buzz/rpcflight"
	"github.com/buzzdb/buzz/scanner"
)

var (
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Value: "127.0.0.1:9001",
		Usage: "address this scanner's Flight RPC server binds to",
	}
	bucketFlag = &cli.StringFlag{
		Name:     "bucket",
		Usage:    "object store bucket this scanner reads Parquet files from",
		Required: true,
	}
	s3EndpointFlag = &cli.StringFlag{
		Name:  "s3-endpoint",
		Usage: "override S3 endpoint (e.g. for a MinIO/localstack test bucket); empty uses AWS defaults",
	}
	s3RegionFlag = &cli.StringFlag{
		Name:  "s3-region",
		Value: "us-east-1",
		Usage: "S3 region",
	}
	batchSizeFlag = &cli.Int64Flag{
		Name:  "batch-size",
		Value: 2048,
		Usage: "default row count per decoded Arrow record batch",
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "emit structured JSON logs instead of the terminal format",
	}
	metricsListenFlag = &cli.StringFlag{
		Name:  "metrics-listen",
		Usage: "address to serve Prometheus /metrics on; empty disables it",
	}
)

func main() {
	app := &cli.App{
		Name:  "hbee",
		Usage: "run the scanner tier of the buzz execution fabric",
		Flags: []cli.Flag{listenFlag, bucketFlag, s3EndpointFlag, s3RegionFlag, batchSizeFlag, logJSONFlag, metricsListenFlag},
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
	if c.Bool(logJSONFlag.Name) {
		log.SetRoot(log.NewWithHandler(log.NewJSONHandler(os.Stderr)))
	}
	logger := log.New("component", "hbee_main")

	store, err := newStore(c)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	if addr := c.String(metricsListenFlag.Name); addr != "" {
		serveMetrics(addr, "buzz_hbee", reg, logger)
	}
	dial := func(addr common.HCombAddress) scanner.Uploader {
		conn, err := rpcflight.Dial(addr)
		if err != nil {
			return rpcflight.FailedUploader{Err: err}
		}
		return rpcflight.NewCombinerClient(conn)
	}
	svc := scanner.New(store, c.String(bucketFlag.Name), dial, reg)

	flightDial := func(addr common.HCombAddress) (scanner.Uploader, error) {
		conn, err := rpcflight.Dial(addr)
		if err != nil {
			return nil, err
		}
		return rpcflight.NewCombinerClient(conn), nil
	}
	server := scanner.NewFlightServer(svc, flightDial, c.Int64(batchSizeFlag.Name))

	lis, err := net.Listen("tcp", c.String(listenFlag.Name))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", c.String(listenFlag.Name), err)
	}

	grpcServer := grpc.NewServer()
	flight.RegisterFlightServiceServer(grpcServer, server)

	logger.Info("hbee listening", "addr", c.String(listenFlag.Name), "bucket", c.String(bucketFlag.Name))
	return grpcServer.Serve(lis)
}

// serveMetrics starts a background HTTP server exposing reg's counters,
// gauges and timers as a prometheus.Collector under namespace, scraped at
// /metrics. Failures after startup are logged, not fatal: metrics are an
// observable, not part of the correctness contract (spec.md §4.4).
func serveMetrics(addr, namespace string, reg *metrics.Registry, logger log.Logger) {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(namespace, reg))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
}

func newStore(c *cli.Context) (objectstore.Store, error) {
	ctx := c.Context
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.String(s3RegionFlag.Name)),
	}
	if ak := os.Getenv("AWS_ACCESS_KEY_ID"); ak != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, os.Getenv("AWS_SECRET_ACCESS_KEY"), ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := c.String(s3EndpointFlag.Name); ep != "" {
			o.BaseEndpoint = &ep
			o.UsePathStyle = true
		}
	})
	return objectstore.NewS3Store(client), nil
}
