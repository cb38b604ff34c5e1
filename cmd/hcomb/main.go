// Command hcomb runs the combiner ("hcomb") tier of spec.md §4.5 as a
// standalone Flight RPC server: it receives scanner uploads over DoPut,
// merges them per query, and streams the merged result back to the
// planner over DoGet.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/apache/arrow/go/v15/arrow/flight"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"

	"github.com/buzzdb/buzz/combiner"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/metrics"
)

var (
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Value: "127.0.0.1:9002",
		Usage: "address this combiner's Flight RPC server binds to",
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
		Name:  "hcomb",
		Usage: "run the combiner tier of the buzz execution fabric",
		Flags: []cli.Flag{listenFlag, logJSONFlag, metricsListenFlag},
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
	logger := log.New("component", "hcomb_main")

	reg := metrics.NewRegistry()
	if addr := c.String(metricsListenFlag.Name); addr != "" {
		serveMetrics(addr, "buzz_hcomb", reg, logger)
	}
	svc := combiner.New(reg)
	server := combiner.NewFlightServer(svc)

	lis, err := net.Listen("tcp", c.String(listenFlag.Name))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", c.String(listenFlag.Name), err)
	}

	grpcServer := grpc.NewServer()
	flight.RegisterFlightServiceServer(grpcServer, server)

	logger.Info("hcomb listening", "addr", c.String(listenFlag.Name))
	return grpcServer.Serve(lis)
}

// serveMetrics starts a background HTTP server exposing reg's counters,
// gauges and timers as a prometheus.Collector under namespace, scraped at
// /metrics. Failures after startup are logged, not fatal: metrics are an
// observable, not part of the correctness contract (spec.md §4.5).
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
