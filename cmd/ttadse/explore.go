package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"ttadse/internal/dsdb"
	"ttadse/internal/explore"
	"ttadse/internal/oracle"
	"ttadse/internal/profile"
	"ttadse/internal/stages"
	"ttadse/internal/toolchain"
)

func (a *app) exploreCommand() *cobra.Command {
	var (
		set         map[string]string
		oracleCmd   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "explore <conf>",
		Short: "Run the automatic exploration pipeline from a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrap(err, "configuration id %q", args[0])
			}

			params := explore.Params{}
			for k, v := range a.v.GetStringMapString("params") {
				params[k] = v
			}
			for k, v := range set {
				params[k] = v
			}

			cfg, err := explore.ParseParams(params)
			if err != nil {
				return err
			}

			s, err := a.open()
			if err != nil {
				return err
			}
			cache, err := a.openCache()
			if err != nil {
				return err
			}

			env := explore.Env{
				Store:    s,
				Profiler: &profile.Profiler{Toolchain: toolchain.NewReference(), Store: s, Cache: cache},
			}

			reg := explore.NewRegistry()
			stages.Register(reg)

			e, err := explore.NewEngine(reg, stages.AutoPipeline(cfg), env)
			if err != nil {
				return err
			}
			e.Recovery = stages.Recovery()

			if oracleCmd != "" {
				argv := strings.Fields(oracleCmd)
				if len(argv) == 0 {
					return errors.New("bad oracle command %q", oracleCmd)
				}
				e.Oracle = &oracle.Command{Path: argv[0], Args: argv[1:]}
			}

			if metricsAddr != "" {
				promReg := prometheus.NewRegistry()
				e.Metrics = explore.NewMetrics(promReg)
				serveMetrics(metricsAddr, promReg)
			}

			printHeader(cfg, e.Stages())

			began := time.Now()

			res, err := e.Explore(a.context(), dsdb.RowID(start), cfg)
			if err != nil {
				return err
			}

			return printSummary(a, res, cache, time.Since(began))
		},
	}

	f := cmd.Flags()
	f.StringToStringVar(&set, "set", nil, "engine parameter key=value, repeatable")
	f.StringVar(&oracleCmd, "oracle", "", "synthesis command, called with the architecture file and the target MHz")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			tlog.Printw("metrics server", "addr", addr, "err", err)
		}
	}()
}

func printHeader(cfg explore.Config, pipeline []string) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("  TTA Design Space Exploration")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Pipeline: %s\n", strings.Join(pipeline, " -> "))
	fmt.Printf("Budget: target_cc=%d target_f=%d result_size=%d\n\n", cfg.TargetCycles, cfg.TargetMHz, cfg.ResultSize)
}

func printSummary(a *app, res explore.Result, cache *profile.Cache, took time.Duration) error {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("  SUMMARY  run %s\n", res.ID)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-8s %8s %8s %8s %10s %12s\n", "Conf", "Arch", "FUs", "Buses", "RF ports", "Cycles")
	fmt.Println(strings.Repeat("-", 80))

	for _, id := range res.Configurations {
		sum, err := explore.Describe(a.context(), a.store, id)
		if err != nil {
			fmt.Printf("  ✗ %d: %v\n", id, err)
			continue
		}

		fmt.Printf("%-8d %8d %8d %8d %10d %12d\n",
			sum.Configuration, sum.Architecture, sum.Units, sum.Buses, sum.RegisterPorts, sum.Cycles)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Results: %d  Backtracks: %d  Rejections: %d  Time: %v\n",
		len(res.Configurations), res.Backtracks, res.Rejections, took)
	fmt.Printf("Profile cache: %d hits, %d misses\n", cache.Hits, cache.Misses)
	fmt.Println(strings.Repeat("=", 80))

	return nil
}
