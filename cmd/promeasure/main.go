// Command promeasure is a measurement driver for an external
// optimization host. The host invokes one subcommand per call:
//
//	promeasure describe             print the metric/unit map as JSON
//	promeasure measure < request    run one measurement, request on stdin
//	promeasure check                verify the Prometheus endpoint answers
//	promeasure version              print build information
//
// During measure, progress lines ({"progress": N}) are written to
// stdout while the measurement window elapses; the final result JSON is
// the last line. Diagnostics go to stderr. SIGINT/SIGTERM cancel the
// measurement, which exits with a code distinct from ordinary failure.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/measurekit/promeasure/internal/driver"
	"github.com/measurekit/promeasure/internal/measure"
	"golang.org/x/sync/errgroup"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Exit codes form part of the host contract: the host distinguishes a
// cancelled measurement from a failed one by code alone.
const (
	exitOK        = 0
	exitError     = 1
	exitCancelled = 3
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)

	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, command, err := loadSettings(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	switch command {
	case "describe":
		return runDescribe(cfg)
	case "measure":
		return runMeasure(cfg)
	case "check":
		return runCheck(cfg)
	case "version":
		fmt.Printf("promeasure %s (commit %s, built %s)\n", version, commit, buildTime)
		return exitOK
	case "":
		printUsage()
		return exitError
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
		printUsage()
		return exitError
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: promeasure [flags] <describe|measure|check|version>

Flags:
  -config string             path to the metric config file (default %q)
  -driver-key string         config section to read (default %q)
  -endpoint string           Prometheus endpoint, overrides the config file
  -timeout duration          per-request HTTP timeout (default %s)
  -progress-interval duration  cadence of progress lines during measure (default %s)

Environment variables PROMEASURE_CONFIG, PROMEASURE_DRIVER_KEY,
PROMEASURE_ENDPOINT, PROMEASURE_TIMEOUT and PROMEASURE_PROGRESS_INTERVAL
mirror the flags; flags win.
`, defaultConfigPath, defaultDriverKey, defaultTimeout, defaultProgressInterval)
}

func newDriver(cfg settings) *driver.Driver {
	return driver.New(cfg.ConfigPath, cfg.DriverKey, cfg.Endpoint, cfg.Timeout)
}

func runDescribe(cfg settings) int {
	metrics, err := newDriver(cfg).Describe()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	out := struct {
		Metrics map[string]driver.MetricInfo `json:"metrics"`
	}{Metrics: metrics}
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}

// progressLine is one host-visible progress report.
type progressLine struct {
	Progress int `json:"progress"`
}

func runMeasure(cfg settings) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := newDriver(cfg)
	log.Printf("measure: config=%s section=%q", cfg.ConfigPath, cfg.DriverKey)

	var result *measure.Result
	done := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		r, err := d.Measure(gctx, os.Stdin)
		result = r
		return err
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ProgressInterval)
		defer ticker.Stop()
		enc := json.NewEncoder(os.Stdout)
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				_ = enc.Encode(progressLine{Progress: d.Progress()})
			}
		}
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, measure.ErrCancelled) {
			fmt.Fprintf(os.Stderr, "Cancelled: %v\n", err)
			return exitCancelled
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}

func runCheck(cfg settings) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newDriver(cfg).Check(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	fmt.Println("endpoint ok")
	return exitOK
}
