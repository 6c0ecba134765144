// Command mdreplay replays a recorded V2X trace through the misbehaviour
// checker, one checker per receiving vehicle, and stores every verdict.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/misbehaviour.report/internal/config"
	"github.com/banshee-data/misbehaviour.report/internal/db"
	"github.com/banshee-data/misbehaviour.report/internal/misbehaviour"
	"github.com/banshee-data/misbehaviour.report/internal/monitoring"
	"github.com/banshee-data/misbehaviour.report/internal/units"
	"github.com/banshee-data/misbehaviour.report/internal/version"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tracePath  = flag.String("trace", "", "JSON-lines trace to replay (required)")
	configPath = flag.String("config", "", "checks configuration JSON (defaults if empty)")
	dbPath     = flag.String("db", "misbehaviour.db", "SQLite database for check results")
	listen     = flag.String("listen", "", "serve /metrics and /debug on this address while replaying")
	linger     = flag.Duration("linger", 0, "keep the HTTP server up this long after the replay")
	debugLog   = flag.Bool("debug", false, "log every check")
	showVer    = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("mdreplay", version.String())
		return
	}
	monitoring.SetDebug(*debugLog)
	log.Printf("mdreplay %s", version.String())

	if *tracePath == "" {
		log.Fatal("-trace is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	params, err := misbehaviour.ParamsFromConfig(cfg)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.Printf("checks: %s", describeParams(params, cfg.GetSpeedUnits()))
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		log.Fatalf("failed to encode config: %v", err)
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	f, err := os.Open(*tracePath)
	if err != nil {
		log.Fatalf("failed to open trace: %v", err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewCheckMetrics(prometheus.DefaultRegisterer, params.FailureThreshold)

	var server *http.Server
	if *listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}
		server = &http.Server{Addr: *listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("serving metrics and debug routes on %s", *listen)
	}

	rep := NewReplayer(params, store, string(cfgJSON), misbehaviour.MetricsObserver{Metrics: metrics})
	start := time.Now()
	runs, err := Replay(ctx, NewTraceReader(f), rep)
	if err != nil {
		log.Printf("replay finished with errors: %v", err)
	}
	log.Printf("replayed %d receivers in %s", len(runs), time.Since(start).Round(time.Millisecond))

	if err := printSummary(os.Stdout, store, runs); err != nil {
		log.Printf("failed to print summary: %v", err)
	}

	if server != nil {
		if *linger > 0 {
			log.Printf("lingering %s for scrapes; interrupt to exit", *linger)
			select {
			case <-time.After(*linger):
			case <-ctx.Done():
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}
}

// loadConfig reads path, or returns the built-in defaults when path is
// empty.
func loadConfig(path string) (*config.ChecksConfig, error) {
	if path == "" {
		cfg := &config.ChecksConfig{}
		return cfg, cfg.Validate()
	}
	return config.LoadChecksConfig(path)
}

// describeParams summarises the main thresholds, with speeds shown in the
// unit the config file was written in.
func describeParams(p misbehaviour.Params, unit string) string {
	if unit == "" {
		unit = units.MPS
	}
	return fmt.Sprintf("policy=%s max_speed=%.1f %s max_range=%.0f m trust_smoothing=%.2f",
		p.Policy, units.FromMPS(p.MaxPlausibleSpeed, unit), unit, p.MaxPlausibleRange, p.TrustSmoothing)
}

func printSummary(w io.Writer, store *db.DB, runs []RunResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, run := range runs {
		summaries, err := store.SenderSummaries(run.RunID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "receiver %d\trun %s\t%d checks\n", run.Receiver, run.RunID, run.Checked)
		fmt.Fprintln(tw, "  sender\tmessages\tlast trust\tmin trust\tmean trust\tfailed msgs\tuncertain\tout of order")
		for _, s := range summaries {
			fmt.Fprintf(tw, "  %d\t%d\t%.3f\t%.3f\t%.3f\t%d\t%d\t%d\n",
				s.Sender, s.Messages, s.LastTrust, s.MinTrust, s.MeanTrust,
				s.FailedMessages, s.Uncertain, s.OutOfOrder)
		}
	}
	return tw.Flush()
}
