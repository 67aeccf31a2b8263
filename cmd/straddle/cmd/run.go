package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/broker/kite"
	"github.com/rustyeddy/straddle/broker/paper"
	"github.com/rustyeddy/straddle/config"
	"github.com/rustyeddy/straddle/control"
	"github.com/rustyeddy/straddle/internal/logging"
	"github.com/rustyeddy/straddle/journal"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/session"
	"github.com/rustyeddy/straddle/status"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the strategy supervisor",
	Long: `Run the strategy for the configured underlying.

With redis.enabled the supervisor waits for the dashboard inputs and
follows start, stop and exit-all commands. Otherwise the file's strategy
section starts immediately.

Example:
  straddle run -f nifty.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logrus.StandardLogger()
	closer, err := logging.Setup(logger, cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "straddle." + cfg.Underlying,
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("start profiler: %w", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	gw, err := newGateway(cfg.Gateway)
	if err != nil {
		return err
	}

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := status.Multi{status.NewLogger()}
	var hub *status.Hub
	if cfg.Telemetry.Addr != "" {
		hub = status.NewHub()
		sinks = append(sinks, hub)
	}

	var ctl session.Control = session.Static{Config: cfg.FileStrategy()}
	if cfg.Redis.Enabled {
		r := control.Dial(cfg.Redis)
		defer r.Close()
		if err := r.Ping(ctx); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		r.SetSymbol(cfg.Underlying)
		hook := control.NewLogHook(r.Client())
		defer hook.Close()
		logger.AddHook(hook)
		published := status.NewAsync(r, 256)
		defer published.Close()
		sinks = append(sinks, published)
		ctl = r
	}

	fmt.Printf("Running %s strategy (gateway %s, journal %s)\n", cfg.Underlying, cfg.Gateway.Type, cfg.Journal.Type)

	deps := session.Deps{
		Gateway:   gw,
		Ledger:    ledger.New(),
		Journal:   j,
		Sink:      sinks,
		Execution: cfg.Execution,
	}
	sup := session.NewSupervisor(ctl, deps, cfg.Underlying, cfg.Expiry, uuid.NewString)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok\n"))
		})
		mux.Handle("/metrics", promhttp.Handler())
		serve(gctx, g, "metrics", &http.Server{Addr: cfg.Metrics.Addr, Handler: mux})
	}
	if hub != nil {
		g.Go(func() error { return hub.Run(gctx) })
		serve(gctx, g, "telemetry", &http.Server{Addr: cfg.Telemetry.Addr, Handler: hub.Handler()})
	}
	g.Go(func() error {
		defer stop()
		return sup.Run(gctx)
	})

	err = g.Wait()
	sinks.Status(context.Background(), status.StateStopped, "Strategy has stopped")
	fmt.Printf("Day realized P/L: %.2f\n", deps.Ledger.DayRealized())
	return err
}

func newGateway(cfg config.GatewayConfig) (broker.Gateway, error) {
	switch cfg.Type {
	case "kite":
		var timeout time.Duration
		if cfg.Timeout != "" {
			d, err := time.ParseDuration(cfg.Timeout)
			if err != nil {
				return nil, fmt.Errorf("gateway.timeout: %w", err)
			}
			timeout = d
		}
		return kite.NewClient(cfg.APIKey, cfg.AccessToken, cfg.BaseURL, timeout), nil
	case "paper":
		mode, err := paper.ParseFillMode(cfg.PaperFill)
		if err != nil {
			return nil, err
		}
		return paper.New(mode), nil
	default:
		return nil, fmt.Errorf("unknown gateway type %q", cfg.Type)
	}
}

// serve runs srv in g and shuts it down when ctx is done.
func serve(ctx context.Context, g *errgroup.Group, name string, srv *http.Server) {
	g.Go(func() error {
		logrus.WithField("component", name).Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
