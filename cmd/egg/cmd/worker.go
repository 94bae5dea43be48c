package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bingtaocn/egg/internal/cluster"
	"github.com/bingtaocn/egg/internal/config"
	"github.com/bingtaocn/egg/internal/server"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single worker process",
	Hidden: true,
	Long: `Run one egg worker process.

Normally spawned by "egg start": the master passes the shared listening
socket and a control pipe through inherited file descriptors, and the worker
signals readiness on the pipe once it is listening.

Can also run standalone (no inherited descriptors): the worker binds the
configured address itself, which is useful for debugging a single worker
without the master.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	workerID := os.Getenv(cluster.EnvWorkerID)
	if workerID == "" {
		workerID = "standalone-" + uuid.New().String()[:8]
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	})).With("worker_id", workerID)

	control := controlPipe()
	if control != nil {
		defer control.Close()
	}

	ln, err := workerListener(cfg)
	if err != nil {
		// Tell the master why startup failed before exiting; it reports
		// the cluster startup failure with this cause.
		if control != nil {
			_ = cluster.WriteMessage(control, cluster.Message{
				Type:     cluster.MessageGoodbye,
				WorkerID: workerID,
				Error:    err.Error(),
			})
		}
		return err
	}
	defer ln.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(reg)

	w := server.NewWorker(
		server.WithID(workerID),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithRequestTimeout(cfg.RequestTimeoutDuration()),
		server.WithReadySignal(func(addr net.Addr) {
			if control == nil {
				return
			}
			_ = cluster.WriteMessage(control, cluster.Message{
				Type:     cluster.MessageReady,
				WorkerID: workerID,
				Addr:     addr.String(),
			})
		}),
	)

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry: reg,
		}))
		mux.Handle("/health", server.NewHealthChecker(w, Version).Handler())
	}
	mux.Handle("/", appHandler(workerID))
	w.SetHandler(mux)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	serveErr := w.Serve(ctx, ln)

	if control != nil {
		_ = cluster.WriteMessage(control, cluster.Message{
			Type:     cluster.MessageGoodbye,
			WorkerID: workerID,
		})
	}
	return serveErr
}

// controlPipe opens the master's control pipe from the inherited descriptor,
// or returns nil when running standalone.
func controlPipe() *os.File {
	fdStr := os.Getenv(cluster.EnvControlFD)
	if fdStr == "" {
		return nil
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil || fd < 3 {
		return nil
	}
	return os.NewFile(uintptr(fd), "egg-control")
}

// workerListener resolves this worker's listener: the shared socket
// inherited from the master when present, otherwise a fresh bind of the
// configured spec.
func workerListener(cfg *config.Config) (net.Listener, error) {
	if fdStr := os.Getenv(cluster.EnvListenFD); fdStr != "" {
		fd, err := strconv.Atoi(fdStr)
		if err != nil || fd < 3 {
			return nil, fmt.Errorf("invalid %s value %q", cluster.EnvListenFD, fdStr)
		}
		f := os.NewFile(uintptr(fd), "egg-listener")
		defer f.Close()
		return server.FileListener(f)
	}

	spec := server.BindSpec{Host: cfg.Server.Host, Port: cfg.Server.Port}
	if cfg.Server.ReusePort {
		return server.ListenReusePort(spec)
	}
	return server.Listen(spec)
}

// appHandler is the placeholder application mounted on the worker. Real
// deployments replace it by embedding server.Worker with their own handler.
func appHandler(workerID string) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("X-Egg-Worker", workerID)
		rw.WriteHeader(http.StatusOK)
		fmt.Fprintf(rw, "hello from egg worker %s\n", workerID)
	})
}
