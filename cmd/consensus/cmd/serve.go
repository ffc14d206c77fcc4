package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/api"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the consensus HTTP API.

Endpoints:
  POST /api/v1/consult           run a consultation
  GET  /api/v1/threads/{id}      show a continuation thread
  GET  /api/v1/models            list configured models
  GET  /api/v1/stats             per-model call statistics
  GET  /metrics                  Prometheus metrics
  GET  /health                   liveness

Examples:
  # Start with the configured address (127.0.0.1:8787)
  quorum-consensus serve

  # Listen on every interface
  quorum-consensus serve --host 0.0.0.0 --port 9000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host address to bind to (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"Port to listen on (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	host := a.cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := a.cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	server := api.NewServer(a.engine, a.threads,
		api.WithLogger(a.logger),
		api.WithMetrics(a.metrics),
		api.WithModels(a.registry),
		api.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		api.WithRequestTimeout(requestTimeout(a.cfg, a.logger)),
	)
	a.logger.Info("models available", "models", a.registry.Models(), "thread_backend", a.cfg.Threads.Backend)
	return server.ListenAndServe(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
}

// requestTimeout returns the configured HTTP request limit, deriving it from
// the consultation budget when unset.
func requestTimeout(cfg *config.Config, logger *logging.Logger) time.Duration {
	budget := cfg.ConsultationBudget()
	configured := cfg.Server.RequestTimeout
	if configured <= 0 {
		return budget
	}
	if configured < budget {
		logger.Warn("server.request_timeout is shorter than a full consultation; slow consultations will be cut off",
			"request_timeout", configured, "consultation_budget", budget)
	}
	return configured
}
