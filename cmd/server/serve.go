package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/prasenjit/mockpit/internal/api"
	"github.com/prasenjit/mockpit/internal/config"
	"github.com/prasenjit/mockpit/internal/events"
	"github.com/prasenjit/mockpit/internal/history"
	"github.com/prasenjit/mockpit/internal/logging"
	"github.com/prasenjit/mockpit/internal/mock"
	"github.com/prasenjit/mockpit/internal/portability"
	"github.com/prasenjit/mockpit/internal/registry"
	"github.com/prasenjit/mockpit/internal/service"
	"github.com/prasenjit/mockpit/internal/stats"
	"github.com/prasenjit/mockpit/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mock and admin servers",
	Long: `Starts the mock server and the admin API.

The server will:
  - Load endpoints from the configured storage
  - Answer mock requests on the port from the settings (or --port)
  - Expose the Admin API at /api/ and live events at /ws on the admin port
  - Expose Prometheus metrics at /metrics when enabled

Configuration is loaded from config.yaml in the current directory,
or specify a custom config file with the --config flag.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Override the mock server port")
	serveCmd.Flags().Int("admin-port", 0, "Override the admin API port")
	serveCmd.Flags().String("ui-dir", "", "Serve a built admin UI from this directory")

	viper.BindPFlag("mock.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.adminPort", serveCmd.Flags().Lookup("admin-port"))
	viper.BindPFlag("server.uiDir", serveCmd.Flags().Lookup("ui-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging)

	if cfg.Storage.Type == config.StorageFile && !filepath.IsAbs(cfg.Storage.Path) {
		if abs, err := filepath.Abs(cfg.Storage.Path); err == nil {
			cfg.Storage.Path = abs
		}
	}
	log.WithFields(logrus.Fields{"type": cfg.Storage.Type, "path": cfg.Storage.Path}).Info("Opening storage")

	store, err := storage.New(cfg.Storage, cfg.History.MaxRecords)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	a, err := newApp(cfg, store, log)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.AdminPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin server listen on %s: %w", addr, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.run(ctx, ln)
}

// app holds the wired components of a running mockpit
type app struct {
	log    logrus.FieldLogger
	routes *registry.Registry
	hub    *events.Hub
	hist   *history.Service
	mock   *mock.Server
	router *api.Router
	admin  *http.Server
}

func newApp(cfg *config.Config, store storage.Storage, log logrus.FieldLogger) (*app, error) {
	routes := registry.New(store)
	if err := routes.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}
	hub := events.NewHub()

	envs := service.NewEnvironments(store, hub, log)
	hist := history.NewService(store, hub, log)
	collector := stats.NewCollector()

	handler := mock.NewHandler(routes, envs, store, hist, log)
	handler.Observe(collector)

	var metrics *prometheus.Registry
	if cfg.Metrics.Enabled {
		metrics = prometheus.NewRegistry()
		metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		handler.Observe(stats.NewMetrics(metrics, routes.Len, hub.SubscriberCount))
	}

	mockServer := mock.NewServer(handler, store, hub, log, cfg.Mock.Host, cfg.Mock.Port)

	// Imports reload routes through the endpoint service so they never
	// interleave with an admin change.
	endpoints := service.NewEndpoints(store, routes, hub, log)

	router := api.NewRouter(api.Services{
		Endpoints:    endpoints,
		Collections:  service.NewCollections(store, hub, log),
		Environments: envs,
		Settings:     service.NewSettings(store, hub, log),
		History:      hist,
		Portability:  portability.NewService(store, endpoints, hub, log),
		Stats:        collector,
		Routes:       routes,
		Hub:          hub,
		MockServer:   mockServer,
	}, api.Options{CORSOrigins: cfg.Server.CORSOrigins, Metrics: metrics}, log)

	if cfg.Server.UIDir != "" {
		router.ServeUIFromFS(cfg.Server.UIDir)
	}

	return &app{
		log:    log,
		routes: routes,
		hub:    hub,
		hist:   hist,
		mock:   mockServer,
		router: router,
		admin: &http.Server{
			Handler:           router.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}, nil
}

// run serves the admin API on ln and the mock server until ctx is done,
// then shuts both down
func (a *app) run(ctx context.Context, ln net.Listener) error {
	// A busy mock port is reported through /api/server/status; the admin
	// API still starts so the port can be changed.
	if err := a.mock.Start(); err != nil {
		a.log.WithError(err).Error("Mock server failed to start")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.WithField("routes", a.routes.Len()).Infof("Admin API listening on http://%s/api/", ln.Addr())
		if err := a.admin.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := errors.Join(
			a.admin.Shutdown(shutdownCtx),
			a.mock.Shutdown(shutdownCtx),
		)
		a.hist.Close()
		return err
	})

	err := g.Wait()
	a.log.Info("Server stopped")
	return err
}
