package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/afterdarksys/mockfactory/internal/api"
	"github.com/afterdarksys/mockfactory/internal/dnszone"
	"github.com/afterdarksys/mockfactory/internal/emu"
	"github.com/afterdarksys/mockfactory/internal/lifecycle"
	"github.com/afterdarksys/mockfactory/internal/metering"
	"github.com/afterdarksys/mockfactory/internal/objectstore"
	"github.com/afterdarksys/mockfactory/internal/ports"
	"github.com/afterdarksys/mockfactory/internal/provision"
	"github.com/afterdarksys/mockfactory/internal/runtime"
	"github.com/afterdarksys/mockfactory/internal/scheduler"
	"github.com/afterdarksys/mockfactory/internal/store"
	"github.com/afterdarksys/mockfactory/pkg/config"
	"github.com/afterdarksys/mockfactory/pkg/telemetry"
	"github.com/afterdarksys/mockfactory/pkg/version"
)

// ServeCmd starts the control plane: HTTP API, emulation surface, background
// schedulers, and the optional DNS responder.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control-plane server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	ServeCmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	ServeCmd.Flags().StringVar(&cfg.BaseDomain, "base-domain", cfg.BaseDomain, "Base domain for environment hostnames")
	ServeCmd.Flags().StringVar(&cfg.ConnectHost, "connect-host", cfg.ConnectHost, "Host clients use to reach provisioned ports")
	ServeCmd.Flags().StringVar(&cfg.DockerHost, "docker-host", cfg.DockerHost, "Container runtime socket")
	ServeCmd.Flags().BoolVar(&cfg.DNSEnabled, "dns", cfg.DNSEnabled, "Serve DNS records over UDP")
	ServeCmd.Flags().StringVar(&cfg.DNSListenAddr, "dns-listen", cfg.DNSListenAddr, "DNS responder listen address")
	ServeCmd.Flags().BoolVar(&cfg.SkipTelemetry, "skip-telemetry", cfg.SkipTelemetry, "Disable trace export")
}

func runServe(ctx context.Context) error {
	logger := newLogger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, "mockfactory", version.Current, cfg.OtelEndpoint)
		if err != nil {
			logger.Warn("telemetry init failed, continuing without traces", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownDrain)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	rt, err := runtime.NewDockerAdapter(cfg.DockerHost)
	if err != nil {
		return fmt.Errorf("connecting to container runtime: %w", err)
	}

	var obj objectstore.Store
	if cfg.ObjectStoreEndpoint != "" {
		obj, err = objectstore.NewS3Store(ctx, cfg.ObjectStoreEndpoint,
			cfg.ObjectStoreRegion, cfg.ObjectStoreKey, cfg.ObjectStoreSecret)
		if err != nil {
			return fmt.Errorf("connecting to object store: %w", err)
		}
	} else {
		logger.Warn("no object store configured, using in-memory backend")
		obj = objectstore.NewMemStore()
	}

	pa := ports.New(st, config.DefaultPortRangeStart, config.DefaultPortRangeEnd, logger)

	prov := provision.New(st, rt, obj, pa, cfg.ConnectHost, cfg.BaseDomain, logger)
	prov.ReadinessTimeout = cfg.ReadinessTimeout

	meter := metering.New(st, logger)

	lm := lifecycle.New(st, prov, meter, logger)
	lm.ProvisionDeadline = cfg.ProvisionDeadline

	records := dnszone.NewRecords(st)

	if cfg.DNSEnabled {
		resp := dnszone.NewResponder(st, logger)
		go func() {
			logger.Info("dns responder listening", "addr", cfg.DNSListenAddr)
			if err := resp.ListenAndServe(cfg.DNSListenAddr); err != nil {
				logger.Error("dns responder stopped", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownDrain)
			defer cancel()
			_ = resp.Shutdown(sctx)
		}()
	}

	router := emu.New(st, obj, rt, records, cfg.BaseDomain, logger)

	sched := scheduler.New(st, lm, meter, rt, logger)
	sched.AutoShutdownEvery = cfg.AutoShutdownPeriod
	sched.PortGCEvery = cfg.PortGCPeriod
	sched.PurgeEvery = cfg.PurgePeriod
	sched.ReconcileEvery = cfg.ReconcilePeriod
	go sched.Run(ctx)

	srv := &api.Server{
		Store:      st,
		Lifecycle:  lm,
		Prov:       prov,
		DNS:        records,
		Emu:        router,
		DailyQuota: config.DefaultDailyQuota,
		Logger:     logger,
	}

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control plane listening",
			"addr", cfg.ListenAddr, "base_domain", cfg.BaseDomain, "version", version.Current)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownDrain)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Error("graceful shutdown incomplete", "error", err)
	}
	return nil
}
