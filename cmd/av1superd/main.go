// Command av1superd runs the AV1 re-encoding supervisor: it scans
// configured library roots, admits candidates past the size/codec gate,
// drives each through av1an under a bounded concurrency budget, and
// atomically replaces originals that shrink enough to keep.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/gwlsn/av1superd/internal/auth"
	oidcauth "github.com/gwlsn/av1superd/internal/auth/oidc"
	passwordauth "github.com/gwlsn/av1superd/internal/auth/password"
	"github.com/gwlsn/av1superd/internal/concurrency"
	"github.com/gwlsn/av1superd/internal/config"
	"github.com/gwlsn/av1superd/internal/encode"
	"github.com/gwlsn/av1superd/internal/executor"
	"github.com/gwlsn/av1superd/internal/jobstore"
	"github.com/gwlsn/av1superd/internal/metrics"
	"github.com/gwlsn/av1superd/internal/metricsserver"
	"github.com/gwlsn/av1superd/internal/notify"
	"github.com/gwlsn/av1superd/internal/probe"
	"github.com/gwlsn/av1superd/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "/etc/av1superd/config.yaml", "path to the YAML config file")
	flag.Parse()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		slog.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		slog.Warn("main: failed to set GOMAXPROCS from cgroup quota", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("main: failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runPreflight(ctx, cfg); err != nil {
		slog.Error("main: preflight checks failed", "error", err)
		os.Exit(1)
	}

	plan := concurrency.Derive(concurrency.Inputs{
		LogicalCores:              cfg.CPU.LogicalCores,
		TargetUtilization:         cfg.CPU.TargetCPUUtilization,
		WorkersPerJobOverride:     cfg.Av1an.WorkersPerJob,
		MaxConcurrentJobsOverride: cfg.Av1an.MaxConcurrentJobs,
		DetectedCores:             detectCores(),
	})
	slog.Info("main: concurrency plan derived",
		"total_cores", plan.TotalCores,
		"target_threads", plan.TargetThreads,
		"workers_per_job", plan.WorkersPerJob,
		"max_concurrent_jobs", plan.MaxConcurrentJobs,
	)

	store, err := jobstore.NewStore(cfg.Paths.JobStateDir)
	if err != nil {
		slog.Error("main: failed to open job store", "error", err)
		os.Exit(1)
	}

	shared := metrics.NewShared()
	notifier := notify.NewClient(
		cfg.Notify.Ntfy.ServerURL,
		cfg.Notify.Ntfy.Topic,
		cfg.Notify.Ntfy.Token,
		cfg.Notify.Ntfy.OnComplete,
		cfg.Notify.Ntfy.OnFailure,
	)

	exec := executor.New(plan, store, shared, notifier, executor.Config{
		MaxSizeRatio:    cfg.Gates.MaxSizeRatio,
		KeepOriginal:    cfg.Gates.KeepOriginal,
		WriteWhySidecar: cfg.Scan.WriteWhySidecars,
		TempBaseDir:     cfg.Paths.TempOutputDir,
		Av1anPath:       cfg.Av1anPath,
	})
	prober := probe.NewAdapter(cfg.FFprobePath)

	sup := supervisor.New(cfg, plan, store, exec, shared, prober)

	provider, err := buildAuthProvider(ctx, cfg)
	if err != nil {
		slog.Error("main: failed to initialize auth provider", "mode", cfg.Auth.Mode, "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    cfg.Metrics.ListenAddr,
		Handler: metricsserver.New(shared, provider),
	}

	go func() {
		slog.Info("main: metrics server listening", "addr", cfg.Metrics.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("main: metrics server exited", "error", err)
		}
	}()

	sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("main: metrics server shutdown error", "error", err)
	}
}

func runPreflight(ctx context.Context, cfg *config.Config) error {
	configuredPaths := []string{cfg.Av1anPath, cfg.FFmpegPath, cfg.FFprobePath}
	if err := encode.CheckArgsForHardwareFlags(configuredPaths, cfg.EncoderSafety.DisallowHardwareEncoding); err != nil {
		return err
	}
	if err := encode.CheckAv1anAvailable(ctx, cfg.Av1anPath); err != nil {
		return err
	}
	if err := encode.CheckFFmpegVersion(ctx, cfg.FFmpegPath); err != nil {
		return err
	}
	return nil
}

func buildAuthProvider(ctx context.Context, cfg *config.Config) (auth.Provider, error) {
	switch cfg.Auth.Mode {
	case "", "none":
		return nil, nil
	case "password":
		return passwordauth.NewProvider(cfg.Auth.Password.Username, cfg.Auth.Password.Hash, cfg.Auth.Password.Algo)
	case "oidc":
		return oidcauth.NewProvider(
			ctx,
			cfg.Auth.OIDC.Issuer,
			cfg.Auth.OIDC.ClientID,
			cfg.Auth.OIDC.ClientSecret,
			cfg.Auth.OIDC.RedirectURL,
			cfg.Auth.OIDC.Scopes,
			cfg.Auth.OIDC.GroupClaim,
			cfg.Auth.OIDC.AllowedGroups,
			cfg.Auth.OIDC.SessionSecret,
		)
	default:
		return nil, nil
	}
}

func detectCores() int {
	return runtime.NumCPU()
}
