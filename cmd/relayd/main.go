package main

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
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/auth/jwt"
	"github.com/patchline/relay/internal/auth/jwtauth"
	"github.com/patchline/relay/internal/common/config"
	"github.com/patchline/relay/internal/httpapi"
	"github.com/patchline/relay/internal/kv"
	"github.com/patchline/relay/internal/leadership"
	"github.com/patchline/relay/internal/reaper"
	"github.com/patchline/relay/internal/registry"
	"github.com/patchline/relay/internal/router"
	"github.com/patchline/relay/pkg/logger"
	"github.com/patchline/relay/pkg/metrics"
	"github.com/patchline/relay/pkg/trace"
	"github.com/patchline/relay/pkg/version"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of relayd",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current()
			fmt.Printf("relayd version %s (%s %s/%s)\n", info.Version, info.GoVersion, info.OS, info.Arch)
		},
	}

	rootCmd = &cobra.Command{
		Use:   "relayd",
		Short: "WebRTC signaling relay",
		Long:  `relayd is the signaling relay and controller-leadership coordinator for a fleet of WebRTC synths and controllers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "", "path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

func run() error {
	filename := configPath
	if filename == "" {
		filename = "relay.yaml"
	}
	cfg, cfgPath, err := config.LoadConfig(filename)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cfg.Logger.ServiceName == "" {
		cfg.Logger.ServiceName = "relayd"
	}
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer lg.Sync()
	lg.Info("loaded configuration", zap.String("path", cfgPath))

	instanceID := resolveInstanceID(cfg.Server.InstanceID)
	buildInfo := version.Current()
	lg.Info("starting relayd",
		zap.String("version", buildInfo.Version),
		zap.String("goVersion", buildInfo.GoVersion),
		zap.String("instanceId", instanceID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			lg.Warn("failed to shut down tracer", zap.Error(err))
		}
	}()

	store, err := kv.NewStore(lg, kv.Config{
		Backend:       kv.Backend(cfg.KV.Backend),
		Redis:         kv.RedisConfig(cfg.KV.Redis),
		SweepInterval: cfg.KV.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("initialize kv store: %w", err)
	}
	defer store.Close()

	var hintClient *redis.Client
	if cfg.Leadership.Hint.Enabled {
		hintClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Leadership.Hint.Redis.Addr,
			Username: cfg.Leadership.Hint.Redis.Username,
			Password: cfg.Leadership.Hint.Redis.Password,
			DB:       cfg.Leadership.Hint.Redis.DB,
		})
		defer hintClient.Close()
	}
	hint := leadership.NewPublisher(lg, hintClient)

	m := metrics.New(cfg.Metrics)

	ldr := leadership.New(lg, store, instanceID, hint)
	ldr.SetMetrics(m)

	hub := router.New(lg, store, ldr, instanceID)
	hub.SetMetrics(m)
	reg := registry.New(lg, store, hub, instanceID)
	reg.SetMetrics(m)
	hub.SetRegistry(reg)
	rpr := reaper.New(lg, reg)
	rpr.SetMetrics(m)
	hub.SetReaper(rpr)

	poller := leadership.NewPoller(lg, ldr, hub, cfg.Leadership.PollInterval)
	go poller.Run(ctx)
	if hintClient != nil {
		go leadership.RunHintSubscriber(ctx, lg, hintClient, poller)
	}

	jwtSvc, err := jwt.NewService(jwt.Config{SecretKey: cfg.Auth.JWTSecret, Duration: cfg.Auth.TokenTTL})
	if err != nil {
		return fmt.Errorf("initialize jwt service: %w", err)
	}
	authn := jwtauth.New(jwtSvc)

	httpSrv := httpapi.New(lg, store, ldr, hub, authn, m, *cfg)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: httpSrv.Engine(),
	}

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

// resolveInstanceID honors an explicit config value first, then
// RELAY_INSTANCE_ID (the equivalent of a platform-assigned deployment id
// on a PaaS), and finally mints a random one for bare-metal/dev runs.
func resolveInstanceID(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("RELAY_INSTANCE_ID"); env != "" {
		return env
	}
	return uuid.NewString()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
