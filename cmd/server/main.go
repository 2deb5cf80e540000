package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nantokaworks/choice-wheel/internal/env"
	"github.com/nantokaworks/choice-wheel/internal/eventbus"
	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/metrics"
	"github.com/nantokaworks/choice-wheel/internal/rbac"
	"github.com/nantokaworks/choice-wheel/internal/settings"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/shared/paths"
	"github.com/nantokaworks/choice-wheel/internal/sounds"
	"github.com/nantokaworks/choice-wheel/internal/version"
	"github.com/nantokaworks/choice-wheel/internal/webserver"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	if err := env.LoadEnv(); err != nil {
		logger.Fatal("Failed to load environment", zap.Error(err))
	}
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	info := version.Get()
	logger.Info("Starting choice-wheel server",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit))

	if env.Value.DataDir != "" {
		paths.SetDataDir(env.Value.DataDir)
	}
	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}

	db, err := localdb.SetupDB(paths.GetDBPath())
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}

	spinCfg := env.Value.Spin
	settings.ApplyDefaults(settings.NewSpinTiming(spinCfg.Duration, spinCfg.TickInterval, spinCfg.ExtraTurns, spinCfg.CompleteCooldown))
	settingsManager := settings.NewSettingsManager(db)
	if err := settingsManager.InitializeDefaultSettings(); err != nil {
		logger.Error("Failed to initialize default settings", zap.Error(err))
	}

	enforcer, err := rbac.NewEnforcer(paths.GetRBACPath())
	if err != nil {
		logger.Fatal("Failed to setup access control", zap.Error(err))
	}

	metrics.Register()

	soundsDir := paths.GetSoundsDir()
	if env.Value.SoundsDir != "" {
		soundsDir = env.Value.SoundsDir
	}

	srv := webserver.NewServer(webserver.Options{
		Store:          localdb.NewWheelStore(db),
		Enforcer:       enforcer,
		Settings:       settingsManager,
		Bus:            eventbus.New(),
		Sounds:         sounds.NewCatalog(soundsDir),
		PublicBaseURL:  env.Value.PublicBaseURL,
		AllowedOrigins: env.Value.AllowedOrigins,
		TxAttempts:     spinCfg.TxAttempts,
		ExtraTurns:     spinCfg.ExtraTurns,
	})

	// ACL DB を消しても起動時に再構築できる
	if err := srv.SyncAllACL(context.Background()); err != nil {
		logger.Error("Failed to sync wheel policies", zap.Error(err))
	}

	port := 8080
	if env.Value.ServerPort != 0 {
		port = env.Value.ServerPort
	}

	if err := webserver.StartWebServer(port, srv); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	logger.Info("Server started",
		zap.Int("port", port),
		zap.String("api", fmt.Sprintf("http://localhost:%d/api/", port)),
		zap.String("share_base", env.Value.PublicBaseURL))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	webserver.Shutdown(srv)
	if err := localdb.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
