package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/rbac"
	"github.com/nantokaworks/choice-wheel/internal/settings"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/shared/paths"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"github.com/nantokaworks/choice-wheel/internal/webserver"
	"go.uber.org/zap"
)

// 使い捨てのデータディレクトリで起動し、デモ用のユーザーとホイールを作る
func main() {
	logger.Init(true)
	defer logger.Sync()

	dir, err := os.MkdirTemp("", "choice-wheel-test-*")
	if err != nil {
		logger.Fatal("Failed to create temp data directory", zap.Error(err))
	}
	defer os.RemoveAll(dir)

	paths.SetDataDir(dir)
	if err := paths.EnsureDataDirs(); err != nil {
		logger.Fatal("Failed to ensure data directories", zap.Error(err))
	}
	logger.Info("Using temporary data directory", zap.String("path", dir))

	db, err := localdb.SetupDB(paths.GetDBPath())
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	settingsManager := settings.NewSettingsManager(db)
	if err := settingsManager.InitializeDefaultSettings(); err != nil {
		logger.Fatal("Failed to initialize settings", zap.Error(err))
	}
	enforcer, err := rbac.NewEnforcer(paths.GetRBACPath())
	if err != nil {
		logger.Fatal("Failed to setup access control", zap.Error(err))
	}

	port := 8080
	if portStr := os.Getenv("WHEEL_SERVER_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
			logger.Info("Using port from WHEEL_SERVER_PORT env", zap.Int("port", port))
		}
	}

	store := localdb.NewWheelStore(db)
	srv := webserver.NewServer(webserver.Options{
		Store:         store,
		Enforcer:      enforcer,
		Settings:      settingsManager,
		PublicBaseURL: fmt.Sprintf("http://localhost:%d", port),
	})

	user, token, wheel, err := seed(store)
	if err != nil {
		logger.Fatal("Failed to seed demo data", zap.Error(err))
	}
	if err := srv.SyncAllACL(context.Background()); err != nil {
		logger.Fatal("Failed to sync policies", zap.Error(err))
	}

	if err := webserver.StartWebServer(port, srv); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	fmt.Printf("Test server started on port %d\n", port)
	fmt.Printf("  user:  %s\n", user.Email)
	fmt.Printf("  token: %s\n", token)
	fmt.Printf("  wheel: %s (%s)\n", wheel.ID, wheel.Title)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nShutting down...")

	webserver.Shutdown(srv)
	_ = localdb.Close()
}

func seed(store *localdb.WheelStore) (types.User, string, types.Wheel, error) {
	user, err := localdb.EnsureUser("demo@example.com", "Demo")
	if err != nil {
		return types.User{}, "", types.Wheel{}, err
	}
	token, err := localdb.IssueToken(user.ID)
	if err != nil {
		return types.User{}, "", types.Wheel{}, err
	}
	wheel, err := store.Create(context.Background(), types.Wheel{
		Title:      "Lunch",
		Slices:     []string{"Ramen", "Sushi", "Curry", "Soba", "Pizza"},
		Visibility: types.VisibilityPublic,
		Owner:      user.ID,
	})
	if err != nil {
		return types.User{}, "", types.Wheel{}, err
	}
	return user, token, wheel, nil
}
