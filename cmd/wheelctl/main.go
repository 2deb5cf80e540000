// Command wheelctl is a terminal client for the choice-wheel server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nantokaworks/choice-wheel/internal/docclient"
	"github.com/nantokaworks/choice-wheel/internal/env"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/shared/paths"
	"github.com/nantokaworks/choice-wheel/internal/version"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	cmd := &cli.Command{
		Name:    "wheelctl",
		Usage:   "spin shared wheels from the terminal",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Usage: "wheel server URL",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "API token (defaults to the one saved by login)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			loginCommand(),
			createCommand(),
			listCommand(),
			shareCommand(),
			spinCommand(),
			watchCommand(),
			historyCommand(),
			statsCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// setup は保存済みのログイン情報と環境変数を読み込む。
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	logger.Init(cmd.Bool("debug"))

	if err := godotenv.Load(paths.GetClientConfigPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load saved login", zap.Error(err))
	}
	if err := env.LoadEnv(); err != nil {
		return ctx, err
	}
	return ctx, nil
}

func serverURL(cmd *cli.Command) string {
	if s := cmd.Root().String("server"); s != "" {
		return s
	}
	return env.Value.Client.ServerURL
}

func newClient(cmd *cli.Command) *docclient.Client {
	token := cmd.Root().String("token")
	if token == "" {
		token = env.Value.Client.Token
	}
	return docclient.New(serverURL(cmd), token)
}

func requireClient(cmd *cli.Command) (*docclient.Client, error) {
	c := newClient(cmd)
	if c.Token == "" {
		return nil, errors.New("not signed in: run `wheelctl login --email you@example.com` first")
	}
	return c, nil
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.Args().First()
	if v == "" {
		return "", fmt.Errorf("missing argument: %s", name)
	}
	return v, nil
}
