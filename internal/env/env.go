// Package env は .env と環境変数から起動設定を読み込む。
package env

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"
)

// Prefix is prepended to every variable name.
const Prefix = "WHEEL_"

// SpinConfig はスピン演出とプロトコルのタイミング設定。
type SpinConfig struct {
	Duration         time.Duration `env:"DURATION, default=4200ms"`
	TickInterval     time.Duration `env:"TICK_INTERVAL, default=120ms"`
	ExtraTurns       int           `env:"EXTRA_TURNS, default=6"`
	CompleteCooldown time.Duration `env:"COMPLETE_COOLDOWN, default=2s"`
	TxAttempts       uint          `env:"TX_ATTEMPTS, default=5"`
}

// ClientConfig is used by wheelctl.
type ClientConfig struct {
	ServerURL string `env:"SERVER_URL, default=http://localhost:8080"`
	Token     string `env:"TOKEN"`
	Email     string `env:"EMAIL"`
}

type EnvValue struct {
	ServerPort     int          `env:"SERVER_PORT, default=8080"`
	DebugMode      bool         `env:"DEBUG_MODE, default=false"`
	DataDir        string       `env:"DATA_DIR"`
	PublicBaseURL  string       `env:"PUBLIC_BASE_URL, default=http://localhost:8080"`
	AllowedOrigins []string     `env:"ALLOWED_ORIGINS"`
	SoundsDir      string       `env:"SOUNDS_DIR"`
	Spin           SpinConfig   `env:", prefix=SPIN_"`
	Client         ClientConfig `env:", prefix=CLIENT_"`
}

var Value EnvValue

// LoadEnv は .env を読み込んだ上で WHEEL_ 付きの環境変数を Value に展開する。
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	return LoadEnvWith(context.Background(), envconfig.OsLookuper())
}

// LoadEnvWith fills Value from the given lookuper.
func LoadEnvWith(ctx context.Context, lookuper envconfig.Lookuper) error {
	var v EnvValue
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &v,
		Lookuper: envconfig.PrefixLookuper(Prefix, lookuper),
	})
	if err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}

	if v.Spin.ExtraTurns < 0 {
		v.Spin.ExtraTurns = 0
	}
	if v.Spin.TxAttempts == 0 {
		v.Spin.TxAttempts = 1
	}

	Value = v
	return nil
}
