// Package paths はデータディレクトリ配下のファイルパスを解決する。
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const appDirName = "choice-wheel"

var (
	mu      sync.RWMutex
	dataDir string
)

// SetDataDir overrides the data directory. An empty dir restores the default.
func SetDataDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	dataDir = dir
}

// GetDataDir はデータディレクトリを返す。未設定ならユーザー設定ディレクトリ配下を使う。
func GetDataDir() string {
	mu.RLock()
	dir := dataDir
	mu.RUnlock()
	if dir != "" {
		return dir
	}

	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return filepath.Join(".", "data")
	}
	return filepath.Join(base, appDirName)
}

func GetDBPath() string {
	return filepath.Join(GetDataDir(), "wheel.db")
}

func GetRBACPath() string {
	return filepath.Join(GetDataDir(), "acl.db")
}

// GetClientConfigPath は wheelctl のログイン情報を保存する .env 形式のファイル。
func GetClientConfigPath() string {
	return filepath.Join(GetDataDir(), "wheelctl.env")
}

func GetSoundsDir() string {
	return filepath.Join(GetDataDir(), "sounds")
}

// EnsureDataDirs creates the data directory tree.
func EnsureDataDirs() error {
	for _, dir := range []string{GetDataDir(), GetSoundsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
