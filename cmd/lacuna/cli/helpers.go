package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/lacunahq/lacuna/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// the LACUNA_DATA_DIR env var, or ~/.lacuna as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("LACUNA_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.lacuna"
}

// openStore opens the credential store according to the configured driver:
// "postgres" with a DSN, or the embedded SQLite store under the data dir.
func openStore() (*store.Store, error) {
	driver := viper.GetString("store.driver")
	if driver == "postgres" {
		dsn := viper.GetString("store.dsn")
		if dsn == "" {
			return nil, fmt.Errorf("store.driver is postgres but store.dsn is empty")
		}
		return store.OpenPostgres(dsn)
	}
	return store.NewStore(resolveDataDir())
}

// newLogger builds a slog.Logger from the logging config. Unknown levels and
// formats fall back to info/text.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("logging.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(viper.GetString("logging.format")) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// jwtSecret returns the configured JWT signing secret, falling back to a
// development-only default.
func jwtSecret() string {
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		secret = "lacuna-dev-secret-change-me"
	}
	return secret
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
