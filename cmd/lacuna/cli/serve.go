package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacunahq/lacuna/internal/server"
	"github.com/lacunahq/lacuna/internal/service"
)

const banner = `
 _        _    ___ _   _ _  _   _
| |      / \  / __| | | | \| | / \
| |__   / _ \| (__| |_| | .  |/ _ \
|____| /_/ \_\\___|\___,_|_|\_/_/ \_\
`

func newServeCmd() *cobra.Command {
	var (
		port    int
		host    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Lacuna API server",
		Long:  "Start the HTTP server that exposes key management, validation, and usage metering endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, verbose)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, verbose bool) error {
	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(verbose)

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("credential store opened", "driver", storeDriverName())

	authSvc := service.NewAuthService(st, jwtSecret(), logger)
	usageSvc := service.NewUsageService(st, logger)

	// First-run hint: the management API is unusable without an admin.
	hasAdmin, err := st.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin accounts", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: lacuna admin create")
	}

	cfg := server.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	if origins := viper.GetStringSlice("server.cors.origins"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	if viper.IsSet("server.rate_per_minute") {
		cfg.RatePerMinute = viper.GetInt("server.rate_per_minute")
	}
	if viper.IsSet("server.key_rate_per_minute") {
		cfg.KeyRatePerMinute = viper.GetInt("server.key_rate_per_minute")
	}
	if header := viper.GetString("auth.api_key_header"); header != "" {
		cfg.APIKeyHeader = header
	}
	if raw := viper.GetString("server.shutdown_timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.ShutdownTimeout = d
		}
	}

	srv := server.New(cfg, st, authSvc, usageSvc, logger)

	fmt.Printf("→ Lacuna %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}

func storeDriverName() string {
	if viper.GetString("store.driver") == "postgres" {
		return "postgres"
	}
	return "sqlite"
}
