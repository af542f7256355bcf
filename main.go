// server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vinizap/haku/server/config"
	"github.com/vinizap/haku/server/store"
)

var (
	configPath string
	cfg        config.Config
	logger     zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "haku",
	Short:         "Notes and todo trees with live sync",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger = newLogger(cfg, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $HAKU_CONFIG)")
	rootCmd.AddCommand(serveCmd(), migrateCmd(), exportCmd(), importCmd(), adminCmd(), watchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(c config.Config, w io.Writer) zerolog.Logger {
	if c.LogPretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(c.Level()).With().Timestamp().Logger()
}

var errNoDatabase = errors.New("no database configured: set HAKU_DATABASE_URL or database_url")

func openPostgres(ctx context.Context) (*store.Postgres, error) {
	if cfg.DatabaseURL == "" {
		return nil, errNoDatabase
	}
	return store.NewPostgres(ctx, cfg.DatabaseURL)
}
