// server/serve.go
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinizap/haku/server/auth"
	httpapi "github.com/vinizap/haku/server/http"
	"github.com/vinizap/haku/server/store"
	"github.com/vinizap/haku/server/ws"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var (
		memory     bool
		sessions   []string
		runMigrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var st store.Store
			if memory {
				mem := store.NewMemory()
				seeded, err := parseSessions(sessions)
				if err != nil {
					return err
				}
				for token, user := range seeded {
					mem.AddSession(token, user)
				}
				logger.Warn().Int("sessions", len(seeded)).Msg("using in-memory store; content is lost on exit")
				st = mem
			} else {
				if runMigrate {
					if cfg.DatabaseURL == "" {
						return errNoDatabase
					}
					if err := store.Migrate(cfg.DatabaseURL, store.Up); err != nil {
						return err
					}
				}
				pg, err := openPostgres(ctx)
				if err != nil {
					return err
				}
				defer pg.Close()
				st = pg
			}

			keyHash, err := auth.HashKey(cfg.AdminKey)
			if err != nil {
				return err
			}
			if keyHash == nil {
				logger.Warn().Msg("no admin key configured; admin routes are disabled")
			}

			hub := ws.NewHub(logger)
			go hub.Run(ctx)

			app := httpapi.NewServer(st, hub, keyHash, logger).App(cfg.CORSOrigins)
			go func() {
				<-ctx.Done()
				if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
					logger.Error().Err(err).Msg("shutdown failed")
				}
			}()

			logger.Info().Str("addr", cfg.Addr).Bool("memory", memory).Msg("server starting")
			if err := app.Listen(cfg.Addr); err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "keep content in memory instead of Postgres")
	cmd.Flags().StringSliceVar(&sessions, "session", nil, "token=user session to accept with --memory (repeatable)")
	cmd.Flags().BoolVar(&runMigrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

// parseSessions reads token=user pairs.
func parseSessions(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		token, user, ok := strings.Cut(p, "=")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("session %q: want token=user", p)
		}
		out[token] = user
	}
	return out, nil
}
