// server/watch.go
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vinizap/haku/server/client"
	"github.com/vinizap/haku/server/state"
	"github.com/vinizap/haku/server/worker"
)

// reloader is the terminal stand-in for a waiting service worker: taking
// over means dropping the cached view and loading it again.
type reloader struct {
	layer *client.Layer
}

func (r reloader) SkipWaiting(ctx context.Context) error {
	return r.layer.Refresh(ctx)
}

func watchCmd() *cobra.Command {
	var (
		serverURL string
		token     string
		statePath string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a server's live changes from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if statePath == "" {
				dir, err := os.UserConfigDir()
				if err != nil {
					return err
				}
				statePath = filepath.Join(dir, "haku", "state.db")
			}
			if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
				return err
			}
			kv, err := state.OpenSQLiteKV(ctx, statePath)
			if err != nil {
				return err
			}
			defer kv.Close()
			ui, err := state.Open(ctx, kv)
			if err != nil {
				return err
			}

			origin := uuid.NewString()
			api := client.NewAPI(serverURL, token, origin)
			layer := client.NewLayer(api, logger)
			unsubscribe := layer.Subscribe(func(c client.Change) {
				ev := logger.Info().Str("change", c.Kind.String())
				if c.Target != "" {
					ev = ev.Str("target", c.Target)
				}
				ev.Int("items", len(layer.Items())).Msg("content updated")
			})
			defer unsubscribe()
			state.Select(ui, func(s state.Snapshot) bool { return s.Online }, func(online bool) {
				logger.Info().Bool("online", online).Msg("connectivity changed")
			})

			dispatcher := worker.NewDispatcher(reloader{layer: layer}, logger)
			live, err := client.NewLive(serverURL, token, origin, ui, dispatcher, layer, logger)
			if err != nil {
				return err
			}
			return live.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("HAKU_TOKEN"), "session token (default $HAKU_TOKEN)")
	cmd.Flags().StringVar(&statePath, "state", "", "client state database (default <user config dir>/haku/state.db)")
	return cmd
}
