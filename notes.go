// server/notes.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/vinizap/haku/server/filesystem"
)

func exportCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Write a user's notes as markdown files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openPostgres(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := filesystem.Export(cmd.Context(), st, user, args[0])
			if err != nil {
				return err
			}
			logger.Info().Str("user", user).Str("dir", args[0]).Int("notes", n).Msg("export finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID whose notes are exported")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func importCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Create or update a user's notes from markdown files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openPostgres(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := filesystem.Import(cmd.Context(), st, user, args[0])
			for _, path := range res.Skipped {
				logger.Warn().Str("file", path).Msg("skipped unreadable note")
			}
			if err != nil {
				return err
			}
			logger.Info().
				Str("user", user).
				Int("created", res.Created).
				Int("updated", res.Updated).
				Int("skipped", len(res.Skipped)).
				Msg("import finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID that receives the notes")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
