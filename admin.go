// server/admin.go
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func adminCmd() *cobra.Command {
	email := &cobra.Command{
		Use:   "email",
		Short: "Manage the registration allow-list",
	}
	email.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List allowed emails",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := openPostgres(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()

				emails, err := st.AllowedEmails(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tEMAIL\tADDED")
				for _, e := range emails {
					fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.Email, e.CreatedAt.Format("2006-01-02"))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "add <email>",
			Short: "Allow an email to register",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := openPostgres(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()

				e, err := st.AddAllowedEmail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Remove an allowed email",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := openPostgres(cmd.Context())
				if err != nil {
					return err
				}
				defer st.Close()
				return st.DeleteAllowedEmail(cmd.Context(), args[0])
			},
		},
	)

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative tasks",
	}
	cmd.AddCommand(email)
	return cmd
}
