package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Remrin/internal/remrin/locket"
)

func newLocketCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locket",
		Short: "Inspect and extend a persona's locket",
	}

	var user string
	list := &cobra.Command{
		Use:   "list PERSONA",
		Short: "Print locket entries in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := repo.Get(cmd.Context(), args[0]); err != nil {
				return err
			}
			store := locket.NewSQLiteStore(db.DB())
			var entries []locket.Entry
			if user != "" {
				entries, err = store.ListForScope(cmd.Context(), args[0], user)
			} else {
				entries, err = store.ListForPersona(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				scope := "*"
				if e.UserID != "" {
					scope = e.UserID
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", e.ID, e.Provenance, scope, e.Content)
			}
			return nil
		},
	}
	list.Flags().StringVarP(&user, "user", "u", "", "Show only what a turn for this user would see")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "add PERSONA TEXT...",
		Short: "Append a seeded, persona-wide entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := repo.Get(cmd.Context(), args[0]); err != nil {
				return err
			}
			content := strings.Join(args[1:], " ")
			id, err := locket.NewSQLiteStore(db.DB()).Append(cmd.Context(), args[0], content, locket.Seeded)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})
	return cmd
}
