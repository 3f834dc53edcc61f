package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Remrin/internal/remrin/personas"
)

func newPersonaCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage persona documents and access",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check a persona document without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := personas.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%s, %s, toolSet %s)\n",
				cfg.ID, cfg.Name, cfg.SafetyLevel, cfg.ToolSet)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Upsert a persona and seed its locket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := personas.LoadFile(args[0])
			if err != nil {
				return err
			}
			db, repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer db.Close()

			seeded, err := repo.Import(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s: %d new locket entries\n", cfg.ID, seeded)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "grant PERSONA USER",
		Short: "Let a user converse with a private persona",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := repo.Get(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := repo.Grant(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete PERSONA",
		Short: "Soft-delete a persona; its memories and locket are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.SoftDelete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List live personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVISIBILITY\tCREATOR")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Visibility, p.CreatorID)
			}
			return w.Flush()
		},
	})
	return cmd
}
