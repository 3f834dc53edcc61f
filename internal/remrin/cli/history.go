package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Remrin/internal/remrin/memory"
	"github.com/bdobrica/Remrin/internal/remrin/relationship"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		user      string
		personaID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the recent transcript and relationship tier of a pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, repo, err := opts.openRepository()
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := repo.Get(cmd.Context(), personaID); err != nil {
				return err
			}
			mem := memory.NewSQLiteStore(db.DB(), opts.logger())
			count, err := mem.CountMessages(cmd.Context(), user, personaID)
			if err != nil {
				return err
			}
			records, err := mem.Recent(cmd.Context(), personaID, user, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			status := relationship.Default.Evaluate(count)
			fmt.Fprintf(out, "%s (%d messages exchanged)\n", status.Tier, status.Count)
			for _, r := range records {
				fmt.Fprintf(out, "%s  %-9s %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.Role, oneLine(r.Content))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID (required)")
	cmd.Flags().StringVarP(&personaID, "persona", "p", "", "Persona ID (required)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Max records")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("persona")
	return cmd
}

func newTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Print the relationship tier table",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, l := range relationship.Default.Levels() {
				fmt.Fprintf(cmd.OutOrStdout(), "%5d  %s\n", l.Threshold, l.Tier)
			}
		},
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
