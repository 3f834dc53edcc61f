package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Remrin/common/spec/turnapi"
	"github.com/bdobrica/Remrin/common/trace"
	"github.com/bdobrica/Remrin/internal/remrin/app"
	"github.com/bdobrica/Remrin/internal/remrin/matrix"
)

func newChatCmd(opts *options) *cobra.Command {
	var (
		user      string
		personaID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Run one turn in-process",
		Long: "Runs one turn against the database using the LLM_* and EMBEDDING_* environment " +
			"variables, persists it like the service would and prints the reply.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ConfigFromEnv()
			if err != nil {
				return err
			}
			cfg.DatabasePath = opts.databasePath()
			cfg.HTTPAddr = ""
			cfg.Matrix = matrix.Config{}
			cfg.MatrixRooms = nil

			appOpts := opts.app
			appOpts.Logger = opts.logger()
			a, err := app.New(cfg, appOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := trace.WithTraceID(cmd.Context(), trace.GenerateID())
			resp, err := a.Turn(ctx, turnapi.TurnRequest{
				UserID:    user,
				PersonaID: personaID,
				Message:   strings.Join(args, " "),
			}, "cli")
			out := cmd.OutOrStdout()
			if err != nil {
				var te *turnapi.Error
				if errors.As(err, &te) && te.Body.Reply != "" {
					fmt.Fprintln(out, te.Body.Reply)
				}
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			fmt.Fprintln(out, resp.Reply)
			if len(resp.Degraded) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "degraded: %s\n", strings.Join(resp.Degraded, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID (required)")
	cmd.Flags().StringVarP(&personaID, "persona", "p", "", "Persona ID (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full turn response as JSON")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("persona")
	return cmd
}
