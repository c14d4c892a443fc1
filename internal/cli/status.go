package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show the processing status of a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			status, err := newSession(rootOpts.Config).client.GetStatus(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to fetch status", err)
			}
			return rootOpts.output(cmd).Success(status, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %d%%", status.Status, status.Progress)
				if status.CurrentStep != "" {
					fmt.Fprintf(w, "  %s", status.CurrentStep)
				}
				fmt.Fprintln(w)
			})
		},
	}
}
