package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnTengye/contractdesk/model"
)

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contracts known to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			contracts, err := newSession(rootOpts.Config).client.ListContracts(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list contracts", err)
			}
			return rootOpts.output(cmd).Success(contracts, func(w io.Writer) {
				printContracts(w, contracts)
			})
		},
	}
}

func printContracts(w io.Writer, contracts []model.Contract) {
	if len(contracts) == 0 {
		fmt.Fprintln(w, "No contracts")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tSTATUS\tPROGRESS\tRISK\tUPLOADED")
	for _, c := range contracts {
		risk := c.RiskLevel
		if risk == "" {
			risk = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			c.ID, c.Filename, c.Status, c.Progress, risk, c.UploadTime.Local().Format(time.DateTime))
	}
	tw.Flush()
}
