package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/service"
)

func NewTypesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Browse and extend the contract type catalog",
	}

	cmd.AddCommand(newTypesListCommand(rootOpts))
	cmd.AddCommand(newTypesGetCommand(rootOpts))
	cmd.AddCommand(newTypesCreateCommand(rootOpts))

	return cmd
}

func newTypesListCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contract types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := newSession(rootOpts.Config).client.ListContractTypes(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list contract types", err)
			}
			if !all {
				types = service.ActiveTypes(types)
			}
			return rootOpts.output(cmd).Success(types, func(w io.Writer) {
				printTypes(w, types)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include inactive types")

	return cmd
}

func newTypesGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get CODE",
		Short: "Show one contract type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := newSession(rootOpts.Config).client.GetContractType(commandContext(cmd), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to fetch contract type", err)
			}
			return rootOpts.output(cmd).Success(ct, func(w io.Writer) {
				printTypes(w, []model.ContractType{*ct})
			})
		},
	}
}

func newTypesCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		in          model.ContractTypeCreate
		description string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a contract type to the catalog",
		Long: `Add a contract type to the catalog.

Examples:
  contractdesk types create --code GIFT --name "Gift Contract"
  contractdesk types create --code AGENCY --name "Agency Agreement" --workflow quick_approval`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			ct, err := newSession(rootOpts.Config).client.CreateContractType(commandContext(cmd), in)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create contract type", err)
			}
			return rootOpts.output(cmd).Success(ct, func(w io.Writer) {
				fmt.Fprintf(w, "created %s (%s)\n", ct.TypeCode, ct.DefaultWorkflow)
			})
		},
	}

	cmd.Flags().StringVar(&in.TypeCode, "code", "", "type code (required)")
	_ = cmd.MarkFlagRequired("code")
	cmd.Flags().StringVar(&in.TypeName, "name", "", "display name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&in.DefaultWorkflow, "workflow", "", "default workflow ("+
		model.WorkflowStandard+"|"+model.WorkflowQuick+"|"+model.WorkflowStrict+")")

	return cmd
}

func printTypes(w io.Writer, types []model.ContractType) {
	if len(types) == 0 {
		fmt.Fprintln(w, "No contract types")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tWORKFLOW\tACTIVE")
	for _, ct := range types {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", ct.TypeCode, ct.TypeName, ct.DefaultWorkflow, ct.IsActive)
	}
	tw.Flush()
}
