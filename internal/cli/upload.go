package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/service"
)

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	*RootOptions
	ContractType string
	Amount       float64
	Urgency      string
	Watch        bool
	Timeout      time.Duration
}

// UploadResult is what upload reports for an accepted file.
type UploadResult struct {
	ExecutionID  string          `json:"execution_id"`
	WorkflowUsed string          `json:"workflow_used"`
	Contract     *model.Contract `json:"contract,omitempty"`
}

func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Submit a contract for analysis",
		Long: `Upload a contract document. The backend picks a workflow from the
optional hints and answers with an execution id.

With --watch the command stays attached to the live progress channel until
the contract is completed or has failed.

Examples:
  contractdesk upload msa.pdf
  contractdesk upload lease.pdf --type LEASE --amount 120 --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ContractType, "type", "", "contract type code hint")
	cmd.Flags().Float64Var(&opts.Amount, "amount", 0, "contract amount hint")
	cmd.Flags().StringVar(&opts.Urgency, "urgency", "", "urgency hint (low|normal|high)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "follow progress until the contract finishes")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "how long --watch waits")

	return cmd
}

func runUpload(cmd *cobra.Command, opts *UploadOptions, path string) error {
	ctx := commandContext(cmd)
	out := opts.output(cmd)

	file, f, err := service.OpenUploadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot read "+path, err)
	}
	defer f.Close()

	hints := service.UploadHints{
		ContractType: opts.ContractType,
		Urgency:      opts.Urgency,
	}
	if cmd.Flags().Changed("amount") {
		amount := opts.Amount
		hints.Amount = &amount
	}

	s := newSession(opts.Config)
	defer s.close()

	if !opts.Watch {
		res, err := s.uploader.Submit(ctx, file, hints)
		if err != nil {
			return uploadError(err)
		}
		return out.Success(UploadResult{ExecutionID: res.ID, WorkflowUsed: res.WorkflowUsed}, func(w io.Writer) {
			fmt.Fprintf(w, "%s\t%s\n", res.ID, res.WorkflowUsed)
		})
	}

	if err := s.connect(); err != nil {
		return WrapExitError(ExitCommandError, "failed to open progress channel", err)
	}
	res, err := s.tracker.Submit(ctx, file, hints)
	if err != nil {
		return uploadError(err)
	}
	out.Progress("%s\t%s", res.ID, res.WorkflowUsed)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	final, err := waitForTerminal(ctx, s.store, res.ID, progressPrinter(out))
	if err != nil {
		return WrapExitError(ExitCommandError, "stopped watching "+res.ID, err)
	}
	if err := out.Success(UploadResult{ExecutionID: res.ID, WorkflowUsed: res.WorkflowUsed, Contract: &final}, func(w io.Writer) {
		printOutcome(w, final)
	}); err != nil {
		return err
	}
	return outcomeError(final)
}

func uploadError(err error) error {
	switch {
	case errors.Is(err, service.ErrNoFile),
		errors.Is(err, service.ErrUnsupportedFile),
		errors.Is(err, service.ErrFileTooLarge):
		return WrapExitError(ExitCommandError, "upload rejected", err)
	}
	return WrapExitError(ExitCommandError, "upload failed", err)
}

func progressPrinter(out *OutputFormatter) func(model.Contract) {
	return func(c model.Contract) {
		if c.Terminal() {
			return
		}
		out.Progress("%3d%%  %s", c.Progress, c.CurrentStep)
	}
}

func printOutcome(w io.Writer, c model.Contract) {
	switch c.Status {
	case model.StatusCompleted:
		fmt.Fprintf(w, "completed  risk=%s", c.RiskLevel)
		if c.ReportURL != "" {
			fmt.Fprintf(w, "  report=%s", c.ReportURL)
		}
		fmt.Fprintln(w)
	case model.StatusFailed:
		fmt.Fprintf(w, "failed  %s\n", c.ErrorMsg)
	default:
		fmt.Fprintf(w, "%s  %d%%  %s\n", c.Status, c.Progress, c.CurrentStep)
	}
}

// outcomeError turns a failed contract into a non-zero exit.
func outcomeError(c model.Contract) error {
	if c.Status == model.StatusFailed {
		return NewExitError(ExitFailure, fmt.Sprintf("contract %s failed: %s", c.ID, c.ErrorMsg))
	}
	return nil
}
