package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AnTengye/contractdesk/pkg/logger"
	"github.com/AnTengye/contractdesk/service"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Output  string
	Presign bool
	URL     bool
}

func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report ID",
		Short: "Download the risk report of a completed contract",
		Long: `Download the risk report of a completed contract.

The report is read from object storage when minio.endpoint is configured,
and from the report URL the backend announced otherwise.

Examples:
  contractdesk report 6f1c... -o report.json
  contractdesk report 6f1c... --presign
  contractdesk report 6f1c... --url`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the report to FILE instead of stdout")
	cmd.Flags().BoolVar(&opts.Presign, "presign", false, "print a time-limited download URL instead (object storage only)")
	cmd.Flags().BoolVar(&opts.URL, "url", false, "print the report's object storage URL, for public buckets")
	cmd.MarkFlagsMutuallyExclusive("presign", "url")

	return cmd
}

func runReport(cmd *cobra.Command, opts *ReportOptions, id string) error {
	ctx := commandContext(cmd)

	if opts.Presign || opts.URL {
		reports, err := service.NewReportService(&opts.Config.Minio)
		if err != nil {
			return WrapExitError(ExitCommandError, "object storage is not configured", err)
		}
		url := reports.GetPublicURL(id)
		if opts.Presign {
			if url, err = reports.PresignedURL(ctx, id); err != nil {
				return WrapExitError(ExitCommandError, "failed to presign report", err)
			}
		}
		return opts.output(cmd).Success(map[string]string{"execution_id": id, "url": url}, func(w io.Writer) {
			fmt.Fprintln(w, url)
		})
	}

	report, err := fetchReport(ctx, newSession(opts.Config), id)
	if err != nil {
		return err
	}

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(report)
		return err
	}
	if err := os.WriteFile(opts.Output, report, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write "+opts.Output, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(report), opts.Output)
	return nil
}

// fetchReport prefers object storage and falls back to the backend's report URL.
func fetchReport(ctx context.Context, s *session, id string) ([]byte, error) {
	if s.cfg.Minio.Endpoint != "" {
		report, err := downloadStored(ctx, s, id)
		if err == nil {
			return report, nil
		}
		logger.Warn(logger.WithExecutionID(ctx, id), "report not in object storage, using backend", "error", err)
	}

	detail, err := s.client.GetContract(ctx, id)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to fetch contract", err)
	}
	if detail.ReportURL == "" {
		return nil, NewExitError(ExitFailure, fmt.Sprintf("no report for %s: contract is %s", id, detail.Status))
	}

	var buf bytes.Buffer
	if _, err := s.client.FetchReport(ctx, detail.ReportURL, &buf); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to download report", err)
	}
	return buf.Bytes(), nil
}

func downloadStored(ctx context.Context, s *session, id string) ([]byte, error) {
	reports, err := service.NewReportService(&s.cfg.Minio)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := reports.Download(ctx, id, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
