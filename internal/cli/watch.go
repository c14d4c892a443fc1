package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/service"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Timeout time.Duration
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch ID [ID...]",
		Short: "Follow contracts until they finish",
		Long: `Attach to contracts that are already being processed and print their
progress until each is completed or has failed. Contracts are followed one
after another; one that has already finished is printed right away.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "how long to wait for each contract")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, ids []string) error {
	ctx := commandContext(cmd)
	out := opts.output(cmd)

	s := newSession(opts.Config)
	defer s.close()
	if err := s.connect(); err != nil {
		return WrapExitError(ExitCommandError, "failed to open progress channel", err)
	}

	finals := make([]model.Contract, 0, len(ids))
	for _, id := range ids {
		final, err := follow(ctx, s, out, id, opts.Timeout)
		if err != nil {
			return err
		}
		finals = append(finals, final)
	}
	s.store.ClearSelection()

	var data any = finals
	if len(finals) == 1 {
		data = finals[0]
	}
	if err := out.Success(data, func(w io.Writer) {
		for _, c := range finals {
			if len(finals) > 1 {
				fmt.Fprintf(w, "%s  ", c.ID)
			}
			printOutcome(w, c)
		}
	}); err != nil {
		return err
	}
	for _, c := range finals {
		if err := outcomeError(c); err != nil {
			return err
		}
	}
	return nil
}

// follow makes id the selected contract and moves the session's watcher onto
// it, printing live stage messages until the record settles.
func follow(ctx context.Context, s *session, out *OutputFormatter, id string, timeout time.Duration) (model.Contract, error) {
	c, err := s.tracker.Resume(ctx, id)
	if err != nil {
		return model.Contract{}, WrapExitError(ExitCommandError, "cannot watch "+id, err)
	}
	s.store.Select(id)
	if !c.Terminal() {
		out.Progress("%s  %3d%%  %s", id, c.Progress, c.CurrentStep)
	}
	s.watcher.Watch(id, service.ObserveCallbacks{
		OnProgress: func(ev model.ProgressEvent) {
			out.Progress("%s  %3d%%  %s", id, ev.Progress, ev.Message)
		},
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	final, err := waitForTerminal(ctx, s.store, id, nil)
	if err != nil {
		return model.Contract{}, WrapExitError(ExitCommandError, "stopped watching "+id, err)
	}
	return final, nil
}
