package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/daemonctl"
	"scribe/internal/progress"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var mediaID int64
	var jobID string
	var since uint64
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow pipeline progress events",
		Long: "Follow pipeline progress events from the daemon. With --job the command " +
			"exits once that job completes or fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				return followProgress(cmd.Context(), client, cmd.OutOrStdout(), ctx.jsonOutput(), watchOptions{
					mediaID: mediaID,
					jobID:   strings.TrimSpace(jobID),
					since:   since,
					once:    once,
				})
			})
		},
	}
	cmd.Flags().Int64Var(&mediaID, "media", 0, "Only events for this media id")
	cmd.Flags().StringVar(&jobID, "job", "", "Stop when this job reaches a terminal state")
	cmd.Flags().Uint64Var(&since, "since", 0, "Resume after this event sequence number")
	cmd.Flags().BoolVar(&once, "once", false, "Print buffered events and exit")
	return cmd
}

type watchOptions struct {
	mediaID int64
	jobID   string
	since   uint64
	once    bool
}

func followProgress(ctx context.Context, client *daemonctl.Client, out io.Writer, asJSON bool, opts watchOptions) error {
	cursor := opts.since
	for {
		page, err := client.Progress(ctx, cursor, opts.mediaID, 0, !opts.once)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, ev := range page.Events {
			if err := printEvent(out, ev, asJSON); err != nil {
				return err
			}
			if opts.jobID != "" && ev.JobID == opts.jobID && ev.Status != progress.StatusRunning {
				return nil
			}
		}
		if page.Next > cursor {
			cursor = page.Next
		}
		if opts.once {
			return nil
		}
	}
}

func printEvent(out io.Writer, ev progress.Event, asJSON bool) error {
	if asJSON {
		line, err := jsonLine(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, line)
		return err
	}
	stage := ev.StageName
	if stage == "" {
		stage = fmt.Sprintf("stage %d", ev.Stage)
	}
	line := fmt.Sprintf("%s #%d media=%d job=%s %-13s %3d%% %s",
		ev.Timestamp.Local().Format("15:04:05"), ev.Seq, ev.MediaID, ev.JobID, stage, ev.Percent, ev.Status)
	if ev.Detail != "" {
		line += " " + ev.Detail
	}
	_, err := fmt.Fprintln(out, line)
	return err
}
