package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/daemonctl"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var scope string
	var reprocess bool

	cmd := &cobra.Command{
		Use:   "submit <media-ref>",
		Short: "Submit a media reference for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				resp, err := client.Submit(cmd.Context(), api.SubmitRequest{
					ExternalRef: strings.TrimSpace(args[0]),
					ScopeID:     strings.TrimSpace(scope),
					Reprocess:   reprocess,
				})
				if err != nil {
					return err
				}
				return emit(ctx, cmd, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s for media %d (%s)\n", resp.Job.ID, resp.Media.ID, resp.Media.ExternalRef)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Scope id used to group media for search")
	cmd.Flags().BoolVar(&reprocess, "reprocess", false, "Ignore stored transcripts and rebuild everything")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Inspect and manage pipeline jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobShowCommand(ctx))
	jobsCmd.AddCommand(newJobActionCommand(ctx, "cancel", "Request cancellation of a job", (*daemonctl.Client).CancelJob, "Cancellation requested for"))
	jobsCmd.AddCommand(newJobActionCommand(ctx, "retry", "Resubmit a failed job", (*daemonctl.Client).RetryJob, "Created retry job"))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var mediaID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				jobs, err := client.ListJobs(cmd.Context(), statuses, mediaID, limit)
				if err != nil {
					return err
				}
				return emit(ctx, cmd, jobs, func() error {
					out := cmd.OutOrStdout()
					if len(jobs) == 0 {
						fmt.Fprintln(out, "No jobs")
						return nil
					}
					printTable(out,
						[]string{"ID", "Media", "Status", "Stage", "Progress", "Created", "Error"},
						buildJobRows(jobs), 1, 4,
					)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().Int64Var(&mediaID, "media", 0, "Filter by media id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum jobs to show")
	return cmd
}

func buildJobRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			strconv.FormatInt(job.MediaID, 10),
			job.Status,
			stageLabel(job),
			strconv.Itoa(job.Percent) + "%",
			job.CreatedAt,
			job.ErrorMessage,
		})
	}
	return rows
}

func stageLabel(job api.Job) string {
	if job.StageName == "" {
		return strconv.Itoa(job.Stage)
	}
	return fmt.Sprintf("%d %s", job.Stage, job.StageName)
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				job, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emit(ctx, cmd, job, func() error {
					renderJob(cmd.OutOrStdout(), job)
					return nil
				})
			})
		},
	}
}

func renderJob(out io.Writer, job *api.Job) {
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "%-14s %s\n", label+":", value)
		}
	}
	field("Job", job.ID)
	field("Media", strconv.FormatInt(job.MediaID, 10))
	field("Status", job.Status)
	field("Stage", stageLabel(*job))
	field("Progress", strconv.Itoa(job.Percent)+"%")
	field("Reprocess", yesNo(job.Reprocess))
	if job.CancelRequested {
		field("Cancel", "requested")
	}
	field("Failed stage", job.FailedStage)
	field("Error", job.ErrorMessage)
	field("Created", job.CreatedAt)
	field("Started", job.StartedAt)
	field("Heartbeat", job.HeartbeatAt)
	field("Completed", job.CompletedAt)
}

type jobAction func(*daemonctl.Client, context.Context, string) (*api.Job, error)

func newJobActionCommand(ctx *commandContext, use, short string, action jobAction, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				job, err := action(client, cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return emit(ctx, cmd, job, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s job %s (%s)\n", verb, job.ID, job.Status)
					return nil
				})
			})
		},
	}
}
