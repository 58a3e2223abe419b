package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/daemonctl"
	"scribe/internal/store"
)

var jobStatusOrder = []store.Status{store.StatusQueued, store.StatusRunning, store.StatusCompleted, store.StatusFailed}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, workflow and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				return emit(ctx, cmd, status, func() error {
					renderStatus(newStatusPrinter(cmd.OutOrStdout()), status)
					return nil
				})
			})
		},
	}
}

func renderStatus(p *statusPrinter, status *api.DaemonStatus) {
	p.section("Daemon")
	if status.Running {
		p.row("Daemon", levelOK, "running (pid "+strconv.Itoa(status.PID)+")")
	} else {
		p.row("Daemon", levelWarn, "not running")
	}
	p.row("Database", levelInfo, status.DatabasePath)

	wf := status.Workflow
	p.section("Workflow")
	if wf.Running {
		p.row("Workers", levelOK, strconv.Itoa(wf.Workers)+" active")
	} else {
		p.row("Workers", levelWarn, "stopped")
	}
	p.row("Queue depth", levelInfo, strconv.Itoa(wf.QueueDepth))
	for _, s := range jobStatusOrder {
		p.row("Jobs "+string(s), levelInfo, strconv.Itoa(wf.JobCounts[string(s)]))
	}
	if wf.LastError != "" {
		p.row("Last error", levelError, wf.LastError)
	}

	p.section("Stages")
	for _, h := range wf.StageHealth {
		lvl := levelOK
		if !h.Ready {
			lvl = levelError
		}
		p.row(h.Name, lvl, h.Detail)
	}

	p.section("Dependencies")
	for _, dep := range status.Dependencies {
		switch {
		case dep.Available:
			p.row(dep.Name, levelOK, dep.Command)
		case dep.Optional:
			p.row(dep.Name, levelWarn, dep.Detail)
		default:
			p.row(dep.Name, levelError, dep.Detail)
		}
	}
}
