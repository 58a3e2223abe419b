package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/api"
	"scribe/internal/assistant"
	"scribe/internal/daemonctl"
	"scribe/internal/language"
	"scribe/internal/retrieval"
)

func newMediaCommand(ctx *commandContext) *cobra.Command {
	var withTranscript bool

	cmd := &cobra.Command{
		Use:   "media <media-id>",
		Short: "Show a media item and its derived metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid media id %q", args[0])
			}
			return ctx.withClient(func(client *daemonctl.Client) error {
				media, err := client.Media(cmd.Context(), id, withTranscript)
				if err != nil {
					return err
				}
				return emit(ctx, cmd, media, func() error {
					renderMedia(cmd.OutOrStdout(), media)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&withTranscript, "transcript", "t", false, "Include the full transcript text")
	return cmd
}

func renderMedia(out io.Writer, m *api.Media) {
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "%-16s %s\n", label+":", value)
		}
	}
	field("Media", strconv.FormatInt(m.ID, 10))
	field("Reference", m.ExternalRef)
	field("Title", m.Title)
	field("Scope", m.ScopeID)
	field("Status", m.Status)
	field("Error", m.ErrorMessage)
	if m.DurationSeconds > 0 {
		field("Duration", formatClock(m.DurationSeconds))
	}
	if m.Language != "" {
		field("Language", language.DisplayName(m.Language)+" ("+m.Language+")")
	}
	if m.ContentStartSeconds != nil {
		field("Content start", formatClock(*m.ContentStartSeconds))
	}
	field("Transcript", m.TranscriptSource)
	if m.TranscriptWords > 0 {
		field("Words", strconv.Itoa(m.TranscriptWords))
	}
	field("Segments", strconv.Itoa(m.SegmentCount))
	field("Topics", strings.Join(m.Topics, ", "))
	field("Keywords", strings.Join(m.Keywords, ", "))
	if m.Summary != "" {
		fmt.Fprintf(out, "\nSummary:\n%s\n", m.Summary)
	}
	if m.Transcript != "" {
		fmt.Fprintf(out, "\nTranscript:\n%s\n", m.Transcript)
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var scope string
	var topK int

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Hybrid keyword and semantic search over indexed transcripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				results, err := client.Search(cmd.Context(), retrieval.Request{
					Query:   strings.Join(args, " "),
					ScopeID: strings.TrimSpace(scope),
					TopK:    topK,
				})
				if err != nil {
					return err
				}
				return emit(ctx, cmd, results, func() error {
					out := cmd.OutOrStdout()
					if len(results) == 0 {
						fmt.Fprintln(out, "No matches")
						return nil
					}
					printTable(out,
						[]string{"#", "Score", "Media", "At", "Text"},
						buildResultRows(results), 0, 1,
					)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Restrict results to one scope id")
	cmd.Flags().IntVarP(&topK, "top", "k", 10, "Number of results")
	return cmd
}

func buildResultRows(results []retrieval.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		label := r.Title
		if label == "" {
			label = r.ExternalRef
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(r.CombinedScore, 'f', 3, 64),
			label,
			formatClock(r.StartSeconds) + "-" + formatClock(r.EndSeconds),
			snippet(r.Text, 40),
		})
	}
	return rows
}

func newAskCommand(ctx *commandContext) *cobra.Command {
	var scope string
	var topK int

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Answer a question from indexed transcripts with citations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				answer, err := client.Ask(cmd.Context(), assistant.Request{
					Question: strings.Join(args, " "),
					ScopeID:  strings.TrimSpace(scope),
					TopK:     topK,
				})
				if err != nil {
					return err
				}
				return emit(ctx, cmd, answer, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprintln(out, strings.TrimSpace(answer.Answer))
					if len(answer.Citations) > 0 {
						fmt.Fprintln(out)
						fmt.Fprintln(out, "Sources:")
					}
					for _, c := range answer.Citations {
						label := c.Title
						if label == "" {
							label = c.ExternalRef
						}
						fmt.Fprintf(out, "  [%d] %s (%s-%s)\n", c.Number, label, formatClock(c.StartSeconds), formatClock(c.EndSeconds))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "Restrict context to one scope id")
	cmd.Flags().IntVarP(&topK, "top", "k", 0, "Number of segments given to the model (default 8)")
	return cmd
}

func formatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func snippet(text string, words int) string {
	fields := strings.Fields(text)
	if len(fields) <= words {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:words], " ") + " …"
}
