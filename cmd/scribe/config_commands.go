package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		dest      string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the annotated sample configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := configTarget(dest)
			if err != nil {
				return err
			}
			switch _, statErr := os.Stat(target); {
			case statErr == nil && !overwrite:
				return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
			case statErr != nil && !errors.Is(statErr, fs.ErrNotExist):
				return fmt.Errorf("inspect %s: %w", target, statErr)
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Wrote %s\nNext: set llm.api_key and embedding.api_key, or export SCRIBE_LLM_API_KEY and OPENAI_API_KEY.\n",
				target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "path", "p", "", "Where to write the file (default ~/.config/scribe/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func configTarget(raw string) (string, error) {
	if raw = strings.TrimSpace(raw); raw != "" {
		return config.ExpandPath(raw)
	}
	return config.DefaultConfigPath()
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration, create its directories and report the result",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, exists, err := config.Load(ctx.configFlagValue())
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			source := path
			if !exists {
				source += " (not found, defaults applied)"
			}
			printTable(cmd.OutOrStdout(), []string{"Setting", "Value"}, [][]string{
				{"File", source},
				{"Data directory", cfg.Paths.DataDir},
				{"API bind", cfg.Paths.APIBind},
				{"Workers", fmt.Sprint(cfg.Workflow.Workers)},
				{"LLM configured", yesNo(cfg.LLMEnabled())},
				{"Embedding provider", cfg.Embedding.Provider},
				{"Retrieval backend", cfg.Retrieval.Backend},
			})
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
			return nil
		},
	}
}
