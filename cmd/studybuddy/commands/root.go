// Package commands defines all Cobra CLI commands for the studybuddy binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/studybuddy/studybuddy-go/internal/audit"
	"github.com/studybuddy/studybuddy-go/internal/config"
	"github.com/studybuddy/studybuddy-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "studybuddy",
		Short: "StudyBuddy — a course-material study assistant powered by LLMs",
		Long: `StudyBuddy answers questions about your course material with citations.

Upload slide decks and lecture transcripts; they are chunked, embedded, and
indexed so every chat answer can point back at the exact slide or lecture
minute it came from.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.studybuddy/config.yaml).
See 'studybuddy --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.studybuddy/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
