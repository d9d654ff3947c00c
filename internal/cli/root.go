package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/toolbridge/pkg/agent"
)

const version = "0.1.0"

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"log-level":       "logging.level",
	"provider":        "model.provider",
	"model":           "model.name",
	"max-tool-rounds": "model.max_tool_rounds",
	"audit-log":       "audit.path",
	"metrics-addr":    "metrics.addr",
}

// app carries dependencies that tests replace.
type app struct {
	// llm overrides the provider built from configuration.
	llm agent.LLMProvider
}

// rootCmd represents the base command
var rootCmd = newRootCmd(&app{})

func newRootCmd(a *app) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "toolbridge [flags] <path_to_server_script>",
		Short: "toolbridge - chat with a language model that can call MCP tools",
		Long: `toolbridge starts an MCP tool host script (.py or .js) as a subprocess,
lists its tools and runs an interactive loop in which a language model may
call those tools to answer your queries. Every tool call and result is
appended to an audit log.`,
		Version: version,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: <path_to_server_script>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return a.runChat(cmd, cfgFile, args[0])
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.toolbridge/config.json)")
	cmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")

	cmd.Flags().String("provider", "openai", "model provider (openai, anthropic)")
	cmd.Flags().String("model", "", "model name (default depends on provider)")
	cmd.Flags().Int("max-tool-rounds", 1, "maximum tool dispatch rounds per query")
	cmd.Flags().String("audit-log", "blackboard_log.txt", "audit log path")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (disabled when empty)")

	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
