// Command flux-aggregator runs price feeds, their HTTP API and oracle agents.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/StrathCole/flux-aggregator/pkg/version"
)

var configFile string

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "flux-aggregator",
		Short:        "Round-based price oracle aggregator",
		Version:      version.Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "config/config.yaml", "Path to configuration file")

	root.AddCommand(
		startCommand(),
		versionCommand(),
		keygenCommand(),
		queryCommand(),
	)
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.AgentString())
		},
	}
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
