package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brendan721/flipsync-agents/internal/config"
)

// version is stamped at build time via -ldflags "-X main.version=...";
// it stays "dev" for local runs.
var version = "dev"

// newRootCommand builds the coordinator CLI: global flags bound through
// viper (flag > env var > config file > default), a "serve" subcommand that
// runs the coordination runtime, and a "version" subcommand, following the
// cobra/viper front-door pattern used elsewhere in this corpus for
// server-style binaries.
func newRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "FlipSync multi-agent e-commerce operations coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.BindFlags(v, root.PersistentFlags())

	v.SetConfigName("flipsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.flipsync")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Println("warning: failed to read flipsync config file:", err)
		}
	}

	root.AddCommand(newServeCommand(v))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the coordinator version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("flipsync-coordinator", version)
			return nil
		},
	}
}
