// Package mced is the cobra command tree for the tklock policy daemon: a
// root command with persistent flags, one file per subcommand,
// SilenceUsage/SilenceErrors set so RunE owns error formatting.
package mced

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var (
	logLevel     string
	settingsPath string
)

const version = "0.1.0"

// Execute builds and runs the root command; main.go's func main is just
// this single call.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mced",
		Short:         "Touchscreen/keypad lock policy daemon",
		Long:          "mced arbitrates display blanking, tklock state, and UI exceptions for a mobile device's MCE.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().StringVar(&settingsPath, "settings", "/etc/mced/settings.yaml", "path to the settings YAML file")

	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "mced",
		Level: hclog.LevelFromString(logLevel),
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mced %s\n", version)
		},
	}
}
