package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/projectcoral/coral/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/projectcoral/coral/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile   string
	verbose   bool
	noConsole bool
)

var rootCmd = &cobra.Command{
	Use:   "coral",
	Short: "Coral, a plugin-driven chatbot framework",
	Long:  "Coral: a chatbot framework that routes platform events through a prioritized bus to plugins, with permission gating and OneBot V11 connectivity.",
	Run: func(cmd *cobra.Command, args []string) {
		runCoral()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $CORAL_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&noConsole, "no-console", false, "disable the stdin console driver")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coral %s (framework %s)\n", Version, protocol.Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CORAL_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
