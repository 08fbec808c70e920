package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/projectcoral/coral/internal/config"
	"github.com/projectcoral/coral/internal/plugin"
	"github.com/projectcoral/coral/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("coral doctor")
	fmt.Printf("  Version:  %s (framework %s)\n", Version, protocol.Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	fmt.Printf("  WebSocket port: %d\n", cfg.WebSocketPort)
	fmt.Printf("  Self ID:        %s\n", cfg.SelfID)

	fmt.Printf("  Perm file: %s", cfg.PermFile)
	if _, err := os.Stat(cfg.PermFile); err != nil {
		fmt.Println(" (will be created)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Printf("  Plugin dir: %s", cfg.PluginDir)
	enabled, disabled, err := plugin.Discover(cfg.PluginDir)
	if err != nil {
		fmt.Printf(" (error: %s)\n", err)
		return
	}
	fmt.Printf(" (%d enabled, %d disabled)\n", len(enabled), len(disabled))

	compiled := plugin.FactoryNames()
	fmt.Printf("  Compiled plugin factories: %d\n", len(compiled))
	for _, name := range compiled {
		fmt.Printf("    - %s\n", name)
	}
}
