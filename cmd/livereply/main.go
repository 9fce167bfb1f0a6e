// Command livereply runs the live-chat auto-reply host.
//
// Chrome starts native messaging hosts with the calling extension's origin
// as the only argument; that invocation runs the host like "livereply run".
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "livereply",
	Short:         "Auto-reply to live chat events",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 && strings.HasPrefix(args[0], "chrome-extension://") {
			return runHost(cmd, args)
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (.json or .yaml); default $LIVEREPLY_CONFIG or livereply.yaml next to the binary")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config is read (missing is fine)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(installHostCmd)
}

// configPath resolves --config. The native messaging host starts with an
// unpredictable working directory, so the fallback is next to the binary.
func configPath() string {
	if p := strings.TrimSpace(cfgPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("LIVEREPLY_CONFIG")); p != "" {
		return p
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "livereply.yaml")
	}
	return "livereply.yaml"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "livereply:", err)
		os.Exit(1)
	}
}
