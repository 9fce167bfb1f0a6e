package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"livereply/internal/transport/nativemsg"
)

var (
	hostPath     string
	extensionIDs []string
	manifestDir  string
)

var installHostCmd = &cobra.Command{
	Use:   "install-host",
	Short: "Register this binary as the browser extension's native messaging host",
	Args:  cobra.NoArgs,
	RunE:  runInstallHost,
}

func init() {
	installHostCmd.Flags().StringVar(&hostPath, "path", "", "host executable (default: this binary)")
	installHostCmd.Flags().StringSliceVar(&extensionIDs, "extension-id", nil, "allowed extension id (repeatable)")
	installHostCmd.Flags().StringVar(&manifestDir, "dir", "", "manifest directory (default: the per-user Chrome NativeMessagingHosts dir)")
}

func runInstallHost(cmd *cobra.Command, _ []string) error {
	if len(extensionIDs) == 0 {
		return errors.New("at least one --extension-id is required")
	}
	path := hostPath
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		path = exe
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	dir := manifestDir
	if dir == "" {
		if dir, err = nativemsg.UserManifestDir(); err != nil {
			return err
		}
	}
	written, err := nativemsg.WriteManifest(dir, nativemsg.NewManifest(abs, extensionIDs))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), written)
	return nil
}
