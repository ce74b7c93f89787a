package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

const version = "0.4.0"

var versionShort bool

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
	rootCmd.AddCommand(versionCmd)
}

type versionInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Go         string `json:"go"`
	Config     string `json:"config"`
	ConfigHash string `json:"config_hash,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and active configuration hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionShort {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		}
		info := versionInfo{
			Name:    "governance",
			Version: version,
			Go:      runtime.Version(),
			Config:  resolvedConfigPath(),
		}
		// An unreadable config is reported by validate-config, not here.
		if _, hash, err := loadConfig(); err == nil {
			info.ConfigHash = hash
		}
		return printJSON(cmd, info)
	},
}
