package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/config"
)

var (
	initForce  bool
	initStdout bool
)

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initStdout, "stdout", false, "Print the config instead of writing it")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a commented starter configuration",
	Long: `Writes a starter config.yaml with example policies, time windows,
trust, risk and output validation settings.

The file goes to --config, or ~/.governance/config.yaml by default.
An existing file is kept unless --force is given.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if initStdout {
		fmt.Fprint(out, config.DefaultConfigYAML())
		return nil
	}

	path := resolvedConfigPath()
	wrote, err := writeIfMissing(path, config.DefaultConfigYAML())
	if err != nil {
		return err
	}
	if !wrote {
		fmt.Fprintf(out, "%s already exists (use --force to overwrite)\n", path)
		return nil
	}

	fmt.Fprintf(out, "Created %s\n\n", path)
	fmt.Fprintln(out, "Verify:")
	fmt.Fprintf(out, "  governance validate-config --config %s\n", path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Try a decision:")
	fmt.Fprintln(out, "  governance check --tool exec --param 'command=docker rm web'")
	return nil
}

// writeIfMissing writes content to path unless it exists and --force is
// not set. Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
