package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/config"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/logging"
)

var (
	configPath string
	logLevel   string

	logger = zap.NewNop()
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML (default ~/.governance/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error); default $GOVERNANCE_LOG_LEVEL or warn")
}

var rootCmd = &cobra.Command{
	Use:   "governance",
	Short: "Policy, trust and output governance for AI agents",
	Long: "Evaluates agent tool calls and outbound messages against declarative policies,\n" +
		"per-agent trust scores and a fact registry. Every verdict is allow or deny.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if level == "" && os.Getenv(logging.EnvLevel) == "" {
			level = "warn"
		}
		l, err := logging.New(level)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

// exitError carries a non-zero exit status for outcomes that are not
// failures of the command itself, such as a deny verdict.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

func exitWith(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	logger.Sync()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func loadConfig() (*config.Config, string, error) {
	cfg, hash, err := config.LoadWithHash(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}
