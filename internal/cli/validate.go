package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/engine"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/factcheck"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/policy"
)

var (
	outputFile     string
	outputTrust    float64
	outputExternal bool
	outputFormat   string
)

func init() {
	rootCmd.AddCommand(validateOutputCmd)
	rootCmd.AddCommand(validateConfigCmd)
	validateOutputCmd.Flags().StringVar(&outputFile, "file", "", "Read the text from a file (- for stdin)")
	validateOutputCmd.Flags().Float64Var(&outputTrust, "trust", 50, "Trust score of the sending agent (0-100)")
	validateOutputCmd.Flags().BoolVar(&outputExternal, "external", false, "Treat the text as external communication (enables stage 3)")
	validateOutputCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text|json)")
}

var validateOutputCmd = &cobra.Command{
	Use:   "validate-output [text]",
	Short: "Fact-check agent output against the fact registry",
	Long: "Extracts claims from the text, checks them against configured facts and\n" +
		"applies the trust-based contradiction thresholds. With --external and an\n" +
		"enabled llm block, the text is also reviewed by the configured model.\n\n" +
		"Exit code 0 on pass, 2 on flag, 1 on block.",
	Args: cobra.MaximumNArgs(1),
	RunE: runValidateOutput,
}

func runValidateOutput(cmd *cobra.Command, args []string) error {
	text, err := outputText(cmd, args)
	if err != nil {
		return err
	}
	if outputTrust < 0 || outputTrust > 100 {
		return fmt.Errorf("--trust must be within [0,100], got %v", outputTrust)
	}

	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Audit.Enabled = false
	eng, err := engine.New(cfg, engine.WithLogger(logger), engine.WithConfigHash(hash))
	if err != nil {
		return err
	}

	res := eng.ValidateOutput(contextOrBackground(cmd), text, outputTrust, outputExternal)

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintf(out, "%s: %s\n", strings.ToUpper(string(res.Action)), res.Reason)
		for _, r := range res.Results {
			line := fmt.Sprintf("  %-12s %s %s = %q", r.Status, r.Claim.Subject, r.Claim.Predicate, r.Claim.Value)
			if r.Fact != nil && r.Status == factcheck.StatusContradicted {
				line += fmt.Sprintf(" (fact: %q)", r.Fact.Value)
			}
			fmt.Fprintln(out, line)
		}
	}

	switch res.Action {
	case factcheck.ActionBlock:
		return exitWith(1, "")
	case factcheck.ActionFlag:
		return exitWith(2, "")
	}
	return nil
}

func outputText(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case outputFile == "-" || (outputFile == "" && len(args) == 0):
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(outputFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", outputFile, err)
		}
		return string(data), nil
	}
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and compile the configuration",
	Long: "Parses the config file, compiles every policy and reports regex patterns\n" +
		"rejected by the ReDoS screen. Exit code 1 if anything is wrong.",
	Args: cobra.NoArgs,
	RunE: runValidateConfig,
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := resolvedConfigPath()

	cfg, hash, err := loadConfig()
	if err != nil {
		return exitWith(1, "INVALID: %v", err)
	}
	windows, err := cfg.Windows()
	if err != nil {
		return exitWith(1, "INVALID: %v", err)
	}
	idx, err := policy.Compile(cfg.Policies, windows, logger)
	if err != nil {
		return exitWith(1, "INVALID: %v", err)
	}
	if _, err := engine.New(cfg, engine.WithLogger(logger)); err != nil {
		return exitWith(1, "INVALID: %v", err)
	}

	fmt.Fprintf(out, "config:   %s\n", path)
	fmt.Fprintf(out, "hash:     %s\n", hash)
	fmt.Fprintf(out, "policies: %d enabled of %d\n", idx.Len(), len(cfg.Policies))
	fmt.Fprintf(out, "windows:  %d\n", len(windows))
	fmt.Fprintf(out, "facts:    %d inline, %d file(s)\n", len(cfg.OutputValidation.Facts), len(cfg.OutputValidation.FactFiles))

	rejected := idx.Rejected()
	if len(rejected) == 0 {
		fmt.Fprintln(out, "OK")
		return nil
	}
	for _, r := range rejected {
		fmt.Fprintf(out, "rejected: policy %s rule %s pattern %q: %s\n", r.PolicyID, r.RuleID, r.Pattern, r.Reason)
	}
	return exitWith(1, "INVALID: %d regex pattern(s) rejected", len(rejected))
}
