package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/audit"
)

var (
	tailLines     int
	summaryAgent  string
	summarySince  time.Duration
	summaryFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd, auditSummaryCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditSummaryCmd.Flags().StringVar(&summaryAgent, "agent", "", "Only count entries for this agent")
	auditSummaryCmd.Flags().DurationVar(&summarySince, "since", 0, "Only count entries newer than this (e.g. 24h)")
	auditSummaryCmd.Flags().StringVarP(&summaryFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained verdict log.\nThe path defaults to audit.path from the config.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and checks that every entry's prev_hash\nmatches the SHA-256 of the previous line. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary [path]",
	Short: "Count decisions per agent and policy",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditSummary,
}

func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Audit.Path, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		if result.ConfigChanges > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "config changed %d time(s) along the chain\n", result.ConfigChanges)
		}
		return nil
	}
	if result.ErrorLine > 0 {
		return exitWith(1, "FAILED at line %d: %s", result.ErrorLine, result.Error)
	}
	return exitWith(1, "FAILED: %s", result.Error)
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > tailLines {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, line := range lines {
		var entry audit.Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Fprintln(out, line)
			continue
		}
		fmt.Fprintf(out, "%s  %-7s %-6s %-12s %-16s %s\n",
			entry.Timestamp, entry.Kind, entry.Decision, entry.AgentID, entry.Tool, entry.Reason)
	}
	return nil
}

func runAuditSummary(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	filter := audit.Filter{AgentID: summaryAgent}
	if summarySince > 0 {
		filter.From = time.Now().Add(-summarySince)
	}
	s, err := audit.Summarize(path, filter)
	if err != nil {
		return err
	}
	if summaryFormat == "json" {
		return printJSON(cmd, s)
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatSummary(s))
	return nil
}
