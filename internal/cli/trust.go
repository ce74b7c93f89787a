package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/engine"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/trust"
)

var (
	trustReason  string
	trustHistory int
)

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustListCmd, trustGetCmd, trustSetCmd, trustLockCmd, trustUnlockCmd, trustFloorCmd, trustResetCmd)
	trustSetCmd.Flags().StringVar(&trustReason, "reason", "manual adjustment", "Reason recorded in the agent history")
	trustGetCmd.Flags().IntVarP(&trustHistory, "history", "n", 10, "Number of history events to show")
}

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Inspect and adjust per-agent trust",
	Long:  "Reads and writes the trust store configured under trust_store.\nMutations are flushed before the command exits.",
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents with score and tier",
	Args:  cobra.NoArgs,
	RunE: withTrust(false, func(cmd *cobra.Command, m *trust.Manager, args []string) error {
		out := cmd.OutOrStdout()
		agents := m.List()
		if len(agents) == 0 {
			fmt.Fprintln(out, "No agents recorded.")
			return nil
		}
		fmt.Fprintf(out, "%-24s %7s  %-11s %8s %10s\n", "AGENT", "SCORE", "TIER", "SUCCESS", "VIOLATION")
		for _, a := range agents {
			tier := string(a.Tier)
			if a.Locked != nil {
				tier += "*"
			}
			fmt.Fprintf(out, "%-24s %7.2f  %-11s %8d %10d\n", a.AgentID, a.Score, tier, a.Signals.SuccessCount, a.Signals.ViolationCount)
		}
		return nil
	}),
}

var trustGetCmd = &cobra.Command{
	Use:   "get <agent>",
	Short: "Show one agent's trust state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: withTrust(false, func(cmd *cobra.Command, m *trust.Manager, args []string) error {
		a := m.Get(args[0])
		if trustHistory >= 0 && len(a.History) > trustHistory {
			a.History = a.History[len(a.History)-trustHistory:]
		}
		return printJSON(cmd, a)
	}),
}

var trustSetCmd = &cobra.Command{
	Use:   "set <agent> <score>",
	Short: "Set an agent's score",
	Args:  cobra.ExactArgs(2),
	RunE: withTrust(true, func(cmd *cobra.Command, m *trust.Manager, args []string) error {
		score, err := parseScore(args[1])
		if err != nil {
			return err
		}
		a, err := m.SetScore(args[0], score, trustReason)
		if err != nil {
			return err
		}
		return printSummary(cmd, a)
	}),
}

var trustLockCmd = &cobra.Command{
	Use:   "lock <agent> <tier>",
	Short: "Pin an agent's tier regardless of score",
	Args:  cobra.ExactArgs(2),
	RunE: withTrust(true, func(cmd *cobra.Command, m *trust.Manager, args []string) error {
		tier, err := model.ParseTier(args[1])
		if err != nil {
			return err
		}
		a, err := m.LockTier(args[0], tier)
		if err != nil {
			return err
		}
		return printSummary(cmd, a)
	}),
}

var trustUnlockCmd = &cobra.Command{
	Use:   "unlock <agent>",
	Short: "Release a tier lock",
	Args:  cobra.ExactArgs(1),
	RunE: withTrust(true, func(cmd *cobra.Command, m *trust.Manager, args []string) error {
		return printSummary(cmd, m.UnlockTier(args[0]))
	}),
}

var trustFloorCmd = &cobra.Command{
	Use:   "floor <agent> <score>",
	Short: "Set the minimum score for an agent",
	Args:  cobra.ExactArgs(2),
	RunE: withTrust(true, func(cmd *cobra.Command, m *trust.Manager, args []string) error {
		floor, err := parseScore(args[1])
		if err != nil {
			return err
		}
		a, err := m.SetFloor(args[0], floor)
		if err != nil {
			return err
		}
		return printSummary(cmd, a)
	}),
}

var trustResetCmd = &cobra.Command{
	Use:   "reset <agent>",
	Short: "Return an agent to its initial trust state",
	Args:  cobra.ExactArgs(1),
	RunE: withTrust(true, func(cmd *cobra.Command, m *trust.Manager, args []string) error {
		return printSummary(cmd, m.Reset(args[0]))
	}),
}

// withTrust loads the configured trust store into a manager, runs fn and,
// when write is set, flushes the result.
func withTrust(write bool, fn func(cmd *cobra.Command, m *trust.Manager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := contextOrBackground(cmd)
		store, closeStore, err := engine.OpenStore(ctx, cfg.TrustStore)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		if !write {
			store = readOnlyStore{store}
		}

		m := trust.NewManager(cfg.Trust, store, trust.WithLogger(logger))
		if err := m.Load(ctx); err != nil {
			return err
		}
		if err := fn(cmd, m, args); err != nil {
			return err
		}
		if !write {
			return nil
		}
		if _, err := m.Flush(ctx); err != nil {
			return fmt.Errorf("save trust store: %w", err)
		}
		return nil
	}
}

func parseScore(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q: %w", s, err)
	}
	return v, nil
}

func printSummary(cmd *cobra.Command, a trust.AgentTrust) error {
	locked := ""
	if a.Locked != nil {
		locked = " (locked)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: score %.2f, tier %s%s, floor %.1f\n", a.AgentID, a.Score, a.Tier, locked, a.Floor)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
