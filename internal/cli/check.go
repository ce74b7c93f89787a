package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/engine"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/trust"
)

var (
	checkHook    string
	checkAgent   string
	checkSession string
	checkChannel string
	checkTool    string
	checkParams  []string
	checkMessage string
	checkTo      string
	checkTime    string
	checkRequest string
	checkFormat  string
	checkRecord  bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkHook, "hook", "before_tool_call", "Hook the request arrives on")
	checkCmd.Flags().StringVar(&checkAgent, "agent", "main", "Agent id")
	checkCmd.Flags().StringVar(&checkSession, "session", "", "Session key")
	checkCmd.Flags().StringVar(&checkChannel, "channel", "", "Channel")
	checkCmd.Flags().StringVar(&checkTool, "tool", "", "Tool name")
	checkCmd.Flags().StringArrayVarP(&checkParams, "param", "p", nil, "Tool parameter key=value (repeatable)")
	checkCmd.Flags().StringVar(&checkMessage, "message", "", "Message content")
	checkCmd.Flags().StringVar(&checkTo, "to", "", "Message recipient")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Evaluate as of this RFC3339 time")
	checkCmd.Flags().StringVar(&checkRequest, "request", "", "Read the request as JSON from a file (- for stdin)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.Flags().BoolVar(&checkRecord, "record", false, "Persist trust changes caused by the verdict")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one request against the configured policies",
	Long: "Builds an evaluation context from flags (or a JSON request) and prints\n" +
		"the verdict with its risk assessment and matched policies.\n\n" +
		"Exit code 0 on allow, 1 on deny. Trust state is read but not written\n" +
		"unless --record is given.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	req, err := checkRequestFromFlags(cmd)
	if err != nil {
		return err
	}

	cfg, hash, err := loadConfig()
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
	if !checkRecord {
		store = readOnlyStore{store}
		cfg.Audit.Enabled = false
	}

	eng, err := engine.New(cfg, engine.WithLogger(logger), engine.WithTrustStore(store), engine.WithConfigHash(hash))
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop(ctx)

	v := eng.EvaluateRequest(req)

	out := cmd.OutOrStdout()
	switch checkFormat {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	default:
		fmt.Fprint(out, formatVerdict(v))
	}

	if !v.Allowed() {
		return exitWith(1, "")
	}
	return nil
}

func checkRequestFromFlags(cmd *cobra.Command) (model.Request, error) {
	var req model.Request
	if checkRequest != "" {
		var data []byte
		var err error
		if checkRequest == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(checkRequest)
		}
		if err != nil {
			return req, fmt.Errorf("read request: %w", err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse request: %w", err)
		}
		return req, nil
	}

	req = model.Request{
		Hook:       checkHook,
		AgentID:    checkAgent,
		SessionKey: checkSession,
		Channel:    checkChannel,
		ToolName:   checkTool,
		Message:    checkMessage,
		MessageTo:  checkTo,
	}
	if req.SessionKey == "" {
		req.SessionKey = "agent:" + req.AgentID + ":cli"
	}
	if len(checkParams) > 0 {
		req.ToolParams = make(map[string]any, len(checkParams))
		for _, p := range checkParams {
			k, v, ok := strings.Cut(p, "=")
			if !ok || k == "" {
				return req, fmt.Errorf("invalid --param %q: want key=value", p)
			}
			req.ToolParams[k] = v
		}
	}
	if checkTime != "" {
		ts, err := time.Parse(time.RFC3339, checkTime)
		if err != nil {
			return req, fmt.Errorf("invalid --time: %w", err)
		}
		req.Time = ts
	}
	return req, nil
}

func formatVerdict(v model.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(v.Action)), v.Reason)
	if v.Audit {
		b.WriteString("  audit: yes\n")
	}
	fmt.Fprintf(&b, "  risk:  %s (%.2f)\n", v.Risk.Level, v.Risk.Score)
	for _, f := range v.Risk.Factors {
		fmt.Fprintf(&b, "         %-17s %5.1f x %2.0f%%  %s\n", f.Name, f.Value, f.Weight, f.Description)
	}
	fmt.Fprintf(&b, "  trust: %.1f (%s)\n", v.Trust.Score, v.Trust.Tier)
	for _, m := range v.Matched {
		fmt.Fprintf(&b, "  match: %s/%s -> %s\n", m.PolicyID, m.RuleID, m.Effect.Action)
	}
	fmt.Fprintf(&b, "  id:    %s (%s)\n", v.EvaluationID, v.Duration)
	return b.String()
}

// readOnlyStore loads from the wrapped store and discards saves.
type readOnlyStore struct {
	trust.Store
}

func (readOnlyStore) Save(ctx context.Context, doc *trust.Document) error {
	return nil
}

func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
