package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/engine"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/model"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/outputval"
)

var (
	runWorkers int
	runWatch   bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 1, "Concurrent request handlers (responses may reorder when > 1)")
	runCmd.Flags().BoolVar(&runWatch, "watch", true, "Reload the config file when it changes")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve governance decisions over JSON lines on stdin/stdout",
	Long: `Reads one JSON request per line from stdin and writes one JSON response
per line to stdout. Operations:

  {"id":"1","op":"evaluate","request":{"hook":"before_tool_call","agent_id":"main","tool_name":"exec","tool_params":{"command":"ls"}}}
  {"id":"2","op":"outcome","agent_id":"main","success":true,"reason":"exit 0"}
  {"id":"3","op":"validate_output","text":"nginx is running","trust":55,"external":true}

Trust state is flushed periodically and on exit. The config file is
watched and reloaded on change unless --watch=false.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

type runRequest struct {
	ID       string        `json:"id,omitempty"`
	Op       string        `json:"op"`
	Request  model.Request `json:"request"`
	AgentID  string        `json:"agent_id,omitempty"`
	Success  bool          `json:"success,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Text     string        `json:"text,omitempty"`
	Trust    *float64      `json:"trust,omitempty"`
	External bool          `json:"external,omitempty"`
}

type runResponse struct {
	ID      string               `json:"id,omitempty"`
	Op      string               `json:"op"`
	Verdict *model.Verdict       `json:"verdict,omitempty"`
	Trust   *model.TrustSnapshot `json:"trust,omitempty"`
	Output  *outputval.Result    `json:"output,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, engine.WithLogger(logger), engine.WithConfigHash(hash))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := eng.Stop(context.Background()); err != nil {
			logger.Error("engine stop", zap.Error(err))
		}
	}()

	if runWatch {
		if _, err := os.Stat(resolvedConfigPath()); err == nil {
			r, err := engine.NewReloader(eng, resolvedConfigPath(), logger)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: hot-reload disabled: %v\n", err)
			} else {
				go r.Run(ctx)
			}
		}
	}

	return serveLines(ctx, eng, cmd.InOrStdin(), cmd.OutOrStdout(), runWorkers)
}

// serveLines handles requests until in is exhausted or ctx is cancelled.
func serveLines(ctx context.Context, eng *engine.Engine, in io.Reader, out io.Writer, workers int) error {
	if workers < 1 {
		workers = 1
	}

	var writeMu sync.Mutex
	enc := json.NewEncoder(out)
	write := func(r runResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(r); err != nil {
			logger.Error("write response", zap.Error(err))
		}
	}

	lines := make(chan []byte)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for line := range lines {
				write(handleLine(ctx, eng, line))
			}
		}()
	}

	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
		for scanner.Scan() {
			if len(scanner.Bytes()) == 0 {
				continue
			}
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		readErr <- scanner.Err()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := <-readErr; err != nil {
			return fmt.Errorf("read requests: %w", err)
		}
		return nil
	case <-ctx.Done():
		// The reader may still be blocked on input; in-flight requests finish
		// on their own and the engine is stopped by the caller.
		return nil
	}
}

func handleLine(ctx context.Context, eng *engine.Engine, line []byte) runResponse {
	var req runRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return runResponse{Op: "error", Error: fmt.Sprintf("invalid request: %v", err)}
	}
	resp := runResponse{ID: req.ID, Op: req.Op}

	switch req.Op {
	case "evaluate", "":
		resp.Op = "evaluate"
		v := eng.EvaluateRequest(req.Request)
		resp.Verdict = &v
	case "outcome":
		at, err := eng.RecordOutcome(req.AgentID, req.Success, req.Reason)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		snap := at.Snapshot()
		resp.Trust = &snap
	case "validate_output":
		score := eng.Config().Trust.DefaultScore
		if req.Trust != nil {
			score = *req.Trust
		} else if req.AgentID != "" && eng.Trust() != nil {
			score = eng.Trust().Get(req.AgentID).Score
		}
		res := eng.ValidateAgentOutput(ctx, req.AgentID, req.Text, score, req.External)
		resp.Output = &res
	default:
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
	}
	return resp
}
