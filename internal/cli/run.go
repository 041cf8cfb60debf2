package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/supervisor"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor loop",
		Long:  "Tick until interrupted. SIGINT or SIGTERM finishes the current handler, records a shutdown event and exits.",
		Run:   runLoop,
	}

	cmd.Flags().Bool("once", false, "Run a single tick and print its report")
	cmd.Flags().Bool("no-generate", false, "Only drain the queue; never generate intents")

	RootCmd.AddCommand(cmd)
}

func runLoop(cmd *cobra.Command, args []string) {
	once, _ := cmd.Flags().GetBool("once")
	noGenerate, _ := cmd.Flags().GetBool("no-generate")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	sup, notifier := a.supervisor(!noGenerate)
	defer notifier.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		rep := sup.Tick(ctx)
		if rep.Err != nil {
			exitErr("tick", rep.Err)
		}
		printJSON(onceReport(sup.RunID(), rep))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})
	if a.cfg.Loop.WatchQueue {
		g.Go(func() error {
			if err := sup.WatchQueue(gctx); err != nil {
				a.logger.Warn("queue watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		notifier.Close()
		a.Close()
		exitErr("run", err)
	}
}

// tickOutput is the JSON printed by run --once.
type tickOutput struct {
	Run       string        `json:"run"`
	Cycle     uint64        `json:"cycle"`
	Outcome   string        `json:"outcome"`
	Executed  int           `json:"executed"`
	Failed    int           `json:"failed"`
	Poisoned  int           `json:"poisoned"`
	Rejected  int           `json:"rejected,omitempty"`
	Generated *model.Intent `json:"generated,omitempty"`
}

func onceReport(run string, rep supervisor.TickReport) tickOutput {
	return tickOutput{
		Run:       run,
		Cycle:     rep.Cycle,
		Outcome:   string(rep.Outcome),
		Executed:  rep.Executed,
		Failed:    rep.Failed,
		Poisoned:  rep.Poisoned,
		Rejected:  rep.Rejected,
		Generated: rep.Generated,
	}
}
