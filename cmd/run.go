package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/comerito/cezar/internal/analysis"
	"github.com/comerito/cezar/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Digest new issues, run detection, then enrichment on issues not flagged for closing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		recheck, _ := cmd.Flags().GetBool("recheck")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly("store", st.Close)

		var opts []pipeline.Option
		runLog, err := openRunLog(ctx)
		if err != nil {
			zap.L().Warn("run: run log unavailable", zap.Error(err))
		} else if runLog != nil {
			defer closeQuietly("run log", runLog.Close)
			opts = append(opts, pipeline.WithRecorder(runLog))
		}

		orch := pipeline.New(runKinds(analysisDeps(newEngine())), opts...)
		sum, err := orch.Run(ctx, st, pipeline.Options{
			Recheck:    recheck || cfg.Analysis.Recheck,
			DryRun:     dryRun,
			Repository: st.Meta().Repository.String(),
		})
		if err != nil {
			return err
		}
		if err := printYAML(os.Stdout, sum); err != nil {
			return err
		}
		return runOutcome(sum)
	},
}

func init() {
	runCmd.Flags().Bool("recheck", false, "re-analyze every eligible issue, not only new or changed ones")
	runCmd.Flags().Bool("dry-run", false, "do not persist the store")
	rootCmd.AddCommand(runCmd)
}

// runKinds is the full kind list of `cezar run`: digest first, then the
// detection and enrichment kinds.
func runKinds(d analysis.Deps) []analysis.Kind {
	return append([]analysis.Kind{analysis.DigestKind(d)}, analysis.Kinds(d)...)
}

// runOutcome turns a finished summary into the command's exit status.
func runOutcome(sum *pipeline.Summary) error {
	switch {
	case sum.Stopped:
		return eris.New("run stopped before every kind finished; completed results were saved")
	case len(sum.Failures) > 0:
		names := make([]string, len(sum.Failures))
		for i, f := range sum.Failures {
			names[i] = f.Kind
		}
		return eris.Errorf("run finished with %d failed kinds: %s", len(sum.Failures), strings.Join(names, ", "))
	}
	return nil
}
