package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comerito/cezar/internal/analysis"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Summarize issues that have no digest yet",
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

		if ok, reason := analysis.DigestAvailable(st); !ok {
			return printYAML(os.Stdout, analysis.Report{Kind: analysis.KindDigest, Empty: true, Message: reason})
		}

		rep, err := analysis.RunDigest(ctx, analysisDeps(newEngine()), st, analysis.Options{
			Recheck: recheck || cfg.Analysis.Recheck,
			DryRun:  dryRun,
		})
		if perr := printYAML(os.Stdout, rep); perr != nil && err == nil {
			err = perr
		}
		return err
	},
}

func init() {
	digestCmd.Flags().Bool("recheck", false, "digest every issue, not only new or changed ones")
	digestCmd.Flags().Bool("dry-run", false, "do not persist the store")
	rootCmd.AddCommand(digestCmd)
}
