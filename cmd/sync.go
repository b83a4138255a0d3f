package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comerito/cezar/internal/store"
	"github.com/comerito/cezar/internal/tracker"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch issues from GitHub into the store",
	Long:  "Fetches issues updated since the last sync (or all with --full) and upserts them. Issues whose title or body changed lose their digest and analyses.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		full, _ := cmd.Flags().GetBool("full")
		comments, _ := cmd.Flags().GetBool("comments")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly("store", st.Close)

		syncer, err := newSyncer(ctx, st)
		if err != nil {
			return err
		}

		res, err := syncer.Sync(ctx, tracker.Options{Full: full, DryRun: dryRun})
		if err != nil {
			return err
		}
		out := map[string]any{"sync": res}

		if comments {
			numbers := tracker.CommentCandidates(st.Query(store.Filter{State: store.FilterOpen}))
			cres, err := syncer.FetchComments(ctx, numbers, dryRun)
			if err != nil {
				return err
			}
			out["comments"] = cres
		}
		out["dry_run"] = dryRun

		return printYAML(os.Stdout, out)
	},
}

func init() {
	syncCmd.Flags().Bool("full", false, "fetch every issue instead of only those updated since the last sync")
	syncCmd.Flags().Bool("comments", false, "also fetch comments of open issues that changed since their last fetch")
	syncCmd.Flags().Bool("dry-run", false, "do not persist the store")
	rootCmd.AddCommand(syncCmd)
}
