package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty store for a repository",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		owner, _ := cmd.Flags().GetString("owner")
		repo, _ := cmd.Flags().GetString("repo")
		force, _ := cmd.Flags().GetBool("force")
		if owner == "" {
			owner = cfg.GitHub.Owner
		}
		if repo == "" {
			repo = cfg.GitHub.Repo
		}
		if owner == "" || repo == "" {
			return eris.New("init: --owner and --repo are required (or github.owner / github.repo in config)")
		}

		st, err := store.Init(ctx, cfg.Store.Location, model.Repository{Owner: owner, Repo: repo}, force)
		if err != nil {
			if eris.Is(err, store.ErrAlreadyExists) {
				return eris.Wrapf(err, "a store already exists at %s; pass --force to replace it", cfg.Store.Location)
			}
			return err
		}
		defer closeQuietly("store", st.Close)

		return printYAML(os.Stdout, map[string]any{
			"location":   cfg.Store.Location,
			"repository": st.Meta().Repository.String(),
		})
	},
}

func init() {
	initCmd.Flags().String("owner", "", "repository owner")
	initCmd.Flags().String("repo", "", "repository name")
	initCmd.Flags().Bool("force", false, "replace an existing store")
	rootCmd.AddCommand(initCmd)
}
