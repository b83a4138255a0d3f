package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/comerito/cezar/internal/analysis"
	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly("store", st.Close)

		state, _ := cmd.Flags().GetString("state")
		hasDigest, _ := cmd.Flags().GetString("has-digest")
		list, _ := cmd.Flags().GetBool("list")

		f, err := parseFilter(state, hasDigest)
		if err != nil {
			return err
		}
		issues := st.Query(f)

		if list {
			formatIssueList(os.Stdout, issues)
			return nil
		}
		return printYAML(os.Stdout, computeStatus(st.Meta(), issues, analysis.Kinds(analysisDeps(nil))))
	},
}

func init() {
	statusCmd.Flags().String("state", "all", "issue state to include (all, open, closed)")
	statusCmd.Flags().String("has-digest", "", "only issues with (true) or without (false) a digest")
	statusCmd.Flags().Bool("list", false, "print one line per issue instead of counts")
	rootCmd.AddCommand(statusCmd)
}

func parseFilter(state, hasDigest string) (store.Filter, error) {
	var f store.Filter
	switch store.StateFilter(state) {
	case store.FilterAll, store.FilterOpen, store.FilterClosed:
		f.State = store.StateFilter(state)
	default:
		return f, eris.Errorf("status: invalid --state %q", state)
	}
	switch hasDigest {
	case "":
	case "true", "false":
		v := hasDigest == "true"
		f.HasDigest = &v
	default:
		return f, eris.Errorf("status: invalid --has-digest %q", hasDigest)
	}
	return f, nil
}

// storeStatus is the YAML shape printed by `cezar status`.
type storeStatus struct {
	Repository      string         `yaml:"repository"`
	LastSyncedAt    string         `yaml:"last_synced_at"`
	Members         int            `yaml:"members"`
	Total           int            `yaml:"total"`
	Open            int            `yaml:"open"`
	Closed          int            `yaml:"closed"`
	Digested        int            `yaml:"digested"`
	Analyzed        map[string]int `yaml:"analyzed"`
	CloseRecommends int            `yaml:"close_recommended"`
}

func computeStatus(meta model.CollectionMeta, issues []*model.Issue, kinds []analysis.Kind) storeStatus {
	s := storeStatus{
		Repository:   meta.Repository.String(),
		LastSyncedAt: "never",
		Members:      len(meta.Members),
		Total:        len(issues),
		Analyzed:     make(map[string]int, len(model.AllFacets())),
	}
	if meta.LastSyncedAt != nil {
		s.LastSyncedAt = meta.LastSyncedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	for _, name := range model.AllFacets() {
		s.Analyzed[string(name)] = 0
	}

	for _, is := range issues {
		if is.IsOpen() {
			s.Open++
		} else {
			s.Closed++
		}
		if is.Digest != nil {
			s.Digested++
		}
		for name, f := range is.Analysis {
			if f.AnalyzedAt != nil {
				s.Analyzed[string(name)]++
			}
		}
		if is.IsOpen() && recommendsClose(is, kinds) {
			s.CloseRecommends++
		}
	}
	return s
}

func recommendsClose(is *model.Issue, kinds []analysis.Kind) bool {
	for _, k := range kinds {
		if k.RecommendsClose != nil && k.RecommendsClose(is) {
			return true
		}
	}
	return false
}

// formatIssueList writes one row per issue to w.
func formatIssueList(out io.Writer, issues []*model.Issue) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSTATE\tCATEGORY\tFACETS\tTITLE")
	_, _ = fmt.Fprintln(w, "-\t-----\t--------\t------\t-----")

	for _, is := range issues {
		category := "-"
		if is.Digest != nil {
			category = is.Digest.Category
		}
		var facets []string
		for _, name := range model.AllFacets() {
			if is.Facet(name).AnalyzedAt != nil {
				facets = append(facets, string(name))
			}
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", is.Number, is.State, category, strings.Join(facets, ","), truncate(is.Title, 60))
	}
	_ = w.Flush()
}

// truncate shortens s to at most n runes, ending in "..." when cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
