package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/comerito/cezar/internal/model"
)

const (
	maxBodyRunes    = 1500
	maxCommentRunes = 400
	maxComments     = 5
)

const digestSystemPrompt = `You summarize GitHub issues for a maintainer's triage queue.
For every issue return: a category (one of bug, feature, question, docs, chore, other), a one-sentence summary, up to five keywords, and the affected area of the codebase (a short noun phrase, or "" if unclear).
Respond with JSON only: {"results":[{"number":<issue number>,"category":"...","summary":"...","keywords":["..."],"area":"..."}]}`

const duplicatesSystemPrompt = `You detect duplicate GitHub issues. Below is the catalogue of every digested issue in the repository.

%s

For each issue you are given, decide whether it duplicates an issue from the catalogue. Only link to an issue that describes the same problem or request; a shared area or keyword is not enough. Never link an issue to itself.
Respond with JSON only: {"results":[{"number":<issue number>,"duplicateOf":<catalogue issue number or null>,"confidence":<0.0-1.0>,"reason":"..."}]}`

const doneSystemPrompt = `You find open GitHub issues that are already resolved: a comment says it was fixed, released, or answered, or the reporter confirmed the problem is gone.
Respond with JSON only: {"results":[{"number":<issue number>,"done":<true|false>,"evidence":"<quote or empty>","reason":"..."}]}`

const prioritySystemPrompt = `You assign triage priority to open GitHub issues.
Levels: critical (data loss, security, outage), high (broken core workflow), medium (degraded but workable), low (cosmetic or nice to have). Score is 1 (lowest) to 5 (highest).
Respond with JSON only: {"results":[{"number":<issue number>,"level":"critical|high|medium|low","score":<1-5>,"reason":"..."}]}`

const securitySystemPrompt = `You flag GitHub issues that disclose or describe a security vulnerability (credential exposure, injection, auth bypass, RCE, data leak).
Respond with JSON only: {"results":[{"number":<issue number>,"sensitive":<true|false>,"severity":"critical|high|medium|low or empty","reason":"..."}]}`

const staleSystemPrompt = `You review GitHub issues with no activity for a long time and decide what should happen to each.
Verdicts: active (still relevant), stale (likely obsolete, ask the reporter), close (no longer applicable).
Respond with JSON only: {"results":[{"number":<issue number>,"verdict":"active|stale|close","reason":"..."}]}`

const qualitySystemPrompt = `You check whether GitHub issue reports contain what a maintainer needs to act: for bugs, steps to reproduce, expected vs actual behaviour, and version or environment; for features, the use case.
Flag "ok" when actionable, "needs-info" otherwise, and list what is missing.
Respond with JSON only: {"results":[{"number":<issue number>,"flag":"ok|needs-info","missing":["..."],"reason":"..."}]}`

const labelsSystemPrompt = `You suggest labels for GitHub issues. Prefer the labels this repository already uses:
%s
Suggest at most three labels per issue, and none the issue already has.
Respond with JSON only: {"results":[{"number":<issue number>,"suggested":["..."],"reason":"..."}]}`

const issuesUserPrompt = `Analyze these issues:

%s`

// renderIssue writes the raw view of an issue: title, body, and optionally
// the most recent comments.
func renderIssue(b *strings.Builder, is *model.Issue, withComments bool) {
	fmt.Fprintf(b, "### #%d %s\n", is.Number, is.Title)
	if len(is.Labels) > 0 {
		fmt.Fprintf(b, "Labels: %s\n", strings.Join(is.Labels, ", "))
	}
	fmt.Fprintf(b, "Opened by %s on %s, last updated %s\n",
		is.Author, is.CreatedAt.Format("2006-01-02"), is.UpdatedAt.Format("2006-01-02"))
	if body := strings.TrimSpace(is.Body); body != "" {
		b.WriteString(clip(body, maxBodyRunes))
		b.WriteString("\n")
	}
	if withComments && len(is.Comments) > 0 {
		comments := is.Comments
		if len(comments) > maxComments {
			comments = comments[len(comments)-maxComments:]
		}
		fmt.Fprintf(b, "Comments (%d shown of %d):\n", len(comments), len(is.Comments))
		for _, c := range comments {
			fmt.Fprintf(b, "- %s: %s\n", c.Author, clip(strings.TrimSpace(c.Body), maxCommentRunes))
		}
	}
	b.WriteString("\n")
}

// renderDigest writes the compact digest view of an issue.
func renderDigest(b *strings.Builder, is *model.Issue) {
	d := is.Digest
	if d == nil {
		fmt.Fprintf(b, "#%d [%s] %s\n", is.Number, is.State, is.Title)
		return
	}
	fmt.Fprintf(b, "#%d [%s] (%s", is.Number, is.State, d.Category)
	if d.Area != "" {
		fmt.Fprintf(b, ", %s", d.Area)
	}
	fmt.Fprintf(b, ") %s: %s", is.Title, d.Summary)
	if len(d.Keywords) > 0 {
		fmt.Fprintf(b, " {%s}", strings.Join(d.Keywords, ", "))
	}
	b.WriteString("\n")
}

func userPrompt(chunk []*model.Issue, withComments bool) string {
	var b strings.Builder
	for _, is := range chunk {
		renderIssue(&b, is, withComments)
	}
	return fmt.Sprintf(issuesUserPrompt, b.String())
}

func digestPrompt(chunk []*model.Issue) string {
	var b strings.Builder
	for _, is := range chunk {
		renderDigest(&b, is)
	}
	return fmt.Sprintf(issuesUserPrompt, b.String())
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
