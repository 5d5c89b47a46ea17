package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/output"
	"github.com/betterme/betterme/internal/ranking"
)

var (
	feedExplain bool
	feedLimit   int
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show your ranked feed",
	Long: `Show recent posts ranked by engagement, recency and whether the
author is one of your connections. Use --explain to see how each score
was built.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			var stale []ranking.RankedPost
			posts, err := r.app.Feed.Feed(r.ctx, func(cached []ranking.RankedPost) {
				stale = cached
			})
			if err != nil {
				if stale == nil {
					return err
				}
				r.out.Warning("Could not refresh the feed, showing cached posts: %v", err)
				posts = stale
			}
			if feedLimit > 0 && len(posts) > feedLimit {
				posts = posts[:feedLimit]
			}
			return printFeed(r.out, posts, r.app.Cache.Now(), feedExplain)
		})
	},
}

func printFeed(out *output.Printer, posts []ranking.RankedPost, now time.Time, explain bool) error {
	headers := []string{"ID", "AUTHOR", "TYPE", "SCORE", "REACTIONS", "COMMENTS", "POSTED", "CONTENT"}
	if explain {
		headers = []string{"ID", "AUTHOR", "SCORE", "REACT", "COMM", "RECENT", "CONN", "ANALYSIS", "B/A", "TEXT"}
	}

	rows := make([][]string, 0, len(posts))
	for _, p := range posts {
		if explain {
			b := p.Breakdown
			rows = append(rows, []string{
				p.ID, author(p.Profile), output.Score(p.Score),
				output.Score(b.Reactions), output.Score(b.Comments), output.Score(b.Recency),
				output.Score(b.Connection), output.Score(b.Analysis), output.Score(b.BeforeAfter),
				output.Score(b.Content),
			})
			continue
		}
		rows = append(rows, []string{
			p.ID,
			author(p.Profile),
			string(p.Type),
			output.Score(p.Score),
			strconv.Itoa(len(p.Reactions)),
			strconv.Itoa(len(p.Comments)),
			output.Ago(p.CreatedAt, now),
			output.Truncate(p.ContentText(), 40),
		})
	}
	return out.Table(posts, headers, rows)
}

func author(p *models.Profile) string {
	if p == nil || p.Username == "" {
		return "-"
	}
	return p.Username
}

func init() {
	feedCmd.Flags().BoolVar(&feedExplain, "explain", false, "Show the score breakdown for each post")
	feedCmd.Flags().IntVarP(&feedLimit, "limit", "n", 0, "Show at most n posts")
}
