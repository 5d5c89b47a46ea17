package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/betterme/betterme/internal/feed"
	"github.com/betterme/betterme/internal/models"
)

var (
	postType     string
	postContent  string
	postAnalysis string
	postBefore   string
	postAfter    string
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Create and interact with posts",
}

var postCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Share an analysis or a before/after comparison",
	Example: `  betterme post create --analysis 7f3c... --content "Week 4"
  betterme post create --type before_after --before 1a2b... --after 3c4d...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			t := models.PostType(postType)
			if t == "" {
				t = models.PostTypeAnalysis
				if postBefore != "" || postAfter != "" {
					t = models.PostTypeBeforeAfter
				}
			}

			post, err := r.app.Feed.CreatePost(r.ctx, feed.PostInput{
				Type:             t,
				Content:          postContent,
				AnalysisID:       postAnalysis,
				BeforeAnalysisID: postBefore,
				AfterAnalysisID:  postAfter,
			})
			if err != nil {
				return err
			}
			r.out.Success("Posted %s", post.ID)
			if r.out.JSON() {
				return r.out.Print(post, nil)
			}
			return nil
		})
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <post-id> <like|helpful|insightful>",
	Short: "Toggle your reaction on a post",
	Long: `Toggle your reaction on a post. Reacting with the type you already
chose removes it; a different type replaces it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := models.ReactionType(args[1])
		if !t.Valid() {
			return fmt.Errorf("unknown reaction %q (want like, helpful or insightful)", args[1])
		}
		return withApp(cmd, func(r *runner) error {
			current, err := r.app.Feed.ToggleReaction(r.ctx, args[0], t)
			if err != nil {
				return err
			}
			if current == "" {
				r.out.Success("Reaction removed")
			} else {
				r.out.Success("Reacted %s", current)
			}
			if r.out.JSON() {
				return r.out.Print(map[string]string{"post_id": args[0], "reaction": string(current)}, nil)
			}
			return nil
		})
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <post-id> <text>",
	Short: "Comment on a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			comment, err := r.app.Feed.AddComment(r.ctx, args[0], args[1])
			if err != nil {
				return err
			}
			r.out.Success("Comment added")
			if r.out.JSON() {
				return r.out.Print(comment, nil)
			}
			return nil
		})
	},
}

func init() {
	postCreateCmd.Flags().StringVar(&postType, "type", "", "analysis or before_after (inferred from the other flags)")
	postCreateCmd.Flags().StringVarP(&postContent, "content", "m", "", "Caption")
	postCreateCmd.Flags().StringVar(&postAnalysis, "analysis", "", "Analysis ID to share")
	postCreateCmd.Flags().StringVar(&postBefore, "before", "", "Earlier analysis ID")
	postCreateCmd.Flags().StringVar(&postAfter, "after", "", "Later analysis ID")

	postCmd.AddCommand(postCreateCmd)
	postCmd.AddCommand(reactCmd)
	postCmd.AddCommand(commentCmd)
}
