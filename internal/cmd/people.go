package cmd

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/output"
)

var (
	peopleSearch    string
	peopleSuggested bool
)

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "List members by rating",
	Long: `List members ordered by their latest overall rating. The ID column is
what 'connections request' expects. With --suggested only members rated
within one point of you that you have no connection with are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			var (
				profiles []models.Profile
				err      error
			)
			if peopleSuggested {
				profiles, err = r.app.Feed.SuggestedConnections(r.ctx)
			} else {
				profiles, err = r.app.Feed.Profiles(r.ctx, nil)
			}
			if err != nil {
				return err
			}
			profiles = filterProfiles(profiles, peopleSearch)

			me := r.app.Session.UserID()
			rows := make([][]string, 0, len(profiles))
			for _, p := range profiles {
				name := p.Username
				if p.ID == me {
					name += " (you)"
				}
				rows = append(rows, []string{p.ID, name, string(p.Gender), output.Rating(p.Rating)})
			}
			return r.out.Table(profiles, []string{"ID", "USERNAME", "GENDER", "RATING"}, rows)
		})
	},
}

var peopleShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a member's profile and posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			profile, err := findProfile(r, args[0])
			if err != nil {
				return err
			}
			posts, err := r.app.Feed.UserPosts(r.ctx, profile.ID)
			if err != nil {
				return err
			}
			return printProfilePage(r.out, profile, posts, r.app.Cache.Now())
		})
	},
}

func findProfile(r *runner, id string) (*models.Profile, error) {
	profiles, err := r.app.Feed.Profiles(r.ctx, nil)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].ID == id {
			return &profiles[i], nil
		}
	}
	return nil, apperrors.NewNotFound("profile " + id)
}

type profilePage struct {
	Profile *models.Profile `json:"profile"`
	Posts   []models.Post   `json:"posts"`
}

func printProfilePage(out *output.Printer, profile *models.Profile, posts []models.Post, now time.Time) error {
	if out.JSON() {
		return out.Print(profilePage{Profile: profile, Posts: posts}, nil)
	}
	if err := out.Record(profile,
		[]string{"Username", "ID", "Gender", "Rating", "Posts"},
		[]string{profile.Username, profile.ID, string(profile.Gender), output.Rating(profile.Rating), strconv.Itoa(len(posts))}); err != nil {
		return err
	}

	rows := make([][]string, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, []string{
			p.ID,
			string(p.Type),
			strconv.Itoa(len(p.Reactions)),
			strconv.Itoa(len(p.Comments)),
			output.Ago(p.CreatedAt, now),
			output.Truncate(p.ContentText(), 40),
		})
	}
	return out.Table(posts, []string{"ID", "TYPE", "REACTIONS", "COMMENTS", "POSTED", "CONTENT"}, rows)
}

func filterProfiles(profiles []models.Profile, q string) []models.Profile {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return profiles
	}
	var out []models.Profile
	for _, p := range profiles {
		if strings.Contains(strings.ToLower(p.Username), q) {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	peopleCmd.Flags().StringVarP(&peopleSearch, "search", "s", "", "Only show usernames containing this text")
	peopleCmd.Flags().BoolVar(&peopleSuggested, "suggested", false, "Only show members you might want to connect with")

	peopleCmd.AddCommand(peopleShowCmd)
}
