package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/betterme/betterme/internal/analysis"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/output"
	"github.com/betterme/betterme/internal/vision"
)

var (
	analyzePaths   = map[vision.Slot]*string{}
	analyzeDir     string
	analyzeShare   bool
	analyzeCaption string
	analyzeGender  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a photo analysis",
	Long: `Analyze six photos (front, both sides, hair, teeth and body) and store
the report with your profile. Photos are given one flag per slot, or found
in --dir as <slot>.jpg, <slot>.png or <slot>.webp.`,
	Example: `  betterme analyze --dir ./week4 --share --caption "Week 4"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		photos, err := loadPhotos()
		if err != nil {
			return err
		}
		return withApp(cmd, func(r *runner) error {
			svc, err := r.app.RequireAnalysis()
			if err != nil {
				return err
			}

			r.out.Status().Info("Analyzing photos, this can take a minute")
			res, err := svc.Run(r.ctx, photos, analysis.Options{
				Share:   analyzeShare,
				Caption: analyzeCaption,
				Gender:  models.Gender(analyzeGender),
			})
			if res == nil {
				return err
			}
			if perr := printReport(r.out, res); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if res.Post != nil {
				r.out.Success("Shared to your feed as %s", res.Post.ID)
			}
			return nil
		})
	},
}

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "List your past analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.requireSignedIn(); err != nil {
				return err
			}
			list, err := r.app.Feed.Analyses(r.ctx, nil)
			if err != nil {
				return err
			}
			now := time.Now()
			rows := make([][]string, 0, len(list))
			for _, a := range list {
				rows = append(rows, []string{
					a.ID,
					output.Rating(a.OverallRating),
					output.Rating(a.FaceRating),
					output.Rating(a.HairRating),
					output.Rating(a.TeethRating),
					output.Rating(a.BodyRating),
					output.Ago(a.CreatedAt, now),
				})
			}
			return r.out.Table(list, []string{"ID", "OVERALL", "FACE", "HAIR", "TEETH", "BODY", "WHEN"}, rows)
		})
	},
}

// loadPhotos resolves one file per slot from the slot flags and --dir.
func loadPhotos() (vision.Photos, error) {
	photos := make(vision.Photos, len(vision.Slots))
	for _, slot := range vision.Slots {
		path := *analyzePaths[slot]
		if path == "" && analyzeDir != "" {
			path = findSlotFile(analyzeDir, slot)
		}
		if path == "" {
			continue
		}
		img, err := vision.LoadFile(path)
		if err != nil {
			return nil, err
		}
		photos[slot] = img
	}
	if missing := photos.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, s := range missing {
			names[i] = "--" + slotFlag(s)
		}
		return nil, fmt.Errorf("missing photos, pass %s", strings.Join(names, ", "))
	}
	return photos, nil
}

func findSlotFile(dir string, slot vision.Slot) string {
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp"} {
		p := filepath.Join(dir, string(slot)+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func slotFlag(s vision.Slot) string {
	return strings.ReplaceAll(string(s), "_", "-")
}

func printReport(out *output.Printer, res *analysis.Result) error {
	return out.Print(res, func(w io.Writer) {
		a := res.Analysis
		_ = out.Record(nil,
			[]string{"Analysis", "Overall", "Face", "Hair", "Teeth", "Body"},
			[]string{a.ID, output.Rating(a.OverallRating), output.Rating(a.FaceRating),
				output.Rating(a.HairRating), output.Rating(a.TeethRating), output.Rating(a.BodyRating)})

		rec := res.Report.Recommendations
		if rec == nil {
			return
		}
		section(w, "Improvements", rec.Improvements)
		section(w, "Skincare", rec.Skincare)
		section(w, "Hairstyle", rec.Hairstyle)
		section(w, "Dental", rec.Dental)
		section(w, "Fashion", rec.Fashion)
	})
}

func section(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func init() {
	for _, slot := range vision.Slots {
		analyzePaths[slot] = analyzeCmd.Flags().String(slotFlag(slot), "", fmt.Sprintf("Path to the %s photo", strings.ReplaceAll(string(slot), "_", " ")))
	}
	analyzeCmd.Flags().StringVar(&analyzeDir, "dir", "", "Directory holding <slot>.jpg|png|webp files")
	analyzeCmd.Flags().BoolVar(&analyzeShare, "share", false, "Share the analysis to your feed")
	analyzeCmd.Flags().StringVar(&analyzeCaption, "caption", "", "Caption for the shared post")
	analyzeCmd.Flags().StringVar(&analyzeGender, "gender", "", "Override the profile gender (male, female, other)")
}
