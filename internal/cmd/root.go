package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/betterme/betterme/internal/app"
	"github.com/betterme/betterme/internal/config"
	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/output"
)

var (
	verbose    bool
	configPath string
	outputFmt  string

	// Version is set by main from build flags.
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "betterme",
	Short: "betterMe.ai - track and share your self-improvement",
	Long: `betterme is a command-line client for betterMe.ai. Run photo
analyses, share progress with your connections and follow their feed.
It can also serve the same client core to the mobile shell over a local API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printer := output.New(output.FormatText, verbose)
		printer.Error("%v", err)
		if s := apperrors.Suggestion(err); s != "" {
			printer.Info("%s", s)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/betterme/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "", "Output format: text, table, json (default from config)")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(peopleCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(analysesCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// runner bundles what a command body needs.
type runner struct {
	ctx context.Context
	app *app.App
	out *output.Printer
}

// withApp loads configuration, starts the client core and hands it to fn.
// The core is closed when fn returns.
func withApp(cmd *cobra.Command, fn func(r *runner) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if outputFmt != "" {
		cfg.Output.Format = outputFmt
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, app.Options{Version: Version, Console: verbose})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(&runner{ctx: ctx, app: a, out: output.New(format, verbose)})
}

// requireSignedIn fails early when no session is stored.
func (r *runner) requireSignedIn() error {
	_, err := r.app.Session.RequireUser()
	return err
}
