package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/models"
	"github.com/betterme/betterme/internal/output"
)

var (
	authEmail    string
	authUsername string
	authGender   string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			email, err := valueOrPrompt(authEmail, "Email: ")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}

			profile, err := r.app.Session.SignIn(r.ctx, email, password)
			if err != nil {
				return err
			}
			r.app.Feed.Prefetch(r.ctx)
			r.out.Success("Signed in as %s", profile.Username)
			return r.out.Print(profile, nil)
		})
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			email, err := valueOrPrompt(authEmail, "Email: ")
			if err != nil {
				return err
			}
			username, err := valueOrPrompt(authUsername, "Username: ")
			if err != nil {
				return err
			}
			gender, err := valueOrPrompt(authGender, "Gender (male/female/other): ")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}

			profile, err := r.app.Session.SignUp(r.ctx, email, password, username, models.Gender(gender))
			if err != nil {
				return err
			}
			r.out.Success("Welcome, %s", profile.Username)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear cached data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.app.SignOut(r.ctx); err != nil {
				r.out.Warning("Remote sign out failed: %v", err)
			}
			r.out.Success("Signed out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.requireSignedIn(); err != nil {
				return err
			}
			u := r.app.Session.User()
			if u == nil {
				return fmt.Errorf("profile unavailable, try again when online")
			}
			email := "-"
			account, err := r.app.Session.Account(r.ctx)
			switch {
			case err == nil:
				email = account.Email
			case apperrors.Is(err, apperrors.ErrorTypeAuth):
				return err
			default:
				r.out.Warning("Could not reach the auth server: %v", err)
			}
			return r.out.Record(u,
				[]string{"Username", "Email", "ID", "Gender", "Rating"},
				[]string{u.Username, email, u.ID, string(u.Gender), output.Rating(u.Rating)})
		})
	},
}

func init() {
	loginCmd.Flags().StringVar(&authEmail, "email", "", "Account email")
	signupCmd.Flags().StringVar(&authEmail, "email", "", "Account email")
	signupCmd.Flags().StringVar(&authUsername, "username", "", "Public username")
	signupCmd.Flags().StringVar(&authGender, "gender", "", "male, female or other")

	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(signupCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(whoamiCmd)
}
