package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Frozertiru-gif/Kina/internal/app"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in and print the confirmed user",
	RunE:  runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, _ []string) error {
	return withSignIn(cmd, func(a *app.App) error {
		u := a.Session.User()
		if u == nil {
			return fmt.Errorf("sign in returned no user")
		}
		out := map[string]any{
			"id":             u.ID,
			"tg_user_id":     u.TgUserID,
			"username":       u.Username,
			"first_name":     u.FirstName,
			"premium_active": u.PremiumActive(time.Now()),
			"token_stored":   a.Session.Token() != "",
		}
		if u.PremiumUntil != nil {
			out["premium_until"] = u.PremiumUntil.Format(time.RFC3339)
		}
		return printJSON(cmd, out)
	})
}
