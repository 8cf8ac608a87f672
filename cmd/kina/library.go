package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Frozertiru-gif/Kina/internal/app"
	"github.com/Frozertiru-gif/Kina/internal/kina"
)

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "List favorite titles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSignIn(cmd, func(a *app.App) error {
			list, err := a.Client.Favorites(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		})
	},
}

var favoritesToggleCmd = &cobra.Command{
	Use:   "toggle <title-id>",
	Short: "Add or remove a title from favorites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTitleID(args[0])
		if err != nil {
			return err
		}
		return withSignIn(cmd, func(a *app.App) error {
			res, err := a.Client.ToggleFavorite(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "List new-episode subscriptions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSignIn(cmd, func(a *app.App) error {
			list, err := a.Client.Subscriptions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		})
	},
}

var subscriptionsToggleCmd = &cobra.Command{
	Use:   "toggle <title-id>",
	Short: "Turn new-episode notifications for a title on or off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTitleID(args[0])
		if err != nil {
			return err
		}
		return withSignIn(cmd, func(a *app.App) error {
			res, err := a.Client.ToggleSubscription(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Show favorites, subscriptions and the referral link together",
	RunE:  runLibrary,
}

func init() {
	favoritesCmd.AddCommand(favoritesToggleCmd)
	subscriptionsCmd.AddCommand(subscriptionsToggleCmd)
	rootCmd.AddCommand(favoritesCmd, subscriptionsCmd, libraryCmd)
}

func runLibrary(cmd *cobra.Command, _ []string) error {
	return withSignIn(cmd, func(a *app.App) error {
		var (
			favorites []kina.Title
			subs      []kina.Subscription
			referral  *kina.Referral
		)
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			var err error
			favorites, err = a.Client.Favorites(ctx)
			return err
		})
		g.Go(func() error {
			var err error
			subs, err = a.Client.Subscriptions(ctx)
			return err
		})
		g.Go(func() error {
			var err error
			referral, err = a.Client.ReferralMe(ctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"favorites":     favorites,
			"subscriptions": subs,
			"referral":      referral,
		})
	})
}

func parseTitleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid title id %q", s)
	}
	return id, nil
}
