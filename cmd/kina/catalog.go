package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Frozertiru-gif/Kina/internal/app"
	"github.com/Frozertiru-gif/Kina/internal/kina"
	"github.com/Frozertiru-gif/Kina/internal/watchflow"
)

var (
	topQuery    kina.TopQuery
	searchQuery kina.SearchQuery
	season      int
	page        int
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Browse the public catalog",
}

var catalogTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Most watched titles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.App) error {
			list, err := a.Client.CatalogTop(cmd.Context(), topQuery)
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		})
	},
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search titles by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := searchQuery
		q.Q = args[0]
		return withApp(cmd, func(a *app.App) error {
			list, err := a.Client.CatalogSearch(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		})
	},
}

var titleCmd = &cobra.Command{
	Use:   "title <title-id>",
	Short: "Show a title with one page of episodes of a season",
	Args:  cobra.ExactArgs(1),
	RunE:  runTitle,
}

func init() {
	catalogTopCmd.Flags().StringVar(&topQuery.Period, "period", "", "time window, e.g. 7d or 30d")
	catalogTopCmd.Flags().StringVar(&topQuery.Type, "type", "", "movie or series")
	catalogTopCmd.Flags().IntVar(&topQuery.Limit, "limit", 0, "maximum number of titles")

	catalogSearchCmd.Flags().StringVar(&searchQuery.Type, "type", "", "movie or series")
	catalogSearchCmd.Flags().IntVar(&searchQuery.Limit, "limit", 0, "maximum number of titles")
	catalogSearchCmd.Flags().IntVar(&searchQuery.Offset, "offset", 0, "number of titles to skip")

	titleCmd.Flags().IntVar(&season, "season", 1, "season number")
	titleCmd.Flags().IntVar(&page, "page", 1, "episode page, starting at 1")

	catalogCmd.AddCommand(catalogTopCmd, catalogSearchCmd)
	rootCmd.AddCommand(catalogCmd, titleCmd)
}

// withApp runs fn against an unauthenticated core; catalog reads need no
// sign-in.
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func runTitle(cmd *cobra.Command, args []string) error {
	id, err := parseTitleID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app.App) error {
		var (
			details  *kina.TitleDetails
			episodes []kina.Episode
		)
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			var err error
			details, err = a.Client.Title(ctx, id)
			return err
		})
		g.Go(func() error {
			var err error
			episodes, err = a.Client.Episodes(ctx, id, season)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
		out := map[string]any{"title": details}
		if len(episodes) > 0 {
			out["episodes"] = watchflow.NewEpisodes(season, episodes).Page(page, watchflow.EpisodesPerPage)
		}
		return printJSON(cmd, out)
	})
}
