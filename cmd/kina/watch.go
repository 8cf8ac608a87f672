package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Frozertiru-gif/Kina/internal/app"
	"github.com/Frozertiru-gif/Kina/internal/kina"
	"github.com/Frozertiru-gif/Kina/internal/watchflow"
)

var (
	titleID   int64
	episodeID int64
	audioID   int64
	qualityID int64
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Check which variant the backend would send for a selection",
	RunE:  runResolve,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Request a title or episode and have the bot deliver it",
	Long: `Runs the whole watch attempt. When the backend answers with an ad gate
the command reuses an existing ad pass or waits out the ad countdown before
completing it, then dispatches the variant to the bot chat.`,
	RunE: runWatch,
}

func init() {
	for _, c := range []*cobra.Command{resolveCmd, watchCmd} {
		c.Flags().Int64Var(&titleID, "title", 0, "title id")
		c.Flags().Int64Var(&episodeID, "episode", 0, "episode id (series only)")
		c.Flags().Int64Var(&audioID, "audio", 0, "audio track id")
		c.Flags().Int64Var(&qualityID, "quality", 0, "quality id")
		_ = c.MarkFlagRequired("title")
		rootCmd.AddCommand(c)
	}
}

func selectionFromFlags() watchflow.Selection {
	sel := watchflow.Selection{TitleID: titleID, AudioID: audioID, QualityID: qualityID}
	if episodeID > 0 {
		ep := episodeID
		sel.EpisodeID = &ep
	}
	return sel
}

func runResolve(cmd *cobra.Command, _ []string) error {
	return withSignIn(cmd, func(a *app.App) error {
		res, err := a.Flow.Resolve(cmd.Context(), selectionFromFlags())
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	})
}

func runWatch(cmd *cobra.Command, _ []string) error {
	return withSignIn(cmd, func(a *app.App) error {
		ctx := cmd.Context()
		sel := selectionFromFlags()
		if !sel.Complete() {
			res, err := a.Flow.Resolve(ctx, sel)
			if err != nil {
				return err
			}
			if res.Availability != watchflow.Available {
				return printJSON(cmd, res)
			}
			sel = res.Selection
		}
		if err := a.Flow.SetParams(ctx, sel); err != nil {
			return err
		}

		st, err := a.Flow.Start(ctx)
		if err != nil {
			return stepError(st, err)
		}
		if st.Status == watchflow.StatusAdGate {
			st, err = passAdGate(cmd, a)
			if err != nil {
				return stepError(st, err)
			}
		}
		return printJSON(cmd, st)
	})
}

// passAdGate uses an existing pass when there is one, otherwise shows the
// ad countdown and completes it.
func passAdGate(cmd *cobra.Command, a *app.App) (watchflow.State, error) {
	ctx := cmd.Context()
	ok, st, err := a.Flow.SkipAdWithPass(ctx)
	if err != nil || ok {
		return st, err
	}

	st, err = a.Flow.StartAd(ctx)
	if err != nil {
		return st, err
	}
	if st.Status == watchflow.StatusAdsCooldown {
		return st, fmt.Errorf("ads on cooldown, retry in %s", st.RetryAfter)
	}

	gate := watchflow.NewAdGate(a.Config.Ads.Countdown)
	defer gate.Stop()
	fmt.Fprintf(cmd.ErrOrStderr(), "showing ad for %s\n", gate.Remaining().Round(time.Second))
	select {
	case <-gate.Ready():
	case <-ctx.Done():
		return a.Flow.State(), ctx.Err()
	}

	var final watchflow.State
	err = gate.Continue(func() error {
		var err error
		final, err = a.Flow.CompleteAd(ctx)
		return err
	})
	if final.Status == "" {
		final = a.Flow.State()
	}
	return final, err
}

func stepError(st watchflow.State, err error) error {
	if st.Message != "" {
		return errors.New(st.Message)
	}
	if msg := kina.UserMessage(err); msg != "" {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return err
}
