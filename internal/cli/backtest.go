package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nifty-scalper/internal/engine"
	"nifty-scalper/internal/session"
)

func newBacktestCmd(app *App) *cobra.Command {
	var (
		ticks int
		spot  float64
		seed  int64
		date  string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a simulated session under a deterministic clock",
		Long: `Replay a synthetic market through the full decision pipeline. The run is
deterministic for a given seed, so two runs with the same flags produce the
same trades.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			opts := engine.BacktestOptions{
				Ticks: ticks,
				Spot:  spot,
				Seed:  seed,
			}
			if date != "" {
				day, err := time.ParseInLocation("2006-01-02", date, session.IndiaLocation)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
				start, err := sessionStartOn(app, day)
				if err != nil {
					return err
				}
				opts.Start = start
			}

			result, err := engine.RunBacktest(app.Config, opts, app.Logger)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			printBacktestResult(output, result)
			return nil
		},
	}

	cmd.Flags().IntVar(&ticks, "ticks", 0, "simulated seconds to run (0 = full session)")
	cmd.Flags().Float64Var(&spot, "spot", 24000, "starting spot")
	cmd.Flags().Int64Var(&seed, "seed", 1, "market seed")
	cmd.Flags().StringVar(&date, "date", "", "session date (YYYY-MM-DD, default most recent weekday)")

	return cmd
}

func sessionStartOn(app *App, day time.Time) (time.Time, error) {
	var h, m int
	if _, err := fmt.Sscanf(app.Config.Session.Start, "%d:%d", &h, &m); err != nil {
		return time.Time{}, fmt.Errorf("invalid session start %q: %w", app.Config.Session.Start, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, session.IndiaLocation), nil
}

func printBacktestResult(output *Output, r *engine.BacktestResult) {
	output.Bold("Backtest %s → %s (%d ticks)",
		r.Start.Format("2006-01-02 15:04"), r.End.Format("15:04"), r.Ticks)
	output.Println()

	output.Printf("  trades: %d  wins: %d  losses: %d  win rate: %.0f%%\n",
		r.Stats.Total, r.Stats.Wins, r.Stats.Losses, r.Stats.WinRate)
	output.Printf("  total P&L: %s  avg per trade: %s\n",
		output.FormatPnL(r.Stats.TotalPnL), output.FormatPnL(r.Stats.AvgPnL))
	output.Printf("  closing bias: %s\n", output.BiasText(string(r.FinalBias)))

	if r.Risk.Halted {
		output.Warning("  risk halt: %s", r.Risk.HaltReason)
	}
}
