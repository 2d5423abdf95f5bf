package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nifty-scalper/internal/engine"
	"nifty-scalper/internal/journal"
	"nifty-scalper/internal/market"
	"nifty-scalper/internal/observ"
	"nifty-scalper/pkg/utils"
)

// paperSlippage is the fill adjustment applied against the order side.
const paperSlippage = 0.001

func newRunCmd(app *App) *cobra.Command {
	var (
		spot float64
		seed int64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a trading session",
		Long: `Run the decision loop on the wall clock until interrupted or the session
square-off flattens all positions.

Paper mode drives the loop against the simulated market. Live mode requires a
broker provider, which this build does not ship.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if !app.Config.IsPaperMode() {
				return fmt.Errorf("live mode requires a broker provider, set trading.mode to 'paper'")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sim := market.NewSimProvider(market.SimConfig{
				Seed:       seed,
				Spot:       spot,
				StrikeStep: app.Config.Trading.StrikeStep,
				LotSize:    app.Config.Trading.LotSize,
				Clock:      market.SystemClock(),
			})

			var provider market.GreeksProvider = sim
			provider = market.NewRetryingProvider(provider, utils.DefaultRetryConfig())
			provider = market.NewRateLimitedProvider(provider,
				app.Config.Cache.ProviderRPS, app.Config.Cache.ProviderBurst)

			executor := market.NewPaperExecutor(sim, market.SystemClock(),
				app.Config.Sizing.Capital, paperSlippage)

			deps := engine.Deps{
				Provider: provider,
				Source:   sim,
				Executor: executor,
				Clock:    market.SystemClock(),
				Logger:   app.Logger,
			}

			if app.Config.Journal.Enabled {
				jrnl, err := journal.New(app.Config.Journal.Path)
				if err != nil {
					return fmt.Errorf("open journal: %w", err)
				}
				defer jrnl.Close()
				deps.Journal = jrnl
			}

			if app.Config.Metrics.Enabled {
				go func() {
					if err := observ.Serve(app.Config.Metrics.Addr); err != nil {
						app.Logger.Warn().Err(err).Msg("Metrics server stopped")
					}
				}()
			}

			pipeline, err := engine.New(app.Config, deps)
			if err != nil {
				return err
			}

			// Advance the synthetic market alongside the wall clock.
			go func() {
				ticker := time.NewTicker(app.Config.Trading.TickInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						sim.Step()
					}
				}
			}()

			err = pipeline.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			printSessionSummary(output, pipeline)
			return nil
		},
	}

	cmd.Flags().Float64Var(&spot, "spot", 24000, "starting simulated spot")
	cmd.Flags().Int64Var(&seed, "seed", 1, "simulated market seed")

	return cmd
}

func printSessionSummary(output *Output, p *engine.Pipeline) {
	stats := p.Stats()
	riskM := p.RiskMetrics()

	if output.IsJSON() {
		output.JSON(map[string]interface{}{
			"trades":    stats.Total,
			"wins":      stats.Wins,
			"losses":    stats.Losses,
			"win_rate":  stats.WinRate,
			"total_pnl": stats.TotalPnL,
			"avg_pnl":   stats.AvgPnL,
			"halted":    riskM.Halted,
		})
		return
	}

	output.Println()
	output.Bold("Session summary")
	output.Printf("  trades: %d  wins: %d  losses: %d  win rate: %.0f%%\n",
		stats.Total, stats.Wins, stats.Losses, stats.WinRate)
	output.Printf("  total P&L: %s  avg per trade: %s\n",
		output.FormatPnL(stats.TotalPnL), output.FormatPnL(stats.AvgPnL))
	if riskM.Halted {
		output.Warning("  risk manager halted the session")
	}
}
