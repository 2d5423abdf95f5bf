package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nifty-scalper/internal/journal"
	"nifty-scalper/internal/models"
	"nifty-scalper/internal/session"
	"nifty-scalper/pkg/utils"
)

func newJournalCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the trade journal",
		Long:  "Review logged trades, decision events and daily summaries.",
	}

	cmd.AddCommand(newJournalTradesCmd(app))
	cmd.AddCommand(newJournalEventsCmd(app))
	cmd.AddCommand(newJournalSummaryCmd(app))

	return cmd
}

func openJournal(app *App) (*journal.Journal, error) {
	if !app.Config.Journal.Enabled {
		return nil, fmt.Errorf("journal is disabled in configuration")
	}
	return journal.New(app.Config.Journal.Path)
}

func newJournalTradesCmd(app *App) *cobra.Command {
	var (
		symbol string
		status string
		limit  int
		days   int
	)

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List logged trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			jrnl, err := openJournal(app)
			if err != nil {
				return err
			}
			defer jrnl.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			filter := journal.TradeFilter{
				Symbol: symbol,
				Status: models.TradeStatus(strings.ToUpper(status)),
				Limit:  limit,
			}
			if days > 0 {
				filter.Since = time.Now().In(session.IndiaLocation).AddDate(0, 0, -days)
			}

			trades, err := jrnl.Trades(ctx, filter)
			if err != nil {
				return fmt.Errorf("query trades: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Info("No trades recorded.")
				return nil
			}

			var totalPnL float64
			table := NewTable(output, "Entry", "Symbol", "Qty", "Price", "Exit", "Reason", "P&L", "Hold")
			for _, t := range trades {
				totalPnL += t.PnL
				exit := "-"
				if !t.ExitTime.IsZero() {
					exit = fmt.Sprintf("%.2f", t.CurrentPrice)
				}
				table.AddRow(
					t.EntryTime.In(session.IndiaLocation).Format("02 Jan 15:04"),
					t.Symbol,
					utils.FormatQuantity(int64(t.Quantity)),
					fmt.Sprintf("%.2f", t.EntryPrice),
					exit,
					string(t.ExitReason),
					output.FormatPnL(t.PnL),
					formatHold(t.TimeInTrade),
				)
			}
			table.Render()
			output.Println()
			output.Printf("%d trades, net %s\n", len(trades), output.FormatPnL(totalPnL))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by option symbol")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (OPEN, CLOSED_PROFIT, CLOSED_LOSS)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&days, "days", 0, "only trades from the last N days")

	return cmd
}

func newJournalEventsCmd(app *App) *cobra.Command {
	var (
		kind  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List decision events",
		Long:  "Show non-trade decision records: rejected entries, trap hits, bias flips, halts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			jrnl, err := openJournal(app)
			if err != nil {
				return err
			}
			defer jrnl.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			events, err := jrnl.Events(ctx, journal.EventKind(kind), limit)
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(events)
			}
			if len(events) == 0 {
				output.Info("No events recorded.")
				return nil
			}

			table := NewTable(output, "Time", "Kind", "Symbol", "Detail")
			for _, e := range events {
				table.AddRow(
					e.Timestamp.In(session.IndiaLocation).Format("02 Jan 15:04:05"),
					string(e.Kind),
					e.Symbol,
					e.Detail,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (entry_rejected, trap_detected, bias_change, halt, square_off)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	return cmd
}

func newJournalSummaryCmd(app *App) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Daily performance summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			jrnl, err := openJournal(app)
			if err != nil {
				return err
			}
			defer jrnl.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			day := time.Now().In(session.IndiaLocation)
			if date != "" {
				day, err = time.ParseInLocation("2006-01-02", date, session.IndiaLocation)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
			}

			stats, err := jrnl.DailyStats(ctx, day)
			if err != nil {
				return fmt.Errorf("daily stats: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(stats)
			}

			output.Bold("Summary for %s", day.Format("Monday, 02 Jan 2006"))
			output.Println()
			if stats.Total == 0 {
				output.Info("No closed trades.")
				return nil
			}
			output.Printf("  trades: %d  wins: %d  losses: %d  win rate: %.0f%%\n",
				stats.Total, stats.Wins, stats.Losses, stats.WinRate)
			output.Printf("  total P&L: %s  avg per trade: %s\n",
				output.FormatPnL(stats.TotalPnL), output.FormatPnL(stats.AvgPnL))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to summarise (YYYY-MM-DD, default today)")

	return cmd
}

func formatHold(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
