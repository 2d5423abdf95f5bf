// Package cli provides the command-line interface for the scalper.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nifty-scalper/internal/config"
	"nifty-scalper/internal/logging"
	"nifty-scalper/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-08-30"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// Execute loads configuration, builds the logger and runs the root command.
func Execute() error {
	cfg, err := config.Load(configDirFromArgs(os.Args[1:]))
	if err != nil {
		return err
	}

	logger := logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})

	return NewRootCmd(cfg, logger).Execute()
}

// configDirFromArgs extracts the --config flag before cobra parsing so the
// config file is loaded ahead of command construction.
func configDirFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if len(arg) > len("--config=") && arg[:len("--config=")] == "--config=" {
			return arg[len("--config="):]
		}
	}
	return ""
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "scalper",
		Short: "NIFTY options scalping engine",
		Long: `Nifty Scalper is a real-time decision engine for scalping NIFTY index options.

It maintains a live Greeks feed, infers market bias from delta trends, screens
entries against trap patterns, sizes positions against a daily risk budget and
manages exits through a prioritized waterfall.

Use 'scalper run' for a paper session, 'scalper backtest' for a simulated one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/nifty-scalper)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newJournalCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Nifty Scalper v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  mode: %s  underlying: %s  lot size: %d  tick: %s\n",
		cfg.Trading.Mode, cfg.Trading.Underlying, cfg.Trading.LotSize, cfg.Trading.TickInterval)
	output.Printf("  strike step: %.0f  scan range: ATM ±%d strikes\n",
		cfg.Trading.StrikeStep, cfg.Trading.StrikeRange)
	output.Println()

	output.Bold("Session (IST)")
	output.Printf("  open %s  close %s  square-off %s  no-trade %s-%s\n",
		cfg.Session.Start, cfg.Session.End, cfg.Session.SquareOff,
		cfg.Session.NoTradeOpenFrom, cfg.Session.NoTradeOpenTo)
	output.Println()

	output.Bold("Risk")
	output.Printf("  capital: %s  daily loss cap: %s  profit target: %s\n",
		utils.FormatCompact(cfg.Sizing.Capital),
		utils.FormatIndianCurrency(cfg.MaxDailyLoss()),
		utils.FormatIndianCurrency(cfg.Risk.DailyProfitTarget))
	output.Printf("  max trades/day: %d  exposure cap: %.0f%%  cooldown after %d losses: %s\n",
		cfg.Risk.MaxTradesPerDay, cfg.Risk.MaxExposurePercent*100,
		cfg.Risk.ConsecutiveLossLimit, cfg.Risk.CooldownAfterLosses)
	output.Println()

	output.Bold("Exit")
	output.Printf("  hard SL: %.1f%%  target: %.1f%%  gamma roll: %.0f%% of entry  delta weakness: %.0f%%\n",
		cfg.Exit.HardSLPercent*100, cfg.Exit.TargetPercent*100,
		cfg.Exit.GammaRolloverFactor*100, cfg.Exit.DeltaWeaknessPct*100)
	output.Println()

	output.Bold("Journal")
	if cfg.Journal.Enabled {
		output.Printf("  %s\n", cfg.Journal.Path)
	} else {
		output.Printf("  disabled\n")
	}
}
