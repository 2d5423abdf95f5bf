// Package config provides configuration management for the scalping engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading TradingConfig `mapstructure:"trading"`
	Session SessionConfig `mapstructure:"session"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Bias    BiasConfig    `mapstructure:"bias"`
	Trap    TrapConfig    `mapstructure:"trap"`
	Strike  StrikeConfig  `mapstructure:"strike"`
	Entry   EntryConfig   `mapstructure:"entry"`
	Sizing  SizingConfig  `mapstructure:"sizing"`
	Exit    ExitConfig    `mapstructure:"exit"`
	Expiry  ExpiryConfig  `mapstructure:"expiry"`
	Risk    RiskConfig    `mapstructure:"risk"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// TradingConfig holds instrument and mode configuration.
type TradingConfig struct {
	Mode         string        `mapstructure:"mode"` // "live", "paper"
	Underlying   string        `mapstructure:"underlying"`
	Exchange     string        `mapstructure:"exchange"`
	Product      string        `mapstructure:"product"`
	LotSize      int           `mapstructure:"lot_size"`
	StrikeStep   float64       `mapstructure:"strike_step"`
	StrikeRange  int           `mapstructure:"strike_range"` // ATM +/- N strikes scanned
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// SessionConfig holds trading session time windows (IST, HH:MM).
type SessionConfig struct {
	Start           string `mapstructure:"start"`
	End             string `mapstructure:"end"`
	NoTradeOpenFrom string `mapstructure:"no_trade_open_from"`
	NoTradeOpenTo   string `mapstructure:"no_trade_open_to"`
	NoTradeLastMin  int    `mapstructure:"no_trade_last_minutes"`
	SquareOff       string `mapstructure:"square_off"`
}

// CacheConfig holds the Greeks/quote cache tuning.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	MinFetchGap     time.Duration `mapstructure:"min_fetch_gap"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	ChainTTL        time.Duration `mapstructure:"chain_ttl"`
	FreshnessMax    time.Duration `mapstructure:"freshness_max"` // stale beyond this blocks trading
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	ProviderRPS     float64       `mapstructure:"provider_rps"` // upstream API budget
	ProviderBurst   int           `mapstructure:"provider_burst"`
}

// BiasConfig holds bias engine thresholds.
type BiasConfig struct {
	BullishDeltaMin float64       `mapstructure:"bullish_delta_min"`
	BearishDeltaMax float64       `mapstructure:"bearish_delta_max"`
	WeakDeltaMax    float64       `mapstructure:"weak_delta_max"` // at or below this magnitude delta carries no signal
	FlatGammaMax    float64       `mapstructure:"flat_gamma_max"`
	IVDropThreshold float64       `mapstructure:"iv_drop_threshold"` // percent, negative
	IVZoneLow       float64       `mapstructure:"iv_zone_low"`       // below this premiums barely move
	IVZoneGoodMin   float64       `mapstructure:"iv_zone_good_min"`  // tradable IV band
	IVZoneGoodMax   float64       `mapstructure:"iv_zone_good_max"`
	IVZoneHigh      float64       `mapstructure:"iv_zone_high"` // above this premium melt risk
	UpdateInterval  time.Duration `mapstructure:"update_interval"`
	HistorySize     int           `mapstructure:"history_size"`
	SidewaysFactor  float64       `mapstructure:"sideways_factor"`
	TrendLookback   int           `mapstructure:"trend_lookback"`
}

// TrapConfig holds trap detection thresholds. Each of the eight detectors
// can be switched off individually.
type TrapConfig struct {
	DetectOINoPremium    bool `mapstructure:"detect_oi_no_premium"`
	DetectPremiumNoOI    bool `mapstructure:"detect_premium_no_oi"`
	DetectOISpike        bool `mapstructure:"detect_oi_spike"`
	DetectIVCrush        bool `mapstructure:"detect_iv_crush"`
	DetectChoppyHighIV   bool `mapstructure:"detect_choppy_high_iv"`
	DetectSpreadWidening bool `mapstructure:"detect_spread_widening"`
	DetectLiquidityDrop  bool `mapstructure:"detect_liquidity_drop"`
	DetectDeltaSpike     bool `mapstructure:"detect_delta_spike"`

	OIRiseFlatLTP          float64       `mapstructure:"oi_rise_flat_ltp"` // premium range below this fraction of LTP is flat
	IVCrushPercent         float64       `mapstructure:"iv_crush_percent"` // negative
	SpreadWidePercent      float64       `mapstructure:"spread_wide_percent"` // widening vs recent average, percent points
	DeltaSpikeThreshold    float64       `mapstructure:"delta_spike_threshold"`
	DeltaCollapseThreshold float64       `mapstructure:"delta_collapse_threshold"`
	LiquidityDropFactor    float64       `mapstructure:"liquidity_drop_factor"` // fraction of recent average volume
	ChoppyIVThreshold      float64       `mapstructure:"choppy_iv_threshold"`
	LogRetention           time.Duration `mapstructure:"log_retention"`
	SkipSeverity           float64       `mapstructure:"skip_severity"`   // 0-100, at or above always vetoes entries
	RepeatSeverity         float64       `mapstructure:"repeat_severity"` // 0-100, vetoes when traps repeat
}

// StrikeConfig holds strike selection filters and scoring.
type StrikeConfig struct {
	CallDeltaMin  float64 `mapstructure:"call_delta_min"`
	CallDeltaMax  float64 `mapstructure:"call_delta_max"`
	PutDeltaMin   float64 `mapstructure:"put_delta_min"` // most negative bound
	PutDeltaMax   float64 `mapstructure:"put_delta_max"`
	GammaMin      float64 `mapstructure:"gamma_min"`
	ThetaMax      float64 `mapstructure:"theta_max"` // least negative allowed
	VegaMin       float64 `mapstructure:"vega_min"`
	SpreadMaxPct  float64 `mapstructure:"spread_max_pct"`
	VolumeMin     int64   `mapstructure:"volume_min"`
	OIMin         int64   `mapstructure:"oi_min"`
}

// EntryConfig holds entry trigger thresholds.
type EntryConfig struct {
	DeltaZoneMin        float64       `mapstructure:"delta_zone_min"`
	DeltaZoneMax        float64       `mapstructure:"delta_zone_max"`
	MinConfidence       float64       `mapstructure:"min_confidence"`
	RejectFlatLTP       float64       `mapstructure:"reject_flat_ltp"`    // fractional
	RejectIVDropPct     float64       `mapstructure:"reject_iv_drop_pct"` // negative
	RejectSpreadPct     float64       `mapstructure:"reject_spread_pct"`
	RejectDeltaCollapse float64       `mapstructure:"reject_delta_collapse"`
	ProfitTargetPct     float64       `mapstructure:"profit_target_pct"` // sizing target above entry, percent
	MinGapBetween       time.Duration `mapstructure:"min_gap_between"`
}

// SizingConfig holds position sizing parameters.
type SizingConfig struct {
	Capital         float64 `mapstructure:"capital"`
	RiskPercent     float64 `mapstructure:"risk_percent"`      // fraction, e.g. 0.02
	RiskPercentMin  float64 `mapstructure:"risk_percent_min"`
	RiskPercentMax  float64 `mapstructure:"risk_percent_max"`
	HardSLPercent   float64 `mapstructure:"hard_sl_percent"`   // fraction
	SLSkipPercent   float64 `mapstructure:"sl_skip_percent"`   // required SL above this skips the trade
	MaxPositionQty  int     `mapstructure:"max_position_qty"`
	MaxConcurrent   int     `mapstructure:"max_concurrent"`
}

// ExitConfig holds trade management exit thresholds.
type ExitConfig struct {
	HardSLPercent       float64 `mapstructure:"hard_sl_percent"` // fraction of premium
	TargetPercent       float64 `mapstructure:"target_percent"`
	DeltaWeaknessPct    float64 `mapstructure:"delta_weakness_pct"` // fraction, degradation from entry
	GammaRolloverFactor float64 `mapstructure:"gamma_rollover_factor"`
	ThetaFlatMove       float64 `mapstructure:"theta_flat_move"` // rupees
	IVCrushPercent      float64 `mapstructure:"iv_crush_percent"`
	IVCrushMaxMove      float64 `mapstructure:"iv_crush_max_move"`
	OIMismatchRise      int64   `mapstructure:"oi_mismatch_rise"`
	OIMismatchMaxMove   float64 `mapstructure:"oi_mismatch_max_move"`
	ExpiryEarlyTarget   float64 `mapstructure:"expiry_early_target"` // fraction
}

// ExpiryConfig holds expiry calendar configuration.
type ExpiryConfig struct {
	WeeklyDay    time.Weekday  `mapstructure:"weekly_day"` // NIFTY weeklies expire Tuesday
	CutoffHour   int           `mapstructure:"cutoff_hour"`
	CutoffMinute int           `mapstructure:"cutoff_minute"`
	RefreshEvery time.Duration `mapstructure:"refresh_every"`
}

// RiskConfig holds the daily kill-switch parameters.
type RiskConfig struct {
	MaxDailyLossPercent  float64       `mapstructure:"max_daily_loss_percent"` // fraction of capital
	MaxDailyLossAmount   float64       `mapstructure:"max_daily_loss_amount"`
	DailyProfitTarget    float64       `mapstructure:"daily_profit_target"`
	ConsecutiveLossLimit int           `mapstructure:"consecutive_loss_limit"`
	ConsecutiveLossStop  int           `mapstructure:"consecutive_loss_stop"`
	CooldownAfterLosses  time.Duration `mapstructure:"cooldown_after_losses"`
	MaxTradesPerDay      int           `mapstructure:"max_trades_per_day"`
	MaxExposurePercent   float64       `mapstructure:"max_exposure_percent"`
}

// JournalConfig holds trade journal configuration.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/nifty-scalper"
	}
	return filepath.Join(home, ".config", "nifty-scalper")
}

// Default returns a Config populated with the strategy defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Trading: TradingConfig{
			Mode:         "paper",
			Underlying:   "NIFTY",
			Exchange:     "NFO",
			Product:      "MIS",
			LotSize:      75,
			StrikeStep:   50,
			StrikeRange:  5,
			TickInterval: 1 * time.Second,
		},
		Session: SessionConfig{
			Start:           "09:15",
			End:             "15:30",
			NoTradeOpenFrom: "09:15",
			NoTradeOpenTo:   "09:20",
			NoTradeLastMin:  45,
			SquareOff:       "15:15",
		},
		Cache: CacheConfig{
			TTL:             10 * time.Second,
			MinFetchGap:     1 * time.Second,
			RefreshInterval: 5 * time.Second,
			ChainTTL:        30 * time.Second,
			FreshnessMax:    5 * time.Second,
			SweepInterval:   60 * time.Second,
			ProviderRPS:     3,
			ProviderBurst:   5,
		},
		Bias: BiasConfig{
			BullishDeltaMin: 0.45,
			BearishDeltaMax: -0.45,
			WeakDeltaMax:    0.35,
			FlatGammaMax:    0.01,
			IVDropThreshold: -5.0,
			IVZoneLow:       15.0,
			IVZoneGoodMin:   20.0,
			IVZoneGoodMax:   40.0,
			IVZoneHigh:      50.0,
			UpdateInterval:  60 * time.Second,
			HistorySize:     100,
			SidewaysFactor:  0.7,
			TrendLookback:   5,
		},
		Trap: TrapConfig{
			DetectOINoPremium:    true,
			DetectPremiumNoOI:    true,
			DetectOISpike:        true,
			DetectIVCrush:        true,
			DetectChoppyHighIV:   true,
			DetectSpreadWidening: true,
			DetectLiquidityDrop:  true,
			DetectDeltaSpike:     true,

			OIRiseFlatLTP:          0.01,
			IVCrushPercent:         -5.0,
			SpreadWidePercent:      0.5,
			DeltaSpikeThreshold:    0.15,
			DeltaCollapseThreshold: 0.10,
			LiquidityDropFactor:    0.5,
			ChoppyIVThreshold:      40.0,
			LogRetention:           60 * time.Second,
			SkipSeverity:           70,
			RepeatSeverity:         50,
		},
		Strike: StrikeConfig{
			CallDeltaMin: 0.45,
			CallDeltaMax: 0.65,
			PutDeltaMin:  -0.65,
			PutDeltaMax:  -0.45,
			GammaMin:     0.002,
			ThetaMax:     -0.05,
			VegaMin:      0.01,
			SpreadMaxPct: 1.0,
			VolumeMin:    50,
			OIMin:        100,
		},
		Entry: EntryConfig{
			DeltaZoneMin:        0.45,
			DeltaZoneMax:        0.60,
			MinConfidence:       60,
			RejectFlatLTP:       0.002,
			RejectIVDropPct:     -3.0,
			RejectSpreadPct:     1.5,
			RejectDeltaCollapse: 0.20,
			ProfitTargetPct:     7.0,
			MinGapBetween:       60 * time.Second,
		},
		Sizing: SizingConfig{
			Capital:        100000,
			RiskPercent:    0.02,
			RiskPercentMin: 0.01,
			RiskPercentMax: 0.05,
			HardSLPercent:  0.07,
			SLSkipPercent:  0.10,
			MaxPositionQty: 1000,
			MaxConcurrent:  1,
		},
		Exit: ExitConfig{
			HardSLPercent:       0.07,
			TargetPercent:       0.065,
			DeltaWeaknessPct:    0.15,
			GammaRolloverFactor: 0.75,
			ThetaFlatMove:       0.5,
			IVCrushPercent:      -5.0,
			IVCrushMaxMove:      1.0,
			OIMismatchRise:      100,
			OIMismatchMaxMove:   0.5,
			ExpiryEarlyTarget:   0.07,
		},
		Expiry: ExpiryConfig{
			WeeklyDay:    time.Tuesday,
			CutoffHour:   15,
			CutoffMinute: 30,
			RefreshEvery: 1 * time.Hour,
		},
		Risk: RiskConfig{
			MaxDailyLossPercent:  0.03,
			MaxDailyLossAmount:   3000,
			DailyProfitTarget:    5000,
			ConsecutiveLossLimit: 2,
			ConsecutiveLossStop:  5,
			CooldownAfterLosses:  15 * time.Minute,
			MaxTradesPerDay:      5,
			MaxExposurePercent:   0.25,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".config", "nifty-scalper", "journal.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			File:       true,
			FilePath:   filepath.Join(home, ".config", "nifty-scalper", "logs", "scalper.log"),
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9105",
		},
	}
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
// Missing config files fall back to defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("trading.mode", cfg.Trading.Mode)
	v.SetDefault("trading.underlying", cfg.Trading.Underlying)
	v.SetDefault("trading.lot_size", cfg.Trading.LotSize)
	v.SetDefault("sizing.capital", cfg.Sizing.Capital)
	v.SetDefault("sizing.risk_percent", cfg.Sizing.RiskPercent)
	v.SetDefault("risk.max_daily_loss_amount", cfg.Risk.MaxDailyLossAmount)
	v.SetDefault("risk.max_trades_per_day", cfg.Risk.MaxTradesPerDay)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCALPER_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("SCALPER_UNDERLYING"); v != "" {
		cfg.Trading.Underlying = v
	}
	if v := os.Getenv("SCALPER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Trading.LotSize <= 0 {
		return fmt.Errorf("lot_size must be positive")
	}
	if c.Trading.StrikeStep <= 0 {
		return fmt.Errorf("strike_step must be positive")
	}
	if c.Sizing.Capital <= 0 {
		return fmt.Errorf("capital must be positive")
	}
	if c.Sizing.RiskPercent < c.Sizing.RiskPercentMin || c.Sizing.RiskPercent > c.Sizing.RiskPercentMax {
		return fmt.Errorf("risk_percent %.3f outside [%.3f, %.3f]",
			c.Sizing.RiskPercent, c.Sizing.RiskPercentMin, c.Sizing.RiskPercentMax)
	}
	if c.Sizing.HardSLPercent <= 0 || c.Sizing.HardSLPercent > c.Sizing.SLSkipPercent {
		return fmt.Errorf("hard_sl_percent must be in (0, %.2f]", c.Sizing.SLSkipPercent)
	}
	if c.Exit.GammaRolloverFactor <= 0 || c.Exit.GammaRolloverFactor >= 1 {
		return fmt.Errorf("gamma_rollover_factor must be in (0, 1)")
	}
	if c.Risk.ConsecutiveLossStop < c.Risk.ConsecutiveLossLimit {
		return fmt.Errorf("consecutive_loss_stop must be >= consecutive_loss_limit")
	}
	if c.Risk.MaxDailyLossPercent <= 0 || c.Risk.MaxDailyLossPercent > 1 {
		return fmt.Errorf("max_daily_loss_percent must be in (0, 1]")
	}
	if c.Cache.TTL <= 0 || c.Cache.MinFetchGap <= 0 {
		return fmt.Errorf("cache ttl and min_fetch_gap must be positive")
	}
	if c.Cache.MinFetchGap > c.Cache.TTL {
		return fmt.Errorf("cache min_fetch_gap must not exceed ttl")
	}
	if c.Trap.SkipSeverity < c.Trap.RepeatSeverity {
		return fmt.Errorf("trap skip_severity must be >= repeat_severity")
	}
	if c.Trap.DeltaCollapseThreshold > c.Trap.DeltaSpikeThreshold {
		return fmt.Errorf("trap delta_collapse_threshold must not exceed delta_spike_threshold")
	}
	if c.Bias.HistorySize <= 1 {
		return fmt.Errorf("bias history_size must be greater than 1")
	}
	if c.Entry.DeltaZoneMin >= c.Entry.DeltaZoneMax {
		return fmt.Errorf("entry delta zone bounds inverted")
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode != "live"
}

// MaxDailyLoss returns the effective daily loss limit: the lower of the
// percent-of-capital limit and the hard amount.
func (c *Config) MaxDailyLoss() float64 {
	pctLimit := c.Sizing.Capital * c.Risk.MaxDailyLossPercent
	if c.Risk.MaxDailyLossAmount > 0 && c.Risk.MaxDailyLossAmount < pctLimit {
		return c.Risk.MaxDailyLossAmount
	}
	return pctLimit
}
