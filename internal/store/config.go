package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode        string   `yaml:"mode"`
	PollSeconds int      `yaml:"poll_seconds"`
	Timeframe   string   `yaml:"timeframe"`
	Universe    []string `yaml:"universe"`
	Workers     int      `yaml:"workers"`

	Account struct {
		Balance float64 `yaml:"balance"`
	} `yaml:"account"`

	Range struct {
		LookbackCandles        int     `yaml:"lookback_candles"`
		ChopThresholdPct       float64 `yaml:"chop_threshold_pct"`
		ExhaustionThresholdPct float64 `yaml:"exhaustion_threshold_pct"`
		MinRangePct            float64 `yaml:"min_range_pct"`
	} `yaml:"range"`

	Risk struct {
		PortfolioMaxRiskPct  float64 `yaml:"portfolio_max_risk_pct"`
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
		MaxOpenPositions     int     `yaml:"max_open_positions"`
		Tiers                map[string]struct {
			MaxRiskPct          float64 `yaml:"max_risk_pct"`
			RiskWeight          float64 `yaml:"risk_weight"`
			MaxSpreadPct        float64 `yaml:"max_spread_pct"`
			MaxPositionNotional float64 `yaml:"max_position_notional"`
			EntryZonePct        float64 `yaml:"entry_zone_pct"`
			NoShort             bool    `yaml:"no_short"`
			Tier                string  `yaml:"tier"`
		} `yaml:"tiers"`
	} `yaml:"risk"`

	Lifecycle struct {
		Checkpoint1Candles int `yaml:"checkpoint_1_candles"`
		Checkpoint2Candles int `yaml:"checkpoint_2_candles"`
		CooldownCandles    int `yaml:"cooldown_candles"`
	} `yaml:"lifecycle"`

	Execution struct {
		FillTimeoutSeconds       int     `yaml:"fill_timeout_seconds"`
		FillPollIntervalMs       int     `yaml:"fill_poll_interval_ms"`
		DuplicateCooldownSeconds int     `yaml:"duplicate_cooldown_seconds"`
		MinOrderNotional         float64 `yaml:"min_order_notional"`
		LimitOffsetPct           float64 `yaml:"limit_offset_pct"`
	} `yaml:"execution"`

	Qty struct {
		Default   float64            `yaml:"default"`
		PerSymbol map[string]float64 `yaml:"per_symbol"`
	} `yaml:"qty"`

	Signal struct {
		Provider  string `yaml:"provider"`
		EMAPeriod int    `yaml:"ema_period"`
	} `yaml:"signal"`

	Broker struct {
		GraceWindowSeconds int     `yaml:"grace_window_seconds"`
		RequestsPerSec     int     `yaml:"requests_per_sec"`
		PaperSlippagePct   float64 `yaml:"paper_slippage_pct"`
	} `yaml:"broker"`

	Monitor struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"monitor"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Universe) == 0 {
		return errors.New("universe cannot be empty")
	}
	if c.Risk.PortfolioMaxRiskPct <= 0 || c.Risk.PortfolioMaxRiskPct > 100 {
		return fmt.Errorf("risk.portfolio_max_risk_pct must be between 0-100, got %.2f", c.Risk.PortfolioMaxRiskPct)
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive, got %.2f", c.Account.Balance)
	}
	if c.Range.ChopThresholdPct >= c.Range.ExhaustionThresholdPct {
		return fmt.Errorf("range.chop_threshold_pct (%.2f) must be below exhaustion_threshold_pct (%.2f)",
			c.Range.ChopThresholdPct, c.Range.ExhaustionThresholdPct)
	}
	if c.Lifecycle.Checkpoint1Candles >= c.Lifecycle.Checkpoint2Candles {
		return fmt.Errorf("lifecycle.checkpoint_1_candles (%d) must be below checkpoint_2_candles (%d)",
			c.Lifecycle.Checkpoint1Candles, c.Lifecycle.Checkpoint2Candles)
	}
	if c.Execution.FillTimeoutSeconds <= 0 {
		return errors.New("execution.fill_timeout_seconds must be positive")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

func applyDefaults(c *Config) {
	if c.PollSeconds == 0 {
		c.PollSeconds = 60
	}
	if c.Timeframe == "" {
		c.Timeframe = "15m"
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.Account.Balance == 0 {
		c.Account.Balance = 10000
	}
	if c.Range.LookbackCandles == 0 {
		c.Range.LookbackCandles = 96
	}
	if c.Range.ChopThresholdPct == 0 {
		c.Range.ChopThresholdPct = 1.0
	}
	if c.Range.ExhaustionThresholdPct == 0 {
		c.Range.ExhaustionThresholdPct = 10.0
	}
	if c.Range.MinRangePct == 0 {
		c.Range.MinRangePct = 0.5
	}
	if c.Risk.PortfolioMaxRiskPct == 0 {
		c.Risk.PortfolioMaxRiskPct = 3.0
	}
	if c.Risk.MaxConsecutiveLosses == 0 {
		c.Risk.MaxConsecutiveLosses = 5
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk.MaxDailyLossPct = 5.0
	}
	if c.Risk.MaxOpenPositions == 0 {
		c.Risk.MaxOpenPositions = 6
	}
	if c.Lifecycle.Checkpoint1Candles == 0 {
		c.Lifecycle.Checkpoint1Candles = 6
	}
	if c.Lifecycle.Checkpoint2Candles == 0 {
		c.Lifecycle.Checkpoint2Candles = 12
	}
	if c.Lifecycle.CooldownCandles == 0 {
		c.Lifecycle.CooldownCandles = 8
	}
	if c.Execution.FillTimeoutSeconds == 0 {
		c.Execution.FillTimeoutSeconds = 5
	}
	if c.Execution.FillPollIntervalMs == 0 {
		c.Execution.FillPollIntervalMs = 500
	}
	if c.Execution.DuplicateCooldownSeconds == 0 {
		c.Execution.DuplicateCooldownSeconds = 10
	}
	if c.Execution.MinOrderNotional == 0 {
		c.Execution.MinOrderNotional = 10
	}
	if c.Execution.LimitOffsetPct == 0 {
		c.Execution.LimitOffsetPct = 0.001
	}
	if c.Qty.Default == 0 {
		c.Qty.Default = 0.01
	}
	if c.Signal.Provider == "" {
		c.Signal.Provider = "EMA"
	}
	if c.Signal.EMAPeriod == 0 {
		c.Signal.EMAPeriod = 20
	}
	if c.Broker.GraceWindowSeconds == 0 {
		c.Broker.GraceWindowSeconds = 120
	}
	if c.Broker.RequestsPerSec == 0 {
		c.Broker.RequestsPerSec = 5
	}
	if c.Monitor.Addr == "" {
		c.Monitor.Addr = ":8090"
	}
}
