package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig 交易所凭证配置
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"` // 是否使用测试网
}

// StrategyConfig 单个策略配置
type StrategyConfig struct {
	Enabled        bool               `yaml:"enabled"`
	EnabledSpot    bool               `yaml:"enabled_spot"`    // 允许在现货市场产生信号
	EnabledFutures bool               `yaml:"enabled_futures"` // 允许在合约市场产生信号
	Params         map[string]float64 `yaml:"params"`          // 策略自定义参数
}

// Config 交易协调系统配置
type Config struct {
	// 应用配置
	App struct {
		CurrentExchange string `yaml:"current_exchange"` // 当前使用的交易所
	} `yaml:"app"`

	// 多交易所凭证
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Trading struct {
		Mode string `yaml:"mode"` // spot 或 futures

		Futures struct {
			Leverage              int     `yaml:"leverage"`                // 合约杠杆倍数
			MaintenanceMarginRate float64 `yaml:"maintenance_margin_rate"` // 维持保证金率（默认0.005）
		} `yaml:"futures"`

		MinPairVolume float64 `yaml:"min_pair_volume"` // 流动交易对的最小24h成交额（USDT）
	} `yaml:"trading"`

	TradingEngine struct {
		MaxDailyLossPercentage float64 `yaml:"max_daily_loss_percentage"` // 日亏损上限（占比）
		MaxOpenPositions       int     `yaml:"max_open_positions"`        // 最大同时持仓数
		OrderSizePercentage    float64 `yaml:"order_size_percentage"`     // 单笔订单占余额百分比
		OrderCooldown          int     `yaml:"order_cooldown"`            // 同一交易对下单冷却时间（秒，默认150）
		MaxHourlyTrades        int     `yaml:"max_hourly_trades"`         // 单交易对每小时最大下单次数（默认5）
		ScanInterval           int     `yaml:"scan_interval"`             // 市场扫描间隔（秒，默认300）
	} `yaml:"trading_engine"`

	PositionManagement struct {
		MaxPositionSizePct       float64 `yaml:"max_position_size_pct"`      // 单仓位占权益最大比例
		MaxCorrelationExposure   int     `yaml:"max_correlation_exposure"`   // 高相关持仓的最大数量
		CorrelationPeriod        int     `yaml:"correlation_period"`         // 相关性计算所用K线数量
		HighCorrelationThreshold float64 `yaml:"high_correlation_threshold"` // 高相关判定阈值
		CorrelationCacheTTL      int     `yaml:"correlation_cache_ttl"`      // 相关性缓存有效期（秒，默认300）
	} `yaml:"position_management"`

	OrderTypes struct {
		TrailingStop struct {
			ActivationPercent float64 `yaml:"activation_percent"` // 激活价偏移百分比
			TrailPercent      float64 `yaml:"trail_percent"`      // 回调百分比
		} `yaml:"trailing_stop"`

		OCO struct {
			SpreadPercent float64 `yaml:"spread_percent"` // 止损价偏移百分比
		} `yaml:"oco"`

		Iceberg struct {
			MaxVisibleSize float64 `yaml:"max_visible_size"` // 可见数量占总数量比例
		} `yaml:"iceberg"`
	} `yaml:"order_types"`

	// 策略开关与参数
	Strategies map[string]StrategyConfig `yaml:"strategies"`

	Notifications struct {
		Enabled         bool `yaml:"enabled"`
		CooldownSeconds int  `yaml:"cooldown_seconds"` // 重复消息去重时间（秒，默认300）

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
		} `yaml:"webhook"`
	} `yaml:"notifications"`

	Metrics struct {
		Enabled        bool   `yaml:"enabled"`
		Listen         string `yaml:"listen"`          // Prometheus 指标监听地址（默认 :9090）
		SystemInterval int    `yaml:"system_interval"` // 系统指标采集间隔（秒，默认30）
	} `yaml:"metrics"`

	System struct {
		LogLevel  string `yaml:"log_level"`
		Timezone  string `yaml:"timezone"` // 时区，如 "Asia/Shanghai"
		LogToFile bool   `yaml:"log_to_file"`
	} `yaml:"system"`
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.Trading.Mode == "" {
		c.Trading.Mode = "spot"
	}
	if c.Trading.Futures.Leverage <= 0 {
		c.Trading.Futures.Leverage = 1
	}
	if c.Trading.Futures.MaintenanceMarginRate <= 0 {
		c.Trading.Futures.MaintenanceMarginRate = 0.005
	}
	if c.Trading.MinPairVolume <= 0 {
		c.Trading.MinPairVolume = 1000
	}

	if c.TradingEngine.MaxDailyLossPercentage <= 0 {
		c.TradingEngine.MaxDailyLossPercentage = 5
	}
	if c.TradingEngine.MaxOpenPositions <= 0 {
		c.TradingEngine.MaxOpenPositions = 5
	}
	if c.TradingEngine.OrderSizePercentage <= 0 {
		c.TradingEngine.OrderSizePercentage = 2
	}
	if c.TradingEngine.OrderCooldown <= 0 {
		c.TradingEngine.OrderCooldown = 150
	}
	if c.TradingEngine.MaxHourlyTrades <= 0 {
		c.TradingEngine.MaxHourlyTrades = 5
	}
	if c.TradingEngine.ScanInterval <= 0 {
		c.TradingEngine.ScanInterval = 300
	}

	if c.PositionManagement.MaxPositionSizePct <= 0 {
		c.PositionManagement.MaxPositionSizePct = 0.1
	}
	if c.PositionManagement.MaxCorrelationExposure <= 0 {
		c.PositionManagement.MaxCorrelationExposure = 2
	}
	if c.PositionManagement.CorrelationPeriod <= 0 {
		c.PositionManagement.CorrelationPeriod = 30
	}
	if c.PositionManagement.HighCorrelationThreshold <= 0 {
		c.PositionManagement.HighCorrelationThreshold = 0.7
	}
	if c.PositionManagement.CorrelationCacheTTL <= 0 {
		c.PositionManagement.CorrelationCacheTTL = 300
	}

	if c.OrderTypes.TrailingStop.ActivationPercent <= 0 {
		c.OrderTypes.TrailingStop.ActivationPercent = 1
	}
	if c.OrderTypes.TrailingStop.TrailPercent <= 0 {
		c.OrderTypes.TrailingStop.TrailPercent = 0.5
	}
	if c.OrderTypes.OCO.SpreadPercent <= 0 {
		c.OrderTypes.OCO.SpreadPercent = 2
	}
	if c.OrderTypes.Iceberg.MaxVisibleSize <= 0 {
		c.OrderTypes.Iceberg.MaxVisibleSize = 0.2
	}

	if c.Notifications.CooldownSeconds <= 0 {
		c.Notifications.CooldownSeconds = 300
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9090"
	}
	if c.Metrics.SystemInterval <= 0 {
		c.Metrics.SystemInterval = 30
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
}

// Validate 校验配置有效性（启动期错误，直接拒绝运行）
func (c *Config) Validate() error {
	if c.App.CurrentExchange == "" {
		return fmt.Errorf("配置错误: app.current_exchange 未设置")
	}
	if _, exists := c.Exchanges[c.App.CurrentExchange]; !exists {
		return fmt.Errorf("配置错误: 交易所 %s 的凭证未配置", c.App.CurrentExchange)
	}

	if c.Trading.Mode != "spot" && c.Trading.Mode != "futures" {
		return fmt.Errorf("配置错误: trading.mode 必须为 spot 或 futures，当前为 %q", c.Trading.Mode)
	}
	if c.Trading.Mode == "futures" && c.Trading.Futures.Leverage > 125 {
		return fmt.Errorf("配置错误: trading.futures.leverage 超出范围: %d", c.Trading.Futures.Leverage)
	}

	if c.PositionManagement.MaxPositionSizePct > 1 {
		return fmt.Errorf("配置错误: position_management.max_position_size_pct 必须 <= 1，当前为 %v",
			c.PositionManagement.MaxPositionSizePct)
	}
	if c.PositionManagement.HighCorrelationThreshold > 1 {
		return fmt.Errorf("配置错误: position_management.high_correlation_threshold 必须 <= 1，当前为 %v",
			c.PositionManagement.HighCorrelationThreshold)
	}

	if c.OrderTypes.Iceberg.MaxVisibleSize > 1 {
		return fmt.Errorf("配置错误: order_types.iceberg.max_visible_size 必须 <= 1，当前为 %v",
			c.OrderTypes.Iceberg.MaxVisibleSize)
	}

	return nil
}
