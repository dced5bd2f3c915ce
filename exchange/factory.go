package exchange

import (
	"fmt"

	"quantpilot/config"
)

// NewExchange 根据配置创建交易所网关
func NewExchange(cfg *config.Config) (IExchange, error) {
	name := cfg.App.CurrentExchange
	exCfg, ok := cfg.Exchanges[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s 缺少配置", ErrUnknownExchange, name)
	}

	switch name {
	case "binance":
		return NewBinanceAdapter(exCfg, cfg.Trading.Mode), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
}
