// Package risk bounds every intent before it reaches the OMS: symbol
// allowlist, sizing, stop-loss discipline, per-trade and daily loss caps,
// market-quality thresholds, and the consecutive-loss cooldown. Realized-pnl
// gates read the trade store, so the caps hold across restarts.
package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmflab/tmftrader/internal/cost"
	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/store"
	"github.com/tmflab/tmftrader/internal/verdict"
)

// Verdict codes, in gate order.
const (
	CodeSymbolNotAllowed   = "RISK_SYMBOL_NOT_ALLOWED"
	CodeQtyLimit           = "RISK_QTY_LIMIT"
	CodeSideInvalid        = "RISK_SIDE_INVALID"
	CodePriceInvalid       = "RISK_PRICE_INVALID"
	CodeStopRequired       = "RISK_STOP_REQUIRED"
	CodeStopInvalid        = "RISK_STOP_INVALID"
	CodePerTradeMaxLoss    = "RISK_PER_TRADE_MAX_LOSS"
	CodeMetricsRequired    = "RISK_MARKET_METRICS_REQUIRED"
	CodeSpreadTooWide      = "RISK_SPREAD_TOO_WIDE"
	CodeVolTooHigh         = "RISK_VOL_TOO_HIGH"
	CodeLiquidityLow       = "RISK_LIQUIDITY_LOW"
	CodeDailyMaxLoss       = "RISK_DAILY_MAX_LOSS"
	CodeConsecLossCooldown = "RISK_CONSEC_LOSS_COOLDOWN"
)

// Config enumerates the risk gates.
type Config struct {
	StrictRequireStop int     `yaml:"strict_require_stop"`
	PerTradeMaxLoss   float64 `yaml:"per_trade_max_loss_ntd"`
	DailyMaxLoss      float64 `yaml:"daily_max_loss_ntd"`

	ConsecutiveLossesLimit int `yaml:"consecutive_losses_limit"`
	CooldownMinutes        int `yaml:"cooldown_minutes_after_consecutive_losses"`

	StrictRequireMarketMetrics int     `yaml:"strict_require_market_metrics"`
	MaxSpreadPoints            float64 `yaml:"max_spread_points"`
	MaxVolatilityATRPoints     float64 `yaml:"max_volatility_atr_points"`
	MinLiquidityScore          float64 `yaml:"min_liquidity_score"`

	MaxQtyPerOrder float64 `yaml:"max_qty_per_order"`
	// AllowSymbols are PREFIXES so rolling codes like TMFB6 match TMF.
	AllowSymbols []string `yaml:"allow_symbols"`

	// NTD per point per contract; falls back to the cost model table.
	PointValueBySymbol map[string]float64 `yaml:"point_value_by_symbol"`

	LossScanLimit int `yaml:"loss_scan_limit"`
}

// DefaultConfig returns conservative TW index-futures defaults.
func DefaultConfig() Config {
	return Config{
		StrictRequireStop:          1,
		PerTradeMaxLoss:            1500,
		DailyMaxLoss:               5000,
		ConsecutiveLossesLimit:     3,
		CooldownMinutes:            30,
		StrictRequireMarketMetrics: 0,
		MaxSpreadPoints:            3,
		MaxVolatilityATRPoints:     120,
		MinLiquidityScore:          0,
		MaxQtyPerOrder:             2,
		AllowSymbols:               []string{"TMF", "TXF", "MXF"},
		LossScanLimit:              50,
	}
}

// Intent is the risk engine's view of an order request.
type Intent struct {
	Symbol     string
	Side       string
	Qty        float64
	EntryPrice float64
	Meta       map[string]any
}

// Engine evaluates the pre-trade risk gates.
type Engine struct {
	trades store.TradeStore
	costs  *cost.Model
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger
}

// NewEngine builds a risk engine. The cost model supplies point values for
// symbols missing from cfg.PointValueBySymbol.
func NewEngine(trades store.TradeStore, costs *cost.Model, cfg Config, log zerolog.Logger) *Engine {
	if costs == nil {
		costs = cost.DefaultModel()
	}
	if cfg.LossScanLimit <= 0 {
		cfg.LossScanLimit = 50
	}
	return &Engine{
		trades: trades,
		costs:  costs,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("component", "risk").Logger(),
	}
}

// WithClock overrides the engine clock (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) pointValue(symbol string) float64 {
	base := cost.BaseSymbol(symbol)
	if pv, ok := e.cfg.PointValueBySymbol[base]; ok {
		return pv
	}
	if pv, ok := e.costs.Multipliers[base]; ok {
		return pv
	}
	return 0
}

// CheckPreTrade applies the risk gates in order and short-circuits on the
// first failure.
func (e *Engine) CheckPreTrade(ctx context.Context, in Intent) (verdict.Verdict, error) {
	cfg := e.cfg
	meta := in.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	// 1) symbol prefix allowlist
	allowed := false
	for _, pref := range cfg.AllowSymbols {
		if strings.HasPrefix(in.Symbol, pref) {
			allowed = true
			break
		}
	}
	if !allowed {
		return verdict.Fail(CodeSymbolNotAllowed, fmt.Sprintf("symbol not allowed: %s", in.Symbol),
			map[string]any{"symbol": in.Symbol, "allow_prefixes": cfg.AllowSymbols}), nil
	}

	// 2) qty bounds
	if in.Qty <= 0 || in.Qty > cfg.MaxQtyPerOrder {
		return verdict.Fail(CodeQtyLimit,
			fmt.Sprintf("qty invalid/too large: %g > %g", in.Qty, cfg.MaxQtyPerOrder),
			map[string]any{"qty": in.Qty, "max_qty_per_order": cfg.MaxQtyPerOrder}), nil
	}

	// 3) side
	side := strings.ToUpper(in.Side)
	if side != store.SideBuy && side != store.SideSell {
		return verdict.Fail(CodeSideInvalid, fmt.Sprintf("invalid side: %s", in.Side),
			map[string]any{"side": in.Side}), nil
	}

	// 4) entry price, deriving from ref_price or best-of-book for MARKET
	entry := in.EntryPrice
	mm, _ := meta["market_metrics"].(map[string]any)
	if entry <= 0 {
		if rp, ok := payload.Float(meta["ref_price"]); ok && rp > 0 {
			entry = rp
		} else if mm != nil {
			bid, bidOK := payload.Float(mm["bid"])
			ask, askOK := payload.Float(mm["ask"])
			if bidOK && askOK {
				// conservative: BUY pays the ask, SELL hits the bid
				if side == store.SideBuy {
					entry = ask
				} else {
					entry = bid
				}
			}
		}
	}
	if entry <= 0 {
		return verdict.Fail(CodePriceInvalid, fmt.Sprintf("invalid entry_price: %g", entry),
			map[string]any{"entry_price": entry}), nil
	}

	// 5) stop discipline; closing orders are never blocked
	reduceOnly := payload.Bool(meta["reduce_only"]) || payload.Bool(meta["close_only"])
	intentKind := payload.String(meta["intent"])
	if intentKind == "" {
		intentKind = payload.String(meta["intent_kind"])
	}
	if intentKind == "CLOSE" || intentKind == "EXIT" {
		reduceOnly = true
	}
	stopRaw, hasStop := meta["stop_price"]
	if hasStop && stopRaw == nil {
		hasStop = false
	}
	if cfg.StrictRequireStop == 1 && !hasStop && !reduceOnly {
		return verdict.Fail(CodeStopRequired, "strict_require_stop=1 but meta.stop_price missing",
			map[string]any{"strict_require_stop": cfg.StrictRequireStop}), nil
	}

	// 6) per-trade worst loss when a stop exists
	var perTradeRisk *float64
	if hasStop {
		stop, ok := payload.Float(stopRaw)
		if !ok || stop <= 0 {
			return verdict.Fail(CodeStopInvalid, fmt.Sprintf("invalid stop_price: %v", stopRaw),
				map[string]any{"stop_price": stopRaw}), nil
		}
		// LONG loses when price falls to the stop; SHORT when it rises.
		lossPoints := entry - stop
		if side == store.SideSell {
			lossPoints = stop - entry
		}
		if lossPoints < 0 {
			lossPoints = 0
		}
		risk := lossPoints * in.Qty * e.pointValue(in.Symbol)
		perTradeRisk = &risk
		if risk > cfg.PerTradeMaxLoss {
			return verdict.Fail(CodePerTradeMaxLoss,
				fmt.Sprintf("per-trade risk too high: %.2f > %.2f", risk, cfg.PerTradeMaxLoss),
				map[string]any{"per_trade_risk": risk, "per_trade_max_loss": cfg.PerTradeMaxLoss}), nil
		}
	}

	// 7-8) market-quality gates
	if v := e.checkMarketQuality(meta, mm); !v.OK {
		return v, nil
	}

	// 9-10) realized-loss gates from the trade store
	if v, err := e.checkLossGates(ctx); err != nil || !v.OK {
		return v, err
	}

	return verdict.Pass("OK", "pre-trade gates pass", map[string]any{
		"symbol":         in.Symbol,
		"side":           side,
		"qty":            in.Qty,
		"entry_price":    entry,
		"per_trade_risk": derefOrNil(perTradeRisk),
	}), nil
}

func (e *Engine) checkMarketQuality(meta, mm map[string]any) verdict.Verdict {
	cfg := e.cfg
	if cfg.StrictRequireMarketMetrics == 1 && len(mm) == 0 {
		return verdict.Fail(CodeMetricsRequired,
			"strict_require_market_metrics=1 but meta.market_metrics missing/empty",
			map[string]any{"strict_require_market_metrics": cfg.StrictRequireMarketMetrics})
	}

	// metrics may arrive nested or as top-level meta keys
	lookup := func(key string) (float64, bool) {
		if mm != nil {
			if v, ok := mm[key]; ok && v != nil {
				return payload.Float(v)
			}
		}
		if v, ok := meta[key]; ok && v != nil {
			return payload.Float(v)
		}
		return 0, false
	}

	if spread, ok := lookup("spread_points"); ok && spread > cfg.MaxSpreadPoints {
		return verdict.Fail(CodeSpreadTooWide,
			fmt.Sprintf("spread too wide: %g > %g (points)", spread, cfg.MaxSpreadPoints),
			map[string]any{"spread_points": spread, "max_spread_points": cfg.MaxSpreadPoints})
	}
	if atr, ok := lookup("atr_points"); ok && atr > cfg.MaxVolatilityATRPoints {
		return verdict.Fail(CodeVolTooHigh,
			fmt.Sprintf("volatility too high (ATR): %g > %g (points)", atr, cfg.MaxVolatilityATRPoints),
			map[string]any{"atr_points": atr, "max_volatility_atr_points": cfg.MaxVolatilityATRPoints})
	}
	if liq, ok := lookup("liquidity_score"); ok && liq < cfg.MinLiquidityScore {
		return verdict.Fail(CodeLiquidityLow,
			fmt.Sprintf("liquidity too low: %g < %g", liq, cfg.MinLiquidityScore),
			map[string]any{"liquidity_score": liq, "min_liquidity_score": cfg.MinLiquidityScore})
	}
	return verdict.Pass("OK", "market quality ok", nil)
}

func (e *Engine) checkLossGates(ctx context.Context) (verdict.Verdict, error) {
	cfg := e.cfg
	now := e.now()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	todayPnL, err := e.trades.RealizedPnLBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("failed to read today's realized pnl: %w", err)
	}
	if todayPnL <= -abs(cfg.DailyMaxLoss) {
		return verdict.Fail(CodeDailyMaxLoss,
			fmt.Sprintf("daily max loss hit: %.2f <= -%.2f", todayPnL, abs(cfg.DailyMaxLoss)),
			map[string]any{"today_realized_pnl_ntd": todayPnL, "daily_max_loss_ntd": cfg.DailyMaxLoss}), nil
	}

	consec, err := e.trades.ConsecutiveLosses(ctx, cfg.LossScanLimit)
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("failed to count consecutive losses: %w", err)
	}
	if consec >= cfg.ConsecutiveLossesLimit {
		lastLoss, err := e.trades.LastLossTime(ctx)
		if err != nil {
			return verdict.Verdict{}, fmt.Errorf("failed to read last loss time: %w", err)
		}
		var minsSince *float64
		if lastLoss != nil {
			m := now.Sub(*lastLoss).Minutes()
			minsSince = &m
		}
		if minsSince == nil || *minsSince < float64(cfg.CooldownMinutes) {
			return verdict.Fail(CodeConsecLossCooldown,
				fmt.Sprintf("consecutive losses=%d (limit=%d), cooldown active", consec, cfg.ConsecutiveLossesLimit),
				map[string]any{
					"consecutive_losses":      consec,
					"limit":                   cfg.ConsecutiveLossesLimit,
					"cooldown_minutes":        cfg.CooldownMinutes,
					"minutes_since_last_loss": derefOrNil(minsSince),
					"last_loss_ts":            lastLoss,
				}), nil
		}
	}
	return verdict.Pass("OK", "loss gates ok", nil), nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func derefOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
