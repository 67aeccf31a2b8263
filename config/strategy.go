package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/market"
)

// Strategy is the validated parameter snapshot a session runs with. It is
// built once at start and never mutated afterwards. Percentages are stored
// as entered (1 means one percent); use the fraction accessors in math.
type Strategy struct {
	Index  string `json:"-" yaml:"-"`
	Expiry string `json:"-" yaml:"-"`

	Quantity          int            `json:"quantity" yaml:"quantity"`
	QtyHedgeRatio     float64        `json:"qty_hedge_ratio" yaml:"qty_hedge_ratio"`
	PivotRangeMinutes int            `json:"pivot_range_minutes" yaml:"pivot_range_minutes"`
	ShiftThresholdPts int            `json:"shift_threshold_pts" yaml:"shift_threshold_pts"`
	StraddleGapPct    float64        `json:"straddle_gap_pct" yaml:"straddle_gap_pct"`
	HedgeGapPct       float64        `json:"hedge_gap_pct" yaml:"hedge_gap_pct"`
	OrderBufferPct    float64        `json:"order_buffer_pct" yaml:"order_buffer_pct"`
	FillTimeoutSec    int            `json:"fill_timeout_sec" yaml:"fill_timeout_sec"`
	RMSCap            float64        `json:"rms_cap" yaml:"rms_cap"`
	StopLossBufferPct float64        `json:"stop_loss_buffer_pct" yaml:"stop_loss_buffer_pct"`
	TargetPnL         float64        `json:"target_pnl" yaml:"target_pnl"`
	ExitPnL           float64        `json:"exit_pnl" yaml:"exit_pnl"`
	RollingValue      float64        `json:"rolling_value" yaml:"rolling_value"`
	TrailStopLoss     bool           `json:"trail_stop_loss" yaml:"trail_stop_loss"`
	ProductType       broker.Product `json:"product_type" yaml:"product_type"`
}

// DefaultStrategy mirrors the values the dashboard publishes when a field
// is left blank.
func DefaultStrategy() Strategy {
	return Strategy{
		Quantity:          75,
		QtyHedgeRatio:     1.0,
		PivotRangeMinutes: 15,
		ShiftThresholdPts: 50,
		StraddleGapPct:    1.0,
		HedgeGapPct:       2.5,
		OrderBufferPct:    0.3,
		FillTimeoutSec:    5,
		RMSCap:            -100000,
		StopLossBufferPct: 1.0,
		TargetPnL:         1000,
		ExitPnL:           -500,
		RollingValue:      100,
		TrailStopLoss:     true,
		ProductType:       broker.MIS,
	}
}

func (s Strategy) StraddleGap() float64    { return s.StraddleGapPct / 100 }
func (s Strategy) HedgeGap() float64       { return s.HedgeGapPct / 100 }
func (s Strategy) OrderBuffer() float64    { return s.OrderBufferPct / 100 }
func (s Strategy) StopLossBuffer() float64 { return s.StopLossBufferPct / 100 }

func (s Strategy) FillTimeout() time.Duration {
	return time.Duration(s.FillTimeoutSec) * time.Second
}

// Underlying resolves the index contract parameters.
func (s Strategy) Underlying() (market.Underlying, error) {
	return market.LookupUnderlying(s.Index)
}

func (s Strategy) Validate() error {
	if _, err := s.Underlying(); err != nil {
		return err
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if s.QtyHedgeRatio <= 0 {
		return fmt.Errorf("qty_hedge_ratio must be positive")
	}
	if s.PivotRangeMinutes < 1 {
		return fmt.Errorf("pivot_range_minutes must be at least 1")
	}
	if s.ShiftThresholdPts <= 0 {
		return fmt.Errorf("shift_threshold_pts must be positive")
	}
	if s.StraddleGapPct < 0 || s.HedgeGapPct < 0 || s.OrderBufferPct < 0 || s.StopLossBufferPct < 0 {
		return fmt.Errorf("percentages must not be negative")
	}
	if s.HedgeGapPct <= s.StraddleGapPct {
		return fmt.Errorf("hedge_gap_pct must exceed straddle_gap_pct")
	}
	if s.StopLossBufferPct >= 100 {
		return fmt.Errorf("stop_loss_buffer_pct must be below 100")
	}
	if s.FillTimeoutSec <= 0 {
		return fmt.Errorf("fill_timeout_sec must be positive")
	}
	if s.TargetPnL <= 0 {
		return fmt.Errorf("target_pnl must be positive")
	}
	if s.ExitPnL >= s.TargetPnL {
		return fmt.Errorf("exit_pnl must be below target_pnl")
	}
	if s.TrailStopLoss && s.RollingValue <= 0 {
		return fmt.Errorf("rolling_value must be positive when trailing is enabled")
	}
	if !s.ProductType.Valid() {
		return fmt.Errorf("product_type must be MIS or NRML")
	}
	return nil
}

// Input keys published under the strategy:input: prefix.
const (
	KeyIndex             = "index"
	KeyExpiry            = "expiry"
	KeyQuantity          = "Quantity"
	KeyQtyHedgeRatio     = "QtyHedgeRatio"
	KeyPivotRangeMinutes = "PivotRangeMinutes"
	KeyShiftThresholdPts = "ShiftThresholdPts"
	KeyStraddleGapPct    = "StraddleGapPct"
	KeyHedgeGapPct       = "HedgeGapPct"
	KeyOrderBufferPct    = "OrderBufferPct"
	KeyFillTimeoutSec    = "FillTimeoutSec"
	KeyRMSCap            = "RmsCap"
	KeyStopLossBufferPct = "StopLossBufferPct"
	KeyTargetPnL         = "TargetPnl"
	KeyExitPnL           = "ExitPnl"
	KeyRollingValue      = "RollingValue"
	KeyTrailStopLoss     = "TrailStopLossToggle"
	KeyProductType       = "ProductType"
)

// InputKeys lists every key StrategyFromInputs reads.
var InputKeys = []string{
	KeyIndex, KeyExpiry, KeyQuantity, KeyQtyHedgeRatio, KeyPivotRangeMinutes,
	KeyShiftThresholdPts, KeyStraddleGapPct, KeyHedgeGapPct, KeyOrderBufferPct,
	KeyFillTimeoutSec, KeyRMSCap, KeyStopLossBufferPct, KeyTargetPnL,
	KeyExitPnL, KeyRollingValue, KeyTrailStopLoss, KeyProductType,
}

// EssentialKeys must be present before a strategy can be built.
var EssentialKeys = []string{KeyIndex, KeyQuantity}

// StrategyFromInputs builds a validated snapshot from raw input values.
// Values may be JSON encoded ("\"NIFTY\"", "75", "true") or bare strings.
// Missing optional keys take their defaults; a missing essential key
// returns ErrConfigMissing.
func StrategyFromInputs(inputs map[string]string) (Strategy, error) {
	for _, k := range EssentialKeys {
		if v, ok := inputs[k]; !ok || unquote(v) == "" {
			return Strategy{}, fmt.Errorf("%w: %s", ErrConfigMissing, k)
		}
	}

	s := DefaultStrategy()
	p := inputParser{inputs: inputs}

	s.Index = strings.ToUpper(unquote(inputs[KeyIndex]))
	s.Expiry = strings.ToUpper(unquote(inputs[KeyExpiry]))
	p.int(KeyQuantity, &s.Quantity)
	p.float(KeyQtyHedgeRatio, &s.QtyHedgeRatio)
	p.int(KeyPivotRangeMinutes, &s.PivotRangeMinutes)
	p.int(KeyShiftThresholdPts, &s.ShiftThresholdPts)
	p.float(KeyStraddleGapPct, &s.StraddleGapPct)
	p.float(KeyHedgeGapPct, &s.HedgeGapPct)
	p.float(KeyOrderBufferPct, &s.OrderBufferPct)
	p.int(KeyFillTimeoutSec, &s.FillTimeoutSec)
	p.float(KeyRMSCap, &s.RMSCap)
	p.float(KeyStopLossBufferPct, &s.StopLossBufferPct)
	p.float(KeyTargetPnL, &s.TargetPnL)
	p.float(KeyExitPnL, &s.ExitPnL)
	p.float(KeyRollingValue, &s.RollingValue)
	p.bool(KeyTrailStopLoss, &s.TrailStopLoss)
	if v, ok := p.raw(KeyProductType); ok {
		prod, err := broker.ParseProduct(v)
		if err != nil {
			p.fail(KeyProductType, err)
		} else {
			s.ProductType = prod
		}
	}

	if p.err != nil {
		return Strategy{}, p.err
	}
	if err := s.Validate(); err != nil {
		return Strategy{}, fmt.Errorf("strategy inputs: %w", err)
	}
	return s, nil
}

// unquote decodes a JSON string value, leaving anything else trimmed.
func unquote(v string) string {
	v = strings.TrimSpace(v)
	var s string
	if err := json.Unmarshal([]byte(v), &s); err == nil {
		return strings.TrimSpace(s)
	}
	return v
}

type inputParser struct {
	inputs map[string]string
	err    error
}

func (p *inputParser) raw(key string) (string, bool) {
	v, ok := p.inputs[key]
	if !ok {
		return "", false
	}
	v = unquote(v)
	if v == "" || v == "null" {
		return "", false
	}
	return v, true
}

func (p *inputParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("input %s: %w", key, err)
	}
}

func (p *inputParser) float(key string, dst *float64) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = f
}

// int accepts "75" as well as "75.0".
func (p *inputParser) int(key string, dst *int) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = int(f)
}

func (p *inputParser) bool(key string, dst *bool) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = b
}
