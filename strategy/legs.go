package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/straddle/broker"
	"github.com/rustyeddy/straddle/execution"
	"github.com/rustyeddy/straddle/ledger"
	"github.com/rustyeddy/straddle/market"
	"github.com/rustyeddy/straddle/status"
	"github.com/sirupsen/logrus"
)

func (m *Machine) order(bucket ledger.Bucket, symbol string, side broker.Side, qty int) execution.Order {
	return execution.Order{
		Bucket:   bucket,
		Exchange: m.und.OptionsExchange,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
	}
}

func (m *Machine) place(ctx context.Context, o execution.Order) bool {
	out, err := m.exec.Execute(ctx, o)
	if err != nil {
		log.WithError(err).WithField("symbol", o.Symbol).Error("execute")
		return false
	}
	return out.OK()
}

// enterDebit buys the ATM option and sells the next strike out.
func (m *Machine) enterDebit(ctx context.Context, dir Direction, in Inputs) error {
	atm := m.und.ATM(in.Index)
	typ, otm := market.Call, atm+int(m.und.StrikeStep)
	if dir == Short {
		typ, otm = market.Put, atm-int(m.und.StrikeStep)
	}
	buyLeg := m.und.OptionSymbol(m.cfg.Expiry, atm, typ)
	sellLeg := m.und.OptionSymbol(m.cfg.Expiry, otm, typ)
	q := m.cfg.Quantity

	log.WithFields(logrus.Fields{
		"side":  dir,
		"buy":   buyLeg,
		"sell":  sellLeg,
		"qty":   q,
		"index": in.Index,
	}).Info("debit spread entry")
	m.sink.Action(ctx, ActionDebitEntry, map[string]any{
		"side":     string(dir),
		"buy_leg":  buyLeg,
		"sell_leg": sellLeg,
		"quantity": q,
		"straddle": in.Straddle,
		"index":    in.Index,
	})

	bought := m.place(ctx, m.order(ledger.DebitSpread, buyLeg, broker.Buy, q))
	sold := m.place(ctx, m.order(ledger.DebitSpread, sellLeg, broker.Sell, q))

	if m.ledger.Flat(ledger.DebitSpread) {
		return fmt.Errorf("%s debit spread: no leg filled", dir)
	}
	m.state = DebitSpread
	m.direction = dir
	m.stop = in.StraddleLow
	m.peak = in.Straddle
	if !bought || !sold {
		return fmt.Errorf("%s debit spread: partial entry (buy %t, sell %t)", dir, bought, sold)
	}
	m.sink.Status(ctx, status.StateRunning, fmt.Sprintf("%s debit spread active, stop %.2f", dir, m.stop))
	return nil
}

// enterBatman buys the far hedge and sells the nearer strike on each side
// of the index. The short leg is only sold once its hedge filled.
func (m *Machine) enterBatman(ctx context.Context, in Inputs) error {
	q := m.cfg.Quantity
	legs := []struct {
		typ   market.OptionType
		main  int
		hedge int
	}{
		{market.Call, m.und.RoundStrike(in.Index * (1 + m.cfg.StraddleGap())), m.und.RoundStrike(in.Index * (1 + m.cfg.HedgeGap()))},
		{market.Put, m.und.RoundStrike(in.Index * (1 - m.cfg.StraddleGap())), m.und.RoundStrike(in.Index * (1 - m.cfg.HedgeGap()))},
	}

	m.sink.Action(ctx, ActionBatmanEntry, map[string]any{
		"index":            in.Index,
		"ce_strike":        legs[0].main,
		"pe_strike":        legs[1].main,
		"ce_hedge":         legs[0].hedge,
		"pe_hedge":         legs[1].hedge,
		"quantity":         q,
		"straddle_gap_pct": m.cfg.StraddleGapPct,
		"hedge_gap_pct":    m.cfg.HedgeGapPct,
	})

	var errs []error
	for _, leg := range legs {
		mainSym := m.und.OptionSymbol(m.cfg.Expiry, leg.main, leg.typ)
		hedgeSym := m.und.OptionSymbol(m.cfg.Expiry, leg.hedge, leg.typ)

		hq, err := m.hedgeQty(ctx, mainSym, hedgeSym)
		if err != nil {
			errs = append(errs, fmt.Errorf("batman %s: %w", leg.typ, err))
			continue
		}
		if !m.place(ctx, m.order(ledger.Batman, hedgeSym, broker.Buy, hq)) {
			errs = append(errs, fmt.Errorf("batman %s: hedge %s not filled", leg.typ, hedgeSym))
			continue
		}
		if !m.place(ctx, m.order(ledger.Batman, mainSym, broker.Sell, q)) {
			errs = append(errs, fmt.Errorf("batman %s: short %s not filled", leg.typ, mainSym))
		}
	}

	if m.ledger.Flat(ledger.Batman) {
		errs = append(errs, errors.New("batman: no leg filled"))
		return errors.Join(errs...)
	}
	m.state = Batman
	m.pivot, m.hasPivot = in.Index, true
	m.stop = in.StraddleHigh
	m.sink.Status(ctx, status.StateRunning,
		fmt.Sprintf("batman active: pivot %.2f, stop %.2f", m.pivot, m.stop))
	return errors.Join(errs...)
}

// hedgeQty sizes the hedge leg. With a ratio other than 1 the hedge carries
// ratio times the main leg's premium, rounded to whole lots.
func (m *Machine) hedgeQty(ctx context.Context, mainSym, hedgeSym string) (int, error) {
	q := m.cfg.Quantity
	if m.cfg.QtyHedgeRatio == 1 {
		return q, nil
	}
	ltpMain, err := m.quotes.Quote(ctx, m.und.Key(mainSym))
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", mainSym, err)
	}
	ltpHedge, err := m.quotes.Quote(ctx, m.und.Key(hedgeSym))
	if err != nil {
		return 0, fmt.Errorf("quote %s: %w", hedgeSym, err)
	}
	if ltpHedge <= 0 {
		return 0, fmt.Errorf("quote %s: non-positive price %v", hedgeSym, ltpHedge)
	}
	lot := float64(m.und.LotSize)
	hq := int(math.Round(float64(q)*ltpMain*m.cfg.QtyHedgeRatio/ltpHedge/lot) * lot)
	if hq <= 0 {
		return 0, fmt.Errorf("hedge quantity rounds to zero lots")
	}
	return hq, nil
}

// exitBucket buys back shorts, then sells longs, then settles the bucket.
// An error means legs are still open; the bucket is not settled.
func (m *Machine) exitBucket(ctx context.Context, bucket ledger.Bucket) error {
	positions := m.ledger.Positions(bucket)
	if len(positions) == 0 {
		if len(m.ledger.ClosedPnLs(bucket)) > 0 {
			m.ledger.Settle(bucket)
		}
		return nil
	}
	log.WithFields(logrus.Fields{"bucket": bucket, "legs": len(positions)}).Info("closing bucket")

	closed := 0
	for _, short := range []bool{true, false} {
		for _, p := range positions {
			if (p.Qty < 0) != short {
				continue
			}
			side, qty := broker.Sell, p.Qty
			if short {
				side, qty = broker.Buy, -p.Qty
			}
			if m.place(ctx, m.order(bucket, p.Symbol, side, qty)) {
				closed++
			}
		}
	}

	realized, ok := m.ledger.Settle(bucket)
	if !ok {
		return fmt.Errorf("close %s: %d/%d legs closed, %d still open",
			bucket, closed, len(positions), len(m.ledger.Positions(bucket)))
	}
	m.sink.Status(ctx, status.StateRunning,
		fmt.Sprintf("%s exited: %d/%d legs, realized %.2f", bucket, closed, len(positions), realized))
	return nil
}
