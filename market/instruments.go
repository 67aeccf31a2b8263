// market/instruments.go
package market

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// Underlying describes an index and the option chain traded against it.
type Underlying struct {
	Name            string
	Exchange        string // index exchange, "NSE"
	OptionsExchange string // derivatives segment, "NFO"
	IndexKey        string // historical data key for the index
	StrikeStep      float64
	LotSize         int
	FreezeLimit     int
}

var Underlyings = map[string]Underlying{
	"NIFTY": {
		Name:            "NIFTY",
		Exchange:        "NSE",
		OptionsExchange: "NFO",
		IndexKey:        "256265",
		StrikeStep:      50,
		LotSize:         75,
		FreezeLimit:     1800,
	},
	"SENSEX": {
		Name:            "SENSEX",
		Exchange:        "BSE",
		OptionsExchange: "BFO",
		IndexKey:        "265",
		StrikeStep:      100,
		LotSize:         20,
		FreezeLimit:     1000,
	},
}

// LookupUnderlying returns the metadata for name (case insensitive).
func LookupUnderlying(name string) (Underlying, error) {
	u, ok := Underlyings[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Underlying{}, fmt.Errorf("unknown underlying %q", name)
	}
	return u, nil
}

// RoundStrike rounds price to the nearest multiple of the strike step.
func (u Underlying) RoundStrike(price float64) int {
	return int(math.Round(price/u.StrikeStep) * u.StrikeStep)
}

// ATM returns the at-the-money strike for an index price.
func (u Underlying) ATM(index float64) int {
	return u.RoundStrike(index)
}

// OptionSymbol builds the trading symbol, e.g. NIFTY25OCT24500CE.
func (u Underlying) OptionSymbol(expiry string, strike int, typ OptionType) string {
	return fmt.Sprintf("%s%s%d%s", u.Name, expiry, strike, typ)
}

// Key qualifies a trading symbol with the options exchange, e.g.
// NFO:NIFTY25OCT24500CE.
func (u Underlying) Key(symbol string) string {
	return u.OptionsExchange + ":" + symbol
}

// IST is the exchange time zone.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// SessionOpen returns 09:15 exchange time on the day of t.
func SessionOpen(t time.Time) time.Time {
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), 9, 15, 0, 0, IST)
}
