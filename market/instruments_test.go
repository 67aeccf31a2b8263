package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnderlyingStrikes(t *testing.T) {
	t.Parallel()

	nifty, err := LookupUnderlying("nifty")
	require.NoError(t, err)

	tests := []struct {
		name  string
		index float64
		want  int
	}{
		{"exact", 24500, 24500},
		{"round down", 24524.9, 24500},
		{"round up", 24525.1, 24550},
		{"half rounds away", 24525, 24550},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, nifty.ATM(tt.index))
		})
	}

	sym := nifty.OptionSymbol("25OCT", 24500, Call)
	assert.Equal(t, "NIFTY25OCT24500CE", sym)
	assert.Equal(t, "NFO:NIFTY25OCT24500CE", nifty.Key(sym))

	_, err = LookupUnderlying("BANKNIFTY")
	assert.Error(t, err)
}

func TestSessionOpen(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 10, 17, 6, 0, 0, 0, time.UTC) // 11:30 IST
	open := SessionOpen(now)
	assert.Equal(t, 9, open.Hour())
	assert.Equal(t, 15, open.Minute())
	assert.Equal(t, 17, open.Day())
	assert.True(t, open.Before(now))
}

func TestQuoteStore(t *testing.T) {
	t.Parallel()

	qs := NewQuoteStore()
	_, err := qs.Quote(context.Background(), "NFO:X")
	assert.ErrorIs(t, err, ErrNoQuote)

	qs.Set(Quote{Key: "NFO:X", Price: 12.5})
	px, err := qs.Quote(context.Background(), "NFO:X")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, px, 1e-9)
}
