package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatFillOrg renders a fill as an Org-mode entry. Structured facts go in
// the PROPERTIES drawer so they stay searchable.
func FormatFillOrg(r FillRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Fill: %s %d %s (%s)\n", r.Side, r.Qty, r.Symbol, shortID(r.FillID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":FILL_ID: %s\n", r.FillID)
	fmt.Fprintf(&b, ":SESSION: %s\n", r.SessionID)
	fmt.Fprintf(&b, ":TIME: %s\n", r.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":BUCKET: %s\n", r.Bucket)
	fmt.Fprintf(&b, ":SYMBOL: %s:%s\n", r.Exchange, r.Symbol)
	fmt.Fprintf(&b, ":SIDE: %s\n", r.Side)
	fmt.Fprintf(&b, ":QTY: %d\n", r.Qty)
	fmt.Fprintf(&b, ":PRICE: %.2f\n", r.Price)
	fmt.Fprintf(&b, ":ORDER_ID: %s\n", r.OrderID)
	if r.Fallback {
		b.WriteString(":FALLBACK: market\n")
	}
	b.WriteString(":END:\n")
	return b.String()
}

// FormatFillsOrg renders fills under one heading per bucket, in the order
// the buckets first appear.
func FormatFillsOrg(fills []FillRecord) string {
	var order []string
	groups := map[string][]FillRecord{}
	for _, r := range fills {
		if _, ok := groups[r.Bucket]; !ok {
			order = append(order, r.Bucket)
		}
		groups[r.Bucket] = append(groups[r.Bucket], r)
	}

	var b strings.Builder
	for i, bucket := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "* %s\n", bucket)
		for _, r := range groups[bucket] {
			b.WriteString(FormatFillOrg(r))
		}
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
