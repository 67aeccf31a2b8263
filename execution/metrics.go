package execution

import "github.com/prometheus/client_golang/prometheus"

var (
	limitPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "straddle_limit_orders_placed_total",
			Help: "Count of limit order slices placed",
		},
		[]string{"side"}, // BUY|SELL
	)

	limitFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "straddle_limit_orders_filled_total",
			Help: "Count of limit order slices filled before the timeout",
		},
		[]string{"side"},
	)

	limitTimeout = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "straddle_limit_orders_timeout_total",
			Help: "Count of limit order slices that timed out and fell back to market",
		},
		[]string{"side"},
	)

	sliceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "straddle_slice_failures_total",
			Help: "Order slices that produced no fill, by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(limitPlaced, limitFilled, limitTimeout, sliceFailures)
}
