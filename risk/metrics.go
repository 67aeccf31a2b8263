package risk

import "github.com/prometheus/client_golang/prometheus"

var (
	mtmGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "straddle_mtm",
		Help: "Mark to market of the open buckets",
	})
	peakGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "straddle_mtm_peak",
		Help: "Highest MTM since the last bucket exit",
	})
	dayRealizedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "straddle_day_realized",
		Help: "Realized P/L of settled buckets this session",
	})

	riskExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "straddle_risk_exits_total",
			Help: "Session exits forced by the risk monitor",
		},
		[]string{"trigger"},
	)
)

func init() {
	prometheus.MustRegister(mtmGauge, peakGauge, dayRealizedGauge, riskExits)
}
