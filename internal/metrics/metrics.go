package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"product"},
	)
	FeedTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_ticks_total", Help: "Trades received from the market data feed"},
		[]string{"product", "provider"},
	)
	PeriodsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "periods_total", Help: "Candles closed by the aggregator"},
		[]string{"product"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders placed, synthesized or submitted"},
		[]string{"product", "side"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Orders filled and written to the ledger"},
		[]string{"product", "side"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_rejections_total", Help: "Signal attempts aborted, by error kind"},
		[]string{"kind"},
	)
	StopTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stop_triggers_total", Help: "Stop levels that produced a signal"},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, FeedTicksTotal, PeriodsTotal, OrdersTotal, FillsTotal, RejectionsTotal, StopTriggersTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
