package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticksonic_trades_total", Help: "Trades received from the feed"},
		[]string{"symbol"},
	)
	FilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticksonic_filtered_total", Help: "Trades below the dollar threshold"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticksonic_signals_total", Help: "Trades emitted as signals, by zone"},
		[]string{"symbol", "zone"},
	)
	EventErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ticksonic_event_errors_total", Help: "Stream events skipped because of an error"},
	)
	PlaybackErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ticksonic_playback_errors_total", Help: "Sounds that failed to start"},
	)
)

func init() {
	prometheus.MustRegister(TradesTotal, FilteredTotal, SignalsTotal, EventErrorsTotal, PlaybackErrorsTotal)
}

func Handler() http.Handler { return promhttp.Handler() }
