package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lbbs_io_sessions_active",
		Help: "Currently registered I/O sessions.",
	})

	TransformSetups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lbbs_io_transform_setups_total",
		Help: "Transformation setup attempts by kind and result.",
	}, []string{"kind", "result"})

	TransformTeardowns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lbbs_io_transform_teardowns_total",
		Help: "Transformations torn down.",
	})

	ReadTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lbbs_readline_timeouts_total",
		Help: "Delimited reads that timed out or saw the peer close.",
	})
)

func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
