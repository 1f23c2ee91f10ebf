// Package export exposes published BMS updates as prometheus series, one
// gauge per device and metric.
package export

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/homefleet/bmsble/pkg/monitor"
)

type Exporter struct {
	values *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bms",
			Name:      "value",
			Help:      "Battery telemetry by device and metric.",
		}, []string{"device", "metric"}),
	}
	reg.MustRegister(e.values)
	return e
}

// Handle publishes one update. Boolean metrics export as 0/1, anything
// non-numeric is skipped.
func (e *Exporter) Handle(u monitor.Update) {
	for key := range u.Values {
		if b, ok := u.Values.Bool(key); ok {
			val := 0.0
			if b {
				val = 1.0
			}
			e.values.WithLabelValues(u.Device, string(key)).Set(val)
			continue
		}
		if f, ok := u.Values.Float(key); ok {
			e.values.WithLabelValues(u.Device, string(key)).Set(f)
		}
	}
}

// Run consumes updates until the channel closes.
func (e *Exporter) Run(updates <-chan monitor.Update) {
	for u := range updates {
		e.Handle(u)
	}
}
