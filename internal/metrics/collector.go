// Package metrics exposes Prometheus counters and gauges for the fuel
// dispenser core: protocol health, pump state, sale throughput and RFID
// cooldown rejections.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "fuelcore"
	subsystem = "pump"
)

// Collector holds every fuelcore Prometheus metric.
type Collector struct {
	// FramesDecoded counts frames that parsed as structurally valid,
	// labeled by whether their CRC also checked out.
	FramesDecoded *prometheus.CounterVec

	// PumpState reports the current PumpState as a 1/0 gauge per state
	// label, so exactly one series is 1 at a time.
	PumpState *prometheus.GaugeVec

	// SalesCompleted counts sale-completion edges committed to the usage
	// log.
	SalesCompleted prometheus.Counter

	// RfidCooldownRejections counts nozzle-out events ignored because the
	// post-auth cooldown was still active.
	RfidCooldownRejections prometheus.Counter

	// RfidAuthResults counts RFID auth attempts, labeled by outcome.
	RfidAuthResults *prometheus.CounterVec
}

// NewCollector builds and registers a Collector. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()
	reg.MustRegister(
		c.FramesDecoded,
		c.PumpState,
		c.SalesCompleted,
		c.RfidCooldownRejections,
		c.RfidAuthResults,
	)
	return c
}

func newMetrics() *Collector {
	return &Collector{
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_decoded_total",
			Help:      "R07 frames decoded, labeled by crc_ok.",
		}, []string{"crc_ok"}),

		PumpState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Current pump state, one series set to 1 at a time.",
		}, []string{"state"}),

		SalesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sales_completed_total",
			Help:      "Sale-completion edges committed to the usage log.",
		}),

		RfidCooldownRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rfid",
			Name:      "cooldown_rejections_total",
			Help:      "Nozzle-out events ignored because the post-auth cooldown was active.",
		}),

		RfidAuthResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rfid",
			Name:      "auth_results_total",
			Help:      "RFID auth attempts, labeled by outcome (authorized/unauthorized).",
		}, []string{"outcome"}),
	}
}

// RecordFrame logs one decoded frame's CRC outcome.
func (c *Collector) RecordFrame(crcOk bool) {
	c.FramesDecoded.WithLabelValues(boolLabel(crcOk)).Inc()
}

// allPumpStates lists every state label SetPumpState might zero out.
var allPumpStates = []string{
	"Unknown", "NotProgrammed", "Reset", "Authorized", "Filling",
	"FillingCompleted", "MaxAmount", "SwitchedOff", "Suspended",
}

// SetPumpState sets the named state's gauge to 1 and every other known
// state to 0.
func (c *Collector) SetPumpState(state string) {
	for _, s := range allPumpStates {
		if s == state {
			c.PumpState.WithLabelValues(s).Set(1)
		} else {
			c.PumpState.WithLabelValues(s).Set(0)
		}
	}
}

// RecordSaleCompleted bumps the sale-completion counter.
func (c *Collector) RecordSaleCompleted() {
	c.SalesCompleted.Inc()
}

// RecordCooldownRejection bumps the RFID cooldown-rejection counter.
func (c *Collector) RecordCooldownRejection() {
	c.RfidCooldownRejections.Inc()
}

// RecordAuthResult bumps the RFID auth-result counter for the given
// outcome.
func (c *Collector) RecordAuthResult(authorized bool) {
	outcome := "unauthorized"
	if authorized {
		outcome = "authorized"
	}
	c.RfidAuthResults.WithLabelValues(outcome).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
