package manager

import (
	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "battery_manager"

var (
	batteryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "charge_percent",
		Help:      "Battery charge percentage from the last sample.",
	})

	batteryTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "temperature_celsius",
		Help:      "Battery temperature from the last sample.",
	})

	heatPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "heat_paused",
		Help:      "1 while charging is suspended for heat.",
	})

	// One series per mode, set to 1 for the current mode.
	chargeMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "mode",
		Help:      "Current charge mode.",
	}, []string{"mode"})

	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cycles_total",
		Help:      "Control cycles run.",
	})

	telemetryFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "telemetry_fallbacks_total",
		Help:      "Samples that used fallback values.",
	})

	directivesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "directives_total",
		Help:      "Directives sent to the battery CLI.",
	}, []string{"kind"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "transitions_total",
		Help:      "State machine transitions.",
	}, []string{"transition"})

	actuatorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "actuator_failures_total",
		Help:      "Directives that failed to start or exited with an error.",
	}, []string{"kind"})
)

var allModes = []charge.Mode{charge.ModeCharging, charge.ModeSailing, charge.ModeReEvaluate}

type metricsObserver struct{}

func (metricsObserver) Observe(r Report) {
	cyclesTotal.Inc()
	batteryPercent.Set(float64(r.Percent))
	batteryTemperature.Set(r.Temperature)
	if r.Degraded {
		telemetryFallbacks.Inc()
	}
	if r.HeatPaused {
		heatPaused.Set(1)
	} else {
		heatPaused.Set(0)
	}
	for _, m := range allModes {
		v := 0.0
		if m == r.Mode {
			v = 1
		}
		chargeMode.WithLabelValues(string(m)).Set(v)
	}
	for _, t := range r.Transitions {
		transitionsTotal.WithLabelValues(t).Inc()
	}
	if d := r.Decision.Directive; !d.IsNone() {
		directivesTotal.WithLabelValues(d.Kind.String()).Inc()
		if r.ActuatorError != "" {
			actuatorFailures.WithLabelValues(d.Kind.String()).Inc()
		}
	}
}

// recordActuatorExit counts directives that exited with an error.
func recordActuatorExit(d charge.Directive, err error) {
	if err != nil {
		actuatorFailures.WithLabelValues(d.Kind.String()).Inc()
	}
}
