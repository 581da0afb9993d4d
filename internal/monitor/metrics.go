package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_monitor_cycles_total",
			Help: "Completed monitor cycles by result",
		},
		[]string{"result"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alert_monitor_cycle_duration_seconds",
			Help:    "Duration of a full alert check cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	alertsChecked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_monitor_alerts_checked_total",
			Help: "Alerts evaluated by the monitor",
		},
	)

	alertsTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_monitor_alerts_triggered_total",
			Help: "Alerts delivered and marked triggered",
		},
	)

	alertErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_monitor_errors_total",
			Help: "Per-alert failures by stage",
		},
		[]string{"stage"},
	)

	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_monitor_deliveries_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"result"},
	)

	monitorRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_monitor_running",
			Help: "1 while the monitor loop is running",
		},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal, cycleDuration, alertsChecked, alertsTriggered, alertErrors, deliveriesTotal, monitorRunning)
}
