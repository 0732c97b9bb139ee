package backup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manholedex_backup_operations_total",
		Help: "Total backup operations by type and status",
	}, []string{"operation", "status"})

	durationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "manholedex_backup_duration_seconds",
		Help:    "Time to export or import a backup document",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation", "status"})

	sizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manholedex_backup_size_bytes",
		Help: "Size of the most recent backup document in bytes",
	})
)

const (
	opExport          = "export"
	opExportSecondary = "export_secondary"
	opImport          = "import"
)

// observe records one finished operation.
func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	operationsTotal.WithLabelValues(operation, status).Inc()
	durationHistogram.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
