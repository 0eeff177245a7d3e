package db

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leftmike/roomdb/datafile"
)

type storeMetrics struct {
	operations    *prometheus.CounterVec
	lockWait      prometheus.Summary
	slotsReused   prometheus.Counter
	slotsAppended prometheus.Counter
}

func newStoreMetrics(registerer prometheus.Registerer) *storeMetrics {
	m := &storeMetrics{}

	m.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "operations_total",
		Help: "Total number of record store operations by result.",
	}, []string{"op", "result"})

	m.lockWait = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "lock_wait_seconds",
		Help:       "Time spent waiting to acquire a record lock.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	m.slotsReused = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slots_reused_total",
		Help: "Total number of creates that reused a deleted slot.",
	})

	m.slotsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slots_appended_total",
		Help: "Total number of creates that appended a new slot.",
	})

	// A nil registerer wraps to a no-op registerer.
	prometheus.WrapRegistererWithPrefix("roomdb_store_", registerer).MustRegister(
		m.operations, m.lockWait, m.slotsReused, m.slotsAppended)
	return m
}

func result(err error) string {
	var fe *datafile.FormatError
	var ioe *datafile.IOError

	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthorization):
		return "unauthorized"
	case errors.As(err, &fe):
		return "format"
	case errors.As(err, &ioe):
		return "io"
	}
	return "error"
}

func (m *storeMetrics) observe(op string, err error) {
	m.operations.WithLabelValues(op, result(err)).Inc()
}
