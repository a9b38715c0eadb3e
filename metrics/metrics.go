package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/transformer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "smartthings_influx_"

	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds the poller's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastSuccess   prometheus.Gauge
	devices       prometheus.Gauge
	deviceErrors  prometheus.Counter
	points        *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "poll_cycles_total",
			Help: "Polling cycles by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "poll_cycle_duration_seconds",
			Help:    "Duration of a polling cycle",
			Buckets: prometheus.DefBuckets,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_success_timestamp_seconds",
			Help: "Last successful cycle (epoch seconds)",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "devices",
			Help: "Devices returned by the last device list",
		}),
		deviceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "device_status_errors_total",
			Help: "Device status requests that failed",
		}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "points_total",
			Help: "Points handed to storage by measurement",
		}, []string{"measurement"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "dropped_readings_total",
			Help: "Readings that produced no point by measurement and reason",
		}, []string{"measurement", "reason"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "storage_errors_total",
			Help: "Failed storage writes by backend",
		}, []string{"backend"}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.lastSuccess,
		m.devices,
		m.deviceErrors,
		m.points,
		m.dropped,
		m.storageErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records the outcome of one polling cycle
func (m *Metrics) ObserveCycle(err error, duration time.Duration) {
	m.cycleDuration.Observe(duration.Seconds())
	if err != nil {
		m.cycles.WithLabelValues(ResultError).Inc()
		return
	}
	m.cycles.WithLabelValues(ResultSuccess).Inc()
	m.lastSuccess.SetToCurrentTime()
}

// SetDevices records the size of the device list
func (m *Metrics) SetDevices(n int) {
	m.devices.Set(float64(n))
}

// DeviceError counts a failed status request
func (m *Metrics) DeviceError() {
	m.deviceErrors.Inc()
}

// ObservePoints counts points by measurement
func (m *Metrics) ObservePoints(points []transformer.Point) {
	for _, p := range points {
		m.points.WithLabelValues(p.Measurement).Inc()
	}
}

// Dropped is a transformer.DropHandler
func (m *Metrics) Dropped(_ transformer.DeviceInfo, measurement string, reason transformer.DropReason) {
	m.dropped.WithLabelValues(measurement, string(reason)).Inc()
}

// StorageError is a storage.ErrorHook
func (m *Metrics) StorageError(backend string, _ error) {
	m.storageErrors.WithLabelValues(backend).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics on listen until ctx is done
func (m *Metrics) Serve(ctx context.Context, listen, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics on %s%s", listen, path)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
