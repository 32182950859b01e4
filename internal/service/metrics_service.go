package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// booking/accrual engines.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	bookingsTotal         prometheus.Counter
	bookingConflictsTotal prometheus.Counter
	completionsTotal      prometheus.Counter
	paymentRemindersTotal prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	bookingsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appointments_booked_total",
		Help: "Total appointments successfully booked",
	})

	bookingConflictsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_conflicts_total",
		Help: "Total booking attempts rejected due to slot conflicts",
	})

	completionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appointments_completed_total",
		Help: "Total appointments transitioned to COMPLETED",
	})

	paymentRemindersTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_reminders_total",
		Help: "Total payment reminder notification pairs enqueued",
	})

	registry.MustRegister(requestDuration, requestTotal, bookingsTotal,
		bookingConflictsTotal, completionsTotal, paymentRemindersTotal)

	return &MetricsService{
		registry:              registry,
		handler:               promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:       requestDuration,
		requestTotal:          requestTotal,
		bookingsTotal:         bookingsTotal,
		bookingConflictsTotal: bookingConflictsTotal,
		completionsTotal:      completionsTotal,
		paymentRemindersTotal: paymentRemindersTotal,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	if s == nil {
		return promhttp.Handler()
	}
	return s.handler
}

// ObserveHTTPRequest records request duration and count.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// IncBooking counts a successful booking.
func (s *MetricsService) IncBooking() {
	if s == nil {
		return
	}
	s.bookingsTotal.Inc()
}

// IncBookingConflict counts a rejected overlapping booking.
func (s *MetricsService) IncBookingConflict() {
	if s == nil {
		return
	}
	s.bookingConflictsTotal.Inc()
}

// IncCompletion counts an appointment completion.
func (s *MetricsService) IncCompletion() {
	if s == nil {
		return
	}
	s.completionsTotal.Inc()
}

// IncPaymentReminder counts an enqueued payment reminder pair.
func (s *MetricsService) IncPaymentReminder() {
	if s == nil {
		return
	}
	s.paymentRemindersTotal.Inc()
}
