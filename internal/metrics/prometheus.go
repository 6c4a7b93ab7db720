package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"placementmail/internal/logging"
)

const namespace = "placementmail"

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged, never returned.
type PrometheusSink struct {
	jobsClaimedTotal      prometheus.Counter
	deliveryAttemptsTotal *prometheus.CounterVec
	sendDuration          prometheus.Histogram
	retriesScheduledTotal prometheus.Counter
	leasesLostTotal       prometheus.Counter
	circuitOpenTotal      *prometheus.CounterVec
	jobsInFlight          prometheus.Gauge
	rateLimitWait         prometheus.Histogram
	abandonedJobsTotal    prometheus.Counter
	sweepsTotal           prometheus.Counter

	logger *zap.Logger
}

// NewPrometheusSink creates the collectors and registers them with reg
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logging.OrNop(logger)}

	s.jobsClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "worker",
		Name: "jobs_claimed_total",
		Help: "Total number of send jobs leased by workers.",
	})
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "worker",
		Name: "delivery_attempts_total",
		Help: "Total number of delivery attempts by outcome.",
	}, []string{"outcome"})
	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "worker",
		Name:    "send_duration_seconds",
		Help:    "Mail transport latency per attempt in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.retriesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "worker",
		Name: "retries_scheduled_total",
		Help: "Total number of jobs released for a later retry.",
	})
	s.leasesLostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "worker",
		Name: "leases_lost_total",
		Help: "Total number of acknowledgements rejected because the lease had moved on.",
	})
	s.circuitOpenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "worker",
		Name: "circuit_open_total",
		Help: "Total number of jobs deferred by an open per-domain circuit.",
	}, []string{"domain"})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "worker",
		Name: "jobs_in_flight",
		Help: "Number of jobs currently being processed.",
	})
	s.rateLimitWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "worker",
		Name:    "rate_limit_wait_seconds",
		Help:    "Time spent waiting for send rate permission.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.abandonedJobsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sweeper",
		Name: "abandoned_jobs_cancelled_total",
		Help: "Total number of expired leases in cancelled campaigns closed by the sweeper.",
	})
	s.sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sweeper",
		Name: "runs_total",
		Help: "Total number of sweeper passes.",
	})

	s.register(reg,
		s.jobsClaimedTotal,
		s.deliveryAttemptsTotal,
		s.sendDuration,
		s.retriesScheduledTotal,
		s.leasesLostTotal,
		s.circuitOpenTotal,
		s.jobsInFlight,
		s.rateLimitWait,
		s.abandonedJobsTotal,
		s.sweepsTotal,
	)
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, collectors ...prometheus.Collector) {
	if reg == nil {
		return
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			s.logger.Warn("failed to register metric", zap.Error(err))
		}
	}
}

func (s *PrometheusSink) JobClaimed() { s.jobsClaimedTotal.Inc() }

func (s *PrometheusSink) DeliveryAttempt(outcome string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(outcome).Inc()
	s.sendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RetryScheduled() { s.retriesScheduledTotal.Inc() }

func (s *PrometheusSink) LeaseLost() { s.leasesLostTotal.Inc() }

func (s *PrometheusSink) CircuitOpen(domain string) {
	s.circuitOpenTotal.WithLabelValues(domain).Inc()
}

func (s *PrometheusSink) InFlightIncr() { s.jobsInFlight.Inc() }

func (s *PrometheusSink) InFlightDecr() { s.jobsInFlight.Dec() }

func (s *PrometheusSink) RateLimitWait(wait time.Duration) {
	s.rateLimitWait.Observe(wait.Seconds())
}

func (s *PrometheusSink) SweepCompleted(abandoned int) {
	s.sweepsTotal.Inc()
	s.abandonedJobsTotal.Add(float64(abandoned))
}
