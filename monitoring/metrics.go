package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	checkoutSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	fraudVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_verdicts_total",
			Help: "Fraud screen results",
		},
		[]string{"verdict"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Processor webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	settlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Time spent materialising one paid checkout",
			Buckets: prometheus.DefBuckets,
		},
	)

	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets created by settlement",
		},
		[]string{"event_id"},
	)

	refunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refund requests by outcome",
		},
		[]string{"outcome"},
	)

	refundedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refunded_amount_total",
			Help: "Sum of refunded amounts in major currency units",
		},
	)

	pointsMovements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_movements_total",
			Help: "Points earned and spent",
		},
		[]string{"action"},
	)

	deadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_dead_letters_total",
			Help: "Settlements handed to the dead-letter queue",
		},
		[]string{"kind"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	alertConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alert_connections",
			Help: "Users with a live alert connection",
		},
	)

	redisPoolConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "redis_pool_connections",
			Help: "Redis pool connections by state",
		},
		[]string{"state"},
	)
)

// ConnectionCounter reports how many alert connections are live.
type ConnectionCounter interface {
	Count() int
}

type Monitor struct {
	redis *redis.Client
	conns ConnectionCounter
}

// NewMonitor starts the gauge collector; it stops when ctx is done.
func NewMonitor(ctx context.Context, redisClient *redis.Client, conns ConnectionCounter) *Monitor {
	monitor := &Monitor{redis: redisClient, conns: conns}

	go monitor.collectMetrics(ctx)

	return monitor
}

func (m *Monitor) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) collect() {
	if m.conns != nil {
		alertConnections.Set(float64(m.conns.Count()))
	}
	if m.redis != nil {
		stats := m.redis.PoolStats()
		redisPoolConns.WithLabelValues("total").Set(float64(stats.TotalConns))
		redisPoolConns.WithLabelValues("idle").Set(float64(stats.IdleConns))
		redisPoolConns.WithLabelValues("stale").Set(float64(stats.StaleConns))
	}
}

// The Track methods only touch package level collectors, so a nil *Monitor
// is safe to call them on.

func (m *Monitor) TrackCheckout(outcome string) {
	checkoutSessions.WithLabelValues(outcome).Inc()
}

func (m *Monitor) TrackFraudVerdict(verdict string) {
	fraudVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Monitor) TrackWebhook(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Monitor) TrackSettlement(eventID string, tickets int, duration time.Duration) {
	settlementDuration.Observe(duration.Seconds())
	ticketsIssued.WithLabelValues(eventID).Add(float64(tickets))
}

func (m *Monitor) TrackRefund(outcome string, amount float64) {
	refunds.WithLabelValues(outcome).Inc()
	if amount > 0 {
		refundedAmount.Add(amount)
	}
}

func (m *Monitor) TrackPoints(action string, points int) {
	if points < 0 {
		points = -points
	}
	pointsMovements.WithLabelValues(action).Add(float64(points))
}

func (m *Monitor) TrackDeadLetter(kind string) {
	deadLettered.WithLabelValues(kind).Inc()
}

func (m *Monitor) TrackRateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}
