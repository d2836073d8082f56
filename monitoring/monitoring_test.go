package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCounter int

func (c staticCounter) Count() int { return int(c) }

func TestTrackers(t *testing.T) {
	var m *Monitor

	before := testutil.ToFloat64(refunds.WithLabelValues("processed"))
	m.TrackRefund("processed", 40)
	assert.Equal(t, before+1, testutil.ToFloat64(refunds.WithLabelValues("processed")))

	beforePts := testutil.ToFloat64(pointsMovements.WithLabelValues("SPENT"))
	m.TrackPoints("SPENT", -100)
	assert.Equal(t, beforePts+100, testutil.ToFloat64(pointsMovements.WithLabelValues("SPENT")))

	beforeTickets := testutil.ToFloat64(ticketsIssued.WithLabelValues("evt_1"))
	m.TrackSettlement("evt_1", 3, 20*time.Millisecond)
	assert.Equal(t, beforeTickets+3, testutil.ToFloat64(ticketsIssued.WithLabelValues("evt_1")))

	beforeLimited := testutil.ToFloat64(rateLimited.WithLabelValues("checkout"))
	m.TrackRateLimited("checkout")
	assert.Equal(t, beforeLimited+1, testutil.ToFloat64(rateLimited.WithLabelValues("checkout")))
}

func TestCollect_ConnectionGauge(t *testing.T) {
	m := &Monitor{conns: staticCounter(4)}
	m.collect()
	assert.Equal(t, float64(4), testutil.ToFloat64(alertConnections))
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
