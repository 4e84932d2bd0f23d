package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.MatchDispatch("sent")
	m.MatchDispatch("sent")
	m.MatchDispatch("failed")
	m.SweepItems("expire-leads", "processed", 3)
	m.SweepItems("expire-leads", "processed", 0)
	m.ObserveSweep("expire-leads", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.matchDispatch.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.matchDispatch.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepItems.WithLabelValues("expire-leads", "processed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MatchDispatch("sent")
		m.ProposalDecision("accept", "ok")
		m.SweepItems("x", "y", 1)
		m.ObserveSweep("x", time.Second)
		m.WebhookEvent("processed")
		m.EmailDelivery("sent")
		m.TokenValidation("valid")
	})
}
