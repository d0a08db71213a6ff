package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordMessage(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordMessage("Pub", 14)
	m.RecordMessage("Pub", 14)
	m.RecordMessage("Ping", 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("Pub")))
	assert.Equal(t, 28.0, testutil.ToFloat64(m.BytesSent.WithLabelValues("Pub")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BytesSent.WithLabelValues("Ping")))
}

func TestRecordRun(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRun(true, 1.5)
	m.RecordRun(false, 0.2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
}

func TestFreshRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
