package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestNewCollector(t *testing.T) {
	collector, reg := newTestCollector(t)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.markers)
	assert.NotNil(t, collector.saveDuration)
	assert.NotNil(t, collector.recoveryTime)

	// a second registration on the same registry must panic
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestNilRegistererUsesDefault(t *testing.T) {
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	defer func() { prometheus.DefaultRegisterer = prev }()

	assert.NotPanics(t, func() { NewCollector(nil) })
}

func TestMarkerEvents(t *testing.T) {
	c, _ := newTestCollector(t)

	c.MarkerIssued()
	c.MarkerIssued()
	c.MarkerCompleted()
	c.MarkerMissed()
	c.MarkerCancelled()
	c.CallbackPanicked()
	c.PendingMarkers(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.markers.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.markers.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.markers.WithLabelValues("missed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.markers.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.markers.WithLabelValues("panicked")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.markersPending))
}

func TestAmbushEvents(t *testing.T) {
	c, _ := newTestCollector(t)

	c.AmbushRolled("bandits", true)
	c.AmbushRolled("bandits", false)
	c.AmbushRolled("bandits", false)
	c.AmbushTriggered("bandits", 5)
	c.FollowUpDispatched(3)
	c.HateRecords(12)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.rolls.WithLabelValues("bandits", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.rolls.WithLabelValues("bandits", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.triggered.WithLabelValues("bandits")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.unitsSpawned.WithLabelValues("squad")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.unitsSpawned.WithLabelValues("follow_up")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.hateRecords))
}

func TestDuelEvents(t *testing.T) {
	c, _ := newTestCollector(t)

	c.DuelStarted(1)
	c.DuelStarted(2)
	c.DuelEnded(1)
	c.ActiveDuels(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.duels.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duels.WithLabelValues("ended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duelsActive))
}

func TestRecordSave(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordSave(20*time.Millisecond, nil)
	c.RecordSave(40*time.Millisecond, errors.New("disk full"))
	c.SetRecoveryTime(1500 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.saves.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.saves.WithLabelValues("error")))
	assert.Equal(t, 1.5, testutil.ToFloat64(c.recoveryTime))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "ambush_save_duration_seconds" {
			assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
			return
		}
	}
	t.Fatal("save duration histogram not gathered")
}

func TestServerShutdown(t *testing.T) {
	_, reg := newTestCollector(t)
	srv := NewServer(0, reg)
	srv.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
