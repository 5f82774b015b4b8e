package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RecordRequestIncrementsCounter(t *testing.T) {
	r := New()
	r.RecordRequest("query", "search")
	r.RecordRequest("query", "search")
	r.RecordError("scanner", "io")

	require.Equal(t, float64(2), testutil.ToFloat64(r.requestsTotal.WithLabelValues("query", "search")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.errorsTotal.WithLabelValues("scanner", "io")))
}

func TestRegistry_NilReceiverIsSafe(t *testing.T) {
	var r *Registry
	require.NotPanics(t, func() {
		r.RecordRequest("query", "search")
		r.RecordError("scanner", "io")
		r.RecordBytes("scanner", 10, 20)
		r.RecordTokens(100, 0.01)
		r.ObserveQueryLatency(time.Millisecond)
		r.SetCacheHitRate(0.95)
		r.setProcessStats(1024, 8)
		_ = r.Handler()
	})
}

func TestRegistry_HandlerServesMetrics(t *testing.T) {
	r := New()
	r.RecordRequest("cache", "get")
	require.NotNil(t, r.Handler())
}

func TestRegistry_SnapshotSumsAcrossLabels(t *testing.T) {
	r := New()
	r.RecordRequest("query", "search")
	r.RecordRequest("scanner", "walk")
	r.RecordBytes("scanner", 10, 20)
	r.RecordTokens(100, 0.5)
	r.SetCacheHitRate(0.97)
	r.setProcessStats(2048, 4)
	r.ObserveQueryLatency(10 * time.Millisecond)
	r.ObserveQueryLatency(30 * time.Millisecond)

	snap := r.Snapshot()
	require.Equal(t, float64(2), snap.RequestsTotal)
	require.Equal(t, float64(10), snap.BytesIn)
	require.Equal(t, float64(20), snap.BytesOut)
	require.Equal(t, float64(100), snap.TokensTotal)
	require.InDelta(t, 0.5, snap.CostTotal, 1e-9)
	require.InDelta(t, 0.97, snap.CacheHitRate, 1e-9)
	require.Equal(t, uint64(2048), snap.RSSBytes)
	require.Equal(t, 4, snap.Goroutines)
	require.Equal(t, 20*time.Millisecond, snap.QueryLatencyAvg)
}

func TestRegistry_SnapshotOnNilIsZeroValue(t *testing.T) {
	var r *Registry
	require.Equal(t, Snapshot{}, r.Snapshot())
}

func TestProfiler_DetectsSteadyState(t *testing.T) {
	r := New()
	p := NewProfiler(r, nil, time.Millisecond, 1<<30) // huge threshold: always steady
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_ = p.Run(ctx)
	require.True(t, p.Steady())
}

func TestProfiler_NeverSteadyWithZeroThreshold(t *testing.T) {
	r := New()
	p := NewProfiler(r, nil, time.Millisecond, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_ = p.Run(ctx)
	// RSS may coincidentally be flat across samples; only assert no panic
	// and that Steady() is callable without a full window.
	_ = p.Steady()
}
