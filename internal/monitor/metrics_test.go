package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semcore/internal/metrics"
)

func TestPoller_SampleReadsRegistry(t *testing.T) {
	reg := metrics.New()
	reg.RecordRequest("query", "search")
	reg.SetCacheHitRate(0.9)

	p := NewPoller(reg)
	snap, err := p.Sample(context.Background())
	require.NoError(t, err)
	require.Equal(t, float64(1), snap.RequestsTotal)
	require.InDelta(t, 0.9, snap.CacheHitRate, 1e-9)
}

func TestPoller_SampleRespectsCancelledContext(t *testing.T) {
	p := NewPoller(metrics.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Sample(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultPollInterval(t *testing.T) {
	require.Equal(t, 2*time.Second, DefaultPollInterval)
}
