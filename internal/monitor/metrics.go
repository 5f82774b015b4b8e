package monitor

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/semcore/internal/metrics"
)

// Poller samples a workspace's Registry on an interval. Unlike the
// VictoriaMetrics-backed client this replaces, there is no network hop:
// the TUI runs in the same process as the indexer it's watching, so a
// Snapshot is just a read of the Registry's own instruments.
type Poller struct {
	reg *metrics.Registry
}

// NewPoller wraps the Registry a running Workspace exposes.
func NewPoller(reg *metrics.Registry) *Poller {
	return &Poller{reg: reg}
}

// Sample takes one snapshot. ctx is accepted for symmetry with the
// network-backed client this replaces and to bound future collectors
// that do need to block (e.g. a remote Registry over gRPC).
func (p *Poller) Sample(ctx context.Context) (metrics.Snapshot, error) {
	select {
	case <-ctx.Done():
		return metrics.Snapshot{}, ctx.Err()
	default:
	}
	return p.reg.Snapshot(), nil
}

// DefaultPollInterval is how often the dashboard re-reads the Registry. It
// is independent of the profiler's own sampling interval (30s by default).
const DefaultPollInterval = 2 * time.Second
