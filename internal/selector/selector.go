// Package selector chooses the active Edge Cluster Frontend from the
// candidates offered by the control plane. Without a latency budget the
// remote's own ordering is the selection: the first candidate wins. With
// a budget, every candidate is probed in parallel and the lowest measured
// latency wins, earliest-listed breaking ties. The selector only decides;
// it never mutates supervisor state.
package selector

import (
	"context"
	"sync"
	"time"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"github.com/sovereignedge/cognit-device-runtime/internal/latency"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
)

// Selector picks one cluster endpoint from a candidate list.
type Selector struct {
	pinger  latency.Pinger
	timeout time.Duration
}

// New creates a selector using the given pinger for latency-aware
// selection. A nil pinger falls back to TCP connect timing.
func New(pinger latency.Pinger, timeout time.Duration) *Selector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if pinger == nil {
		pinger = latency.NewTCPPinger(timeout)
	}
	return &Selector{pinger: pinger, timeout: timeout}
}

// Select returns the chosen candidate, or nil when the list is empty or,
// under a latency budget, every candidate is unreachable. Measurements
// are returned alongside so the caller can publish them.
func (s *Selector) Select(ctx context.Context, candidates []domain.ClusterCandidate, reqs *domain.Requirements) (*domain.ClusterCandidate, map[string]float64) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if !reqs.LatencyAware() {
		// The remote lists nearest first; its ordering is the policy.
		return &candidates[0], nil
	}
	return s.selectByLatency(ctx, candidates)
}

func (s *Selector) selectByLatency(ctx context.Context, candidates []domain.ClusterCandidate) (*domain.ClusterCandidate, map[string]float64) {
	samples := make([]float64, len(candidates))

	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			samples[i] = s.pinger.Ping(pctx, latency.HostFromEndpoint(candidates[i].Endpoint))
		}(i)
	}
	wg.Wait()

	measured := make(map[string]float64, len(candidates))
	best := -1
	for i, ms := range samples {
		if ms < 0 {
			logging.Op().Warn("cluster unreachable during selection", "cluster", candidates[i].Name)
			continue
		}
		measured[candidates[i].Endpoint] = ms
		// Strict less-than keeps the earliest-listed candidate on ties.
		if best < 0 || ms < samples[best] {
			best = i
		}
	}
	if best < 0 {
		return nil, measured
	}
	logging.Op().Info("cluster selected by latency",
		"cluster", candidates[best].Name, "latency_ms", samples[best])
	return &candidates[best], measured
}
