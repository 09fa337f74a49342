package latency

import (
	"context"
	"sync"
	"time"

	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
	"github.com/sovereignedge/cognit-device-runtime/internal/metrics"
)

// DefaultPeriod is the probe sampling period used when none is configured.
const DefaultPeriod = 2 * time.Second

// Reporter receives measured latency samples; the Edge Cluster Frontend
// client satisfies this.
type Reporter interface {
	ReportLatency(ctx context.Context, latencyMS float64) bool
}

// Probe periodically measures the round trip to the active cluster and
// reports each sample. It exists only while the supervisor is serving;
// Stop is observed within one period.
type Probe struct {
	pinger   Pinger
	reporter Reporter
	host     string
	period   time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewProbe creates a probe for the given cluster endpoint.
func NewProbe(pinger Pinger, reporter Reporter, endpoint string, period time.Duration) *Probe {
	if period <= 0 {
		period = DefaultPeriod
	}
	if pinger == nil {
		pinger = NewTCPPinger(period)
	}
	return &Probe{
		pinger:   pinger,
		reporter: reporter,
		host:     HostFromEndpoint(endpoint),
		period:   period,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (p *Probe) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.run()
	logging.Op().Debug("latency probe started", "host", p.host, "period", p.period)
}

// Stop cancels the probe and waits for the sampling goroutine to exit.
// Worst-case stop latency is one period.
func (p *Probe) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Op().Debug("latency probe stopped", "host", p.host)
}

func (p *Probe) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *Probe) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), p.period)
	defer cancel()

	ms := p.pinger.Ping(ctx, p.host)
	if ms < 0 {
		// Unparseable measurement; skip and continue.
		return
	}

	metrics.Default().RecordProbeLatency(ms)
	if !p.reporter.ReportLatency(ctx, ms) {
		logging.Op().Warn("latency report failed", "host", p.host, "latency_ms", ms)
		return
	}
	logging.Op().Debug("latency reported", "host", p.host, "latency_ms", ms)
}
