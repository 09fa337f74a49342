// Package runtime contains the supervisor that keeps the device ready to
// offload: it authenticates against the Cognit Frontend, registers the
// placement requirements, selects an Edge Cluster Frontend, and serves
// queued calls, reacting to connection loss and requirement changes
// through guarded state transitions evaluated at a fixed tick.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/sovereignedge/cognit-device-runtime/internal/callqueue"
	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"github.com/sovereignedge/cognit-device-runtime/internal/latency"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
	"github.com/sovereignedge/cognit-device-runtime/internal/metrics"
	"github.com/sovereignedge/cognit-device-runtime/internal/rendezvous"
	"github.com/sovereignedge/cognit-device-runtime/internal/selector"
)

// State is one supervisor lifecycle state.
type State string

const (
	StateInit     State = "INIT"
	StateRegister State = "REGISTER"
	StateSelect   State = "SELECT"
	StateServe    State = "SERVE"
)

// DefaultTick is the guard-evaluation interval; it bounds how stale a
// user-visible event (requirements change, connection loss) can go
// unnoticed.
const DefaultTick = 50 * time.Millisecond

// maxAttempts bounds the retries inside REGISTER and SELECT before the
// supervisor falls back to INIT and re-authenticates.
const maxAttempts = 3

// Frontend is the Cognit Frontend surface the supervisor drives.
type Frontend interface {
	Authenticate(ctx context.Context) string
	Connected() bool
	AppReqID() int64
	RegisterOrUpdate(ctx context.Context, reqs *domain.Requirements) error
	ListClusters(ctx context.Context) ([]domain.ClusterCandidate, error)
	UploadFunction(ctx context.Context, fn *domain.FaasFunction) (int64, bool, error)
	ReportLatencyMap(ctx context.Context, samples map[string]float64) error
}

// Cluster is the Edge Cluster Frontend surface the supervisor drives.
type Cluster interface {
	Execute(ctx context.Context, funcID, appReqID int64, call *domain.Call) *domain.ExecResponse
	ReportLatency(ctx context.Context, latencyMS float64) bool
	Connected() bool
	Endpoint() string
}

// Config wires the supervisor's collaborators. The factories exist so
// tests can inject fakes; production wiring lives in the facade.
type Config struct {
	Tick        time.Duration
	ProbePeriod time.Duration
	Pinger      latency.Pinger

	NewFrontend func() Frontend
	NewCluster  func(token, endpoint string) Cluster

	Queue   *callqueue.Queue
	Results *rendezvous.Rendezvous

	// OnEnter, when set, observes every state entry including
	// self-loop re-entries. Test instrumentation only.
	OnEnter func(State)
}

// Supervisor owns the token, application ID, adapters, active cluster and
// retry counters. Exactly one supervisor goroutine runs per facade; the
// facade communicates with it only through the call queue and the
// pending-requirements slot.
type Supervisor struct {
	cfg      Config
	selector *selector.Selector

	state            State
	frontend         Frontend
	cluster          Cluster
	probe            *latency.Probe
	token            string
	registered       bool
	registerAttempts int
	selectAttempts   int

	// Guarded by mu: the only supervisor fields other goroutines touch.
	mu       sync.Mutex
	active   *domain.Requirements
	pending  *domain.Requirements
	changed  bool
	reselect bool
	running  bool

	stopCh chan struct{}
	done   chan struct{}
}

// New creates a supervisor for the given initial requirements.
func New(cfg Config, reqs *domain.Requirements) *Supervisor {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.ProbePeriod <= 0 {
		cfg.ProbePeriod = latency.DefaultPeriod
	}
	return &Supervisor{
		cfg:      cfg,
		selector: selector.New(cfg.Pinger, cfg.ProbePeriod),
		state:    StateInit,
		active:   reqs.Clone(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the supervisor goroutine.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run()
}

// Stop signals the supervisor to exit and waits for it. Queued calls are
// discarded: blocked sync callers are released with an error result,
// async callbacks are never invoked.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.done
	s.stopProbe()
	s.shedQueue()
}

// Running reports whether the supervisor goroutine is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveRequirements returns a copy of the requirements the supervisor
// believes are registered; by invariant they equal the last set the
// remote acknowledged.
func (s *Supervisor) ActiveRequirements() *domain.Requirements {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Clone()
}

// UpdateRequirements stores a pending requirements change for the
// supervisor to pick up on its next tick. No-op updates are rejected.
func (s *Supervisor) UpdateRequirements(reqs *domain.Requirements) bool {
	if err := reqs.Validate(); err != nil {
		logging.Op().Error("requirements rejected", "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		logging.Op().Error("requirements update rejected: supervisor not running")
		return false
	}
	if s.active.Equal(reqs) {
		logging.Op().Error("requirements update rejected: same as the active set")
		return false
	}
	s.pending = reqs.Clone()
	s.changed = true
	return true
}

// RequestReselect asks the supervisor to abandon the active cluster and
// run selection again, e.g. after an external endpoint change.
func (s *Supervisor) RequestReselect() {
	s.mu.Lock()
	s.reselect = true
	s.mu.Unlock()
}

func (s *Supervisor) run() {
	defer close(s.done)

	ctx := context.Background()
	s.enterInit(ctx)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

// step evaluates the guards of the current state, in the documented
// order, and performs at most one transition (or self-loop re-entry).
func (s *Supervisor) step(ctx context.Context) {
	switch s.state {
	case StateInit:
		s.stepInit(ctx)
	case StateRegister:
		s.stepRegister(ctx)
	case StateSelect:
		s.stepSelect(ctx)
	case StateServe:
		s.stepServe(ctx)
	}
}

func (s *Supervisor) transition(to State) {
	from := s.state
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	metrics.Default().RecordTransition(string(from), string(to))
	logging.Op().Debug("supervisor transition", "from", from, "to", to)
}

func (s *Supervisor) entered(state State) {
	if s.cfg.OnEnter != nil {
		s.cfg.OnEnter(state)
	}
}

// ---- INIT ----

func (s *Supervisor) enterInit(ctx context.Context) {
	s.transition(StateInit)
	s.entered(StateInit)
	s.stopProbe()
	s.cluster = nil
	s.registered = false
	s.registerAttempts = 0
	s.selectAttempts = 0

	s.frontend = s.cfg.NewFrontend()
	s.token = s.frontend.Authenticate(ctx)
}

func (s *Supervisor) stepInit(ctx context.Context) {
	if s.token != "" {
		s.enterRegister(ctx)
		return
	}
	// Authentication failed; try again.
	s.enterInit(ctx)
}

// ---- REGISTER ----

func (s *Supervisor) enterRegister(ctx context.Context) {
	s.transition(StateRegister)
	s.entered(StateRegister)
	s.stopProbe()
	s.installPending()

	s.mu.Lock()
	reqs := s.active.Clone()
	s.mu.Unlock()

	err := s.frontend.RegisterOrUpdate(ctx, reqs)
	s.registered = err == nil
	if err != nil {
		logging.Op().Warn("requirements registration failed", "error", err)
	}
	s.registerAttempts++
}

func (s *Supervisor) stepRegister(ctx context.Context) {
	switch {
	case !s.frontend.Connected():
		s.enterInit(ctx)
	case !s.registered && s.registerAttempts >= maxAttempts:
		s.enterInit(ctx)
	case s.hasPending():
		// Immediate re-upload with the new set.
		s.enterRegister(ctx)
	case s.registered:
		s.enterSelect(ctx)
	default:
		s.enterRegister(ctx)
	}
}

// ---- SELECT ----

func (s *Supervisor) enterSelect(ctx context.Context) {
	s.transition(StateSelect)
	s.entered(StateSelect)
	s.registerAttempts = 0
	s.stopProbe()
	s.cluster = nil

	candidates, err := s.frontend.ListClusters(ctx)
	if err != nil {
		logging.Op().Warn("cluster listing failed", "error", err)
	} else {
		s.mu.Lock()
		reqs := s.active.Clone()
		s.mu.Unlock()

		chosen, measured := s.selector.Select(ctx, candidates, reqs)
		if len(measured) > 0 {
			if rerr := s.frontend.ReportLatencyMap(ctx, measured); rerr != nil {
				logging.Op().Debug("latency map report failed", "error", rerr)
			}
		}
		if chosen == nil {
			logging.Op().Warn("no usable cluster candidate", "candidates", len(candidates))
		} else {
			s.cluster = s.cfg.NewCluster(s.token, chosen.Endpoint)
			if s.cluster.Connected() {
				s.startProbe()
			}
		}
	}
	s.selectAttempts++
}

func (s *Supervisor) stepSelect(ctx context.Context) {
	connected := s.cluster != nil && s.cluster.Connected()
	switch {
	case !s.frontend.Connected():
		s.enterInit(ctx)
	case !connected && s.selectAttempts >= maxAttempts:
		s.enterInit(ctx)
	case s.hasPending():
		s.enterRegister(ctx)
	case connected:
		s.enterServe(ctx)
	default:
		s.enterSelect(ctx)
	}
}

// ---- SERVE ----

func (s *Supervisor) enterServe(ctx context.Context) {
	if s.state != StateServe {
		s.transition(StateServe)
	}
	s.entered(StateServe)
	s.selectAttempts = 0
	s.serveOne(ctx)
}

func (s *Supervisor) stepServe(ctx context.Context) {
	switch {
	case !s.frontend.Connected():
		s.enterInit(ctx)
	case !s.cluster.Connected():
		s.enterInit(ctx)
	case s.hasPending():
		s.enterRegister(ctx)
	case s.takeReselect():
		s.enterSelect(ctx)
	default:
		s.enterServe(ctx)
	}
}

// serveOne drains at most one call per tick: FIFO delivery holds because
// only the supervisor dequeues.
func (s *Supervisor) serveOne(ctx context.Context) {
	call := s.cfg.Queue.Dequeue()
	metrics.Default().SetQueueDepth(s.cfg.Queue.Len())
	if call == nil {
		return
	}

	start := time.Now()
	funcID, cacheHit, err := s.frontend.UploadFunction(ctx, call.Function)
	metrics.Default().RecordUploadCache(cacheHit)
	if err != nil {
		logging.Op().Error("function upload failed", "request_id", call.RequestID, "error", err)
		s.deliver(call, domain.ErrorResponse("function could not be uploaded: %v", err))
		s.recordOffload(call, 0, start, false, cacheHit)
		return
	}

	result := s.cluster.Execute(ctx, funcID, s.frontend.AppReqID(), call)
	success := true
	if call.Mode == domain.ModeSync {
		if result == nil {
			result = domain.ErrorResponse("execution produced no result")
		}
		success = result.RetCode == domain.RetSuccess
		if !s.cfg.Results.Put(result) {
			logging.Op().Error("sync result dropped: rendezvous full", "request_id", call.RequestID)
		}
	} else {
		// Async executions return no result either way; a transport
		// failure only shows through the dropped connection flag.
		success = s.cluster.Connected()
	}
	s.recordOffload(call, funcID, start, success, cacheHit)
}

func (s *Supervisor) deliver(call *domain.Call, resp *domain.ExecResponse) {
	if call.Mode == domain.ModeSync {
		s.cfg.Results.Put(resp)
		return
	}
	// Async transport-level failure: logged, callback not invoked.
}

func (s *Supervisor) recordOffload(call *domain.Call, funcID int64, start time.Time, success bool, cacheHit bool) {
	duration := time.Since(start).Milliseconds()
	status := "success"
	if !success {
		status = "error"
	}
	metrics.Default().RecordOffload(string(call.Mode), status, float64(duration))

	entry := &logging.OffloadLog{
		RequestID:  call.RequestID,
		Function:   call.Function.Name,
		FunctionID: funcID,
		Mode:       string(call.Mode),
		DurationMs: duration,
		Success:    success,
		CacheHit:   cacheHit,
	}
	if s.cluster != nil {
		entry.Cluster = s.cluster.Endpoint()
	}
	logging.Default().Log(entry)
}

// ---- shared helpers ----

// installPending moves a pending requirements change into the active
// slot. Called on entry to REGISTER so the upload carries the new set.
func (s *Supervisor) installPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.changed {
		s.active = s.pending
		s.pending = nil
		s.changed = false
	}
}

func (s *Supervisor) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Supervisor) takeReselect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reselect
	s.reselect = false
	return r
}

func (s *Supervisor) startProbe() {
	s.stopProbe()
	s.probe = latency.NewProbe(s.cfg.Pinger, s.cluster, s.cluster.Endpoint(), s.cfg.ProbePeriod)
	s.probe.Start()
}

func (s *Supervisor) stopProbe() {
	if s.probe != nil {
		s.probe.Stop()
		s.probe = nil
	}
}

// shedQueue discards everything still queued at shutdown: sync callers
// blocked on the rendezvous are released with an error result, async
// callbacks are simply never invoked.
func (s *Supervisor) shedQueue() {
	for _, call := range s.cfg.Queue.Drain() {
		if call.Mode == domain.ModeSync {
			s.cfg.Results.Put(domain.ErrorResponse("device runtime stopped before the call was served"))
		} else {
			logging.Op().Warn("async call discarded on shutdown", "request_id", call.RequestID)
		}
	}
	metrics.Default().SetQueueDepth(0)
}
