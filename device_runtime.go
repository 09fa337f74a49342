// Package cognit is the device-side entry point to the COGNIT compute
// fabric. A DeviceRuntime authenticates against the Cognit Frontend,
// registers the application's placement requirements, selects an Edge
// Cluster Frontend, and then offloads function calls to it, either
// synchronously or through a callback. All remote interaction runs on a
// single supervisor goroutine; callers only enqueue work and wait.
package cognit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sovereignedge/cognit-device-runtime/internal/cache"
	"github.com/sovereignedge/cognit-device-runtime/internal/callqueue"
	"github.com/sovereignedge/cognit-device-runtime/internal/cognitfc"
	"github.com/sovereignedge/cognit-device-runtime/internal/config"
	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"github.com/sovereignedge/cognit-device-runtime/internal/edgecluster"
	"github.com/sovereignedge/cognit-device-runtime/internal/faas"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
	"github.com/sovereignedge/cognit-device-runtime/internal/metrics"
	"github.com/sovereignedge/cognit-device-runtime/internal/observability"
	"github.com/sovereignedge/cognit-device-runtime/internal/rendezvous"
	"github.com/sovereignedge/cognit-device-runtime/internal/runtime"
	"github.com/sovereignedge/cognit-device-runtime/internal/uploadcache"
)

// Public aliases for the types callers exchange with the runtime.
type (
	Requirements = domain.Requirements
	FaasFunction = domain.FaasFunction
	ExecResponse = domain.ExecResponse

	Config         = config.Config
	FrontendConfig = config.FrontendConfig
	RuntimeConfig  = config.RuntimeConfig
	RedisConfig    = config.RedisConfig
	TracingConfig  = config.TracingConfig
)

const (
	LangPY     = domain.LangPY
	LangC      = domain.LangC
	RetSuccess = domain.RetSuccess
	RetError   = domain.RetError
)

// DeviceRuntime offloads function invocations to the fabric on behalf of
// one device application. It is safe for concurrent use; at most one
// synchronous call is in flight at a time, further sync callers queue on
// an internal mutex.
type DeviceRuntime struct {
	cfg *config.Config

	queue   *callqueue.Queue
	results *rendezvous.Rendezvous
	uploads *uploadcache.Cache

	mu         sync.Mutex
	supervisor *runtime.Supervisor

	// syncMu serializes synchronous calls so the single-slot result
	// rendezvous is never contended.
	syncMu sync.Mutex

	telemetry bool
}

// New creates a runtime from an explicit configuration. The configuration
// is validated on Init, not here.
func New(cfg *config.Config) *DeviceRuntime {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return newRuntime(cfg)
}

// NewFromFile creates a runtime from a YAML configuration file, with
// environment variables overriding file values.
func NewFromFile(path string) (*DeviceRuntime, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	config.LoadFromEnv(cfg)
	return newRuntime(cfg), nil
}

// NewFromEnv creates a runtime configured entirely from the environment.
func NewFromEnv() *DeviceRuntime {
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)
	return newRuntime(cfg)
}

func newRuntime(cfg *config.Config) *DeviceRuntime {
	logging.SetLevelFromString(cfg.Runtime.LogLevel)
	metrics.Init("cognit")

	var backend cache.Cache
	if cfg.Redis.Addr != "" {
		redis := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redis.Ping(ctx); err != nil {
			logging.Op().Warn("redis unavailable, using in-memory upload cache", "error", err)
			redis.Close()
		} else {
			backend = redis
		}
		cancel()
	}
	if backend == nil {
		backend = cache.NewInMemoryCache()
	}

	return &DeviceRuntime{
		cfg:     cfg,
		queue:   callqueue.New(cfg.Runtime.QueueSize),
		results: rendezvous.New(),
		uploads: uploadcache.New(backend),
	}
}

// Init validates the configuration and requirements and starts the
// supervisor. Returns false when the runtime is already running or the
// inputs are invalid; the error is logged, matching the boolean contract
// of the device API.
func (dr *DeviceRuntime) Init(reqs *Requirements) bool {
	if reqs == nil {
		logging.Op().Error("init rejected: requirements are required")
		return false
	}
	if err := dr.cfg.Validate(); err != nil {
		logging.Op().Error("init rejected", "error", err)
		return false
	}
	if err := reqs.Validate(); err != nil {
		logging.Op().Error("init rejected", "error", err)
		return false
	}

	dr.mu.Lock()
	defer dr.mu.Unlock()
	if dr.supervisor != nil && dr.supervisor.Running() {
		logging.Op().Error("init rejected: runtime already running")
		return false
	}

	if dr.cfg.Tracing.Endpoint != "" {
		err := observability.Init(context.Background(), observability.Config{
			Enabled:     true,
			Endpoint:    dr.cfg.Tracing.Endpoint,
			Insecure:    dr.cfg.Tracing.Insecure,
			ServiceName: "cognit-device-runtime",
			SampleRate:  1.0,
		})
		if err != nil {
			logging.Op().Warn("tracing disabled", "error", err)
		} else {
			dr.telemetry = true
		}
	}

	parser := faas.NewParser()
	dr.supervisor = runtime.New(runtime.Config{
		Tick:        dr.cfg.Runtime.TickInterval,
		ProbePeriod: dr.cfg.Runtime.ProbePeriod,
		NewFrontend: func() runtime.Frontend {
			return cognitfc.New(dr.cfg.Frontend, parser, dr.uploads)
		},
		NewCluster: func(token, endpoint string) runtime.Cluster {
			return edgecluster.New(token, endpoint, parser)
		},
		Queue:   dr.queue,
		Results: dr.results,
	}, reqs)
	dr.supervisor.Start()
	logging.Op().Info("device runtime started", "frontend", dr.cfg.Frontend.Endpoint)
	return true
}

// Stop shuts the runtime down: the supervisor exits, queued calls are
// discarded (sync callers are released with an error result) and the
// latency probe stops. Returns false when the runtime was not running.
func (dr *DeviceRuntime) Stop() bool {
	dr.mu.Lock()
	sup := dr.supervisor
	dr.mu.Unlock()

	if sup == nil || !sup.Running() {
		logging.Op().Error("stop rejected: runtime not running")
		return false
	}
	sup.Stop()

	if dr.telemetry {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(ctx); err != nil {
			logging.Op().Warn("telemetry shutdown failed", "error", err)
		}
		dr.telemetry = false
	}
	logging.Op().Info("device runtime stopped")
	return true
}

// UpdateRequirements hands a new requirements set to the supervisor,
// which re-registers it and re-selects a cluster. Updates equal to the
// active set, invalid sets, and updates while stopped are rejected.
func (dr *DeviceRuntime) UpdateRequirements(reqs *Requirements) bool {
	if reqs == nil {
		logging.Op().Error("requirements update rejected: nil set")
		return false
	}
	dr.mu.Lock()
	sup := dr.supervisor
	dr.mu.Unlock()
	if sup == nil {
		logging.Op().Error("requirements update rejected: runtime not initialized")
		return false
	}
	return sup.UpdateRequirements(reqs)
}

// Requirements returns a copy of the active requirements set, or nil
// before Init.
func (dr *DeviceRuntime) Requirements() *Requirements {
	dr.mu.Lock()
	sup := dr.supervisor
	dr.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.ActiveRequirements()
}

// Call offloads fn synchronously and blocks until the result arrives or
// the runtime stops. Failures are delivered in-band as an ExecResponse
// with RetCode ERROR; Call never returns nil.
func (dr *DeviceRuntime) Call(fn *FaasFunction, params ...any) *ExecResponse {
	return dr.CallWithTimeout(fn, 0, params...)
}

// CallWithTimeout is Call with a per-call execution deadline enforced at
// the transport; zero means no deadline.
func (dr *DeviceRuntime) CallWithTimeout(fn *FaasFunction, timeout time.Duration, params ...any) *ExecResponse {
	if resp := dr.admit(fn); resp != nil {
		return resp
	}

	call := &domain.Call{
		RequestID: uuid.NewString(),
		Function:  fn,
		Mode:      domain.ModeSync,
		Params:    params,
		Timeout:   timeout,
	}

	dr.syncMu.Lock()
	defer dr.syncMu.Unlock()

	if !dr.queue.Enqueue(call) {
		return domain.ErrorResponse("%v", domain.ErrCapacity)
	}
	metrics.Default().SetQueueDepth(dr.queue.Len())
	dr.releaseIfStopped()
	return dr.results.Take()
}

// CallAsync enqueues fn for execution and returns immediately. The
// callback is invoked with the result once, from the supervisor
// goroutine; it is never invoked when the offload fails in transport or
// the runtime stops first. Returns false when the call was not accepted.
func (dr *DeviceRuntime) CallAsync(fn *FaasFunction, callback func(*ExecResponse), params ...any) bool {
	if resp := dr.admit(fn); resp != nil {
		logging.Op().Error("async call rejected", "error", resp.Err)
		return false
	}

	call := &domain.Call{
		RequestID: uuid.NewString(),
		Function:  fn,
		Mode:      domain.ModeAsync,
		Callback:  callback,
		Params:    params,
	}
	if !dr.queue.Enqueue(call) {
		return false
	}
	metrics.Default().SetQueueDepth(dr.queue.Len())
	dr.releaseIfStopped()
	return true
}

// releaseIfStopped sheds anything enqueued after the supervisor drained
// its queue on Stop. A caller can pass admit, lose the race against a
// concurrent Stop, and enqueue into a queue nobody serves anymore;
// without this the call would sit there until a later Init, and a sync
// caller would block on the rendezvous. Holding dr.mu keeps the shed
// from racing an Init that is handing the queue to a new supervisor.
func (dr *DeviceRuntime) releaseIfStopped() {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if dr.supervisor != nil && dr.supervisor.Running() {
		return
	}
	for _, call := range dr.queue.Drain() {
		if call.Mode == domain.ModeSync {
			dr.results.Put(domain.ErrorResponse("device runtime stopped before the call was served"))
		} else {
			logging.Op().Warn("async call discarded on shutdown", "request_id", call.RequestID)
		}
	}
}

// admit runs the shared pre-enqueue checks; a non-nil response is the
// rejection to hand back.
func (dr *DeviceRuntime) admit(fn *FaasFunction) *ExecResponse {
	if fn == nil {
		return domain.ErrorResponse("function is required")
	}
	if err := fn.Validate(); err != nil {
		return domain.ErrorResponse("%v", err)
	}
	dr.mu.Lock()
	sup := dr.supervisor
	dr.mu.Unlock()
	if sup == nil || !sup.Running() {
		return domain.ErrorResponse("device runtime is not running")
	}
	return nil
}
