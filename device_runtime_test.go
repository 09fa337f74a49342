package cognit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sovereignedge/cognit-device-runtime/internal/config"
)

// fakeFabric stands up a Cognit Frontend and one Edge Cluster Frontend
// behind httptest servers, speaking the real wire protocol.
type fakeFabric struct {
	frontend *httptest.Server
	cluster  *httptest.Server

	executions atomic.Int64
	uploads    atomic.Int64
	registers  atomic.Int64

	mu    sync.Mutex
	order []float64

	// When execGate is set, the execute handler announces itself on
	// execEntered and then blocks until the gate closes, pinning the
	// supervisor inside one offload.
	execGate    chan struct{}
	execEntered chan struct{}
}

func newFakeFabric(t *testing.T) *fakeFabric {
	t.Helper()
	f := &fakeFabric{}

	clusterMux := http.NewServeMux()
	clusterMux.HandleFunc("/v1/functions/42/execute", func(w http.ResponseWriter, r *http.Request) {
		f.executions.Add(1)
		if r.Header.Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var params []string
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Sums the JSON-decoded numeric parameters.
		sum := 0.0
		for _, blob := range params {
			data, err := base64.StdEncoding.DecodeString(blob)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var v float64
			if err := json.Unmarshal(data, &v); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			sum += v
		}
		f.mu.Lock()
		f.order = append(f.order, sum)
		f.mu.Unlock()
		if f.execGate != nil {
			f.execEntered <- struct{}{}
			<-f.execGate
		}
		res, _ := json.Marshal(sum)
		fmt.Fprintf(w, `{"ret_code":0,"res":%q,"err":""}`, base64.StdEncoding.EncodeToString(res))
	})
	clusterMux.HandleFunc("/v1/device_metrics", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.cluster = httptest.NewServer(clusterMux)

	frontendMux := http.NewServeMux()
	frontendMux.HandleFunc("/v1/authenticate", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode("tok")
	})
	frontendMux.HandleFunc("/v1/app_requirements", func(w http.ResponseWriter, r *http.Request) {
		f.registers.Add(1)
		json.NewEncoder(w).Encode(1)
	})
	frontendMux.HandleFunc("/v1/app_requirements/1", func(w http.ResponseWriter, r *http.Request) {
		f.registers.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	frontendMux.HandleFunc("/v1/app_requirements/1/ec_fe", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"NAME":"edge","TEMPLATE":{"EDGE_CLUSTER_FRONTEND":%q}}]`, f.cluster.URL)
	})
	frontendMux.HandleFunc("/v1/daas/upload", func(w http.ResponseWriter, r *http.Request) {
		f.uploads.Add(1)
		json.NewEncoder(w).Encode(42)
	})
	frontendMux.HandleFunc("/v1/latency", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.frontend = httptest.NewServer(frontendMux)

	t.Cleanup(func() {
		f.frontend.Close()
		f.cluster.Close()
	})
	return f
}

func (f *fakeFabric) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Frontend = config.FrontendConfig{
		Endpoint: f.frontend.URL,
		Username: "device",
		Password: "secret",
	}
	cfg.Runtime.TickInterval = 5 * time.Millisecond
	cfg.Runtime.ProbePeriod = 100 * time.Millisecond
	return cfg
}

func (f *fakeFabric) executionOrder() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.order...)
}

func sumFunction() *FaasFunction {
	return &FaasFunction{Name: "sum", Lang: LangPY, Payload: []byte("def sum(a, b): return a + b")}
}

func TestSyncOffloadRoundTrip(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())

	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init against a healthy fabric failed")
	}
	defer rt.Stop()

	resp := rt.Call(sumFunction(), 2, 4)
	if resp.RetCode != RetSuccess {
		t.Fatalf("offload failed: %+v", resp)
	}
	if resp.Result != float64(6) {
		t.Fatalf("result = %v, want 6", resp.Result)
	}
	if fabric.executions.Load() != 1 {
		t.Fatalf("cluster executed %d calls, want 1", fabric.executions.Load())
	}
}

func TestRepeatedCallsUploadOnce(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}
	defer rt.Stop()

	fn := sumFunction()
	for i := 0; i < 3; i++ {
		if resp := rt.Call(fn, float64(i), 1); resp.RetCode != RetSuccess {
			t.Fatalf("call %d failed: %+v", i, resp)
		}
	}
	if fabric.uploads.Load() != 1 {
		t.Fatalf("identical function uploaded %d times, want 1", fabric.uploads.Load())
	}
}

func TestCallAsyncDeliversCallback(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}
	defer rt.Stop()

	got := make(chan *ExecResponse, 1)
	if !rt.CallAsync(sumFunction(), func(resp *ExecResponse) { got <- resp }, 3, 4) {
		t.Fatal("async call rejected")
	}

	select {
	case resp := <-got:
		if resp.RetCode != RetSuccess || resp.Result != float64(7) {
			t.Fatalf("callback received %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestInitRejections(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())

	if rt.Init(nil) {
		t.Fatal("nil requirements must be rejected")
	}
	if rt.Init(&Requirements{Flavour: "Energy", MaxLatencyMS: 10}) {
		t.Fatal("invalid requirements must be rejected")
	}

	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("valid init failed")
	}
	defer rt.Stop()
	if rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("double init must be rejected")
	}
}

func TestInitRejectsIncompleteConfig(t *testing.T) {
	rt := New(config.DefaultConfig())
	if rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init without frontend credentials must be rejected")
	}
}

func TestCallWhileStoppedFailsInBand(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())

	resp := rt.Call(sumFunction(), 1, 2)
	if resp == nil || resp.RetCode != RetError {
		t.Fatalf("call before init must fail in-band, got %+v", resp)
	}
	if rt.CallAsync(sumFunction(), func(*ExecResponse) {}, 1) {
		t.Fatal("async call before init must be rejected")
	}
}

func TestStopLifecycle(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())

	if rt.Stop() {
		t.Fatal("stop before init must report failure")
	}
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}
	if !rt.Stop() {
		t.Fatal("stop of a running runtime failed")
	}
	if rt.Stop() {
		t.Fatal("second stop must report failure")
	}

	resp := rt.Call(sumFunction(), 1, 2)
	if resp.RetCode != RetError {
		t.Fatalf("call after stop must fail in-band, got %+v", resp)
	}
}

func TestUpdateRequirementsThroughFacade(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}
	defer rt.Stop()

	if rt.UpdateRequirements(&Requirements{Flavour: "Energy"}) {
		t.Fatal("update equal to the active set must be rejected")
	}

	next := &Requirements{Flavour: "Energy", Geolocation: "43.05,-2.92", MaxLatencyMS: 25}
	if !rt.UpdateRequirements(next) {
		t.Fatal("valid update rejected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !rt.Requirements().Equal(next) {
		if time.Now().After(deadline) {
			t.Fatalf("active requirements never swapped: %+v", rt.Requirements())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The runtime must still serve after the swap.
	if resp := rt.Call(sumFunction(), 1, 1); resp.RetCode != RetSuccess {
		t.Fatalf("call after requirements swap failed: %+v", resp)
	}
}

func TestRequirementsBeforeInitIsNil(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())
	if rt.Requirements() != nil {
		t.Fatal("requirements before init must be nil")
	}
}

func TestOverlappingSyncCallsSerializeWithCorrectResults(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}
	defer rt.Stop()

	type outcome struct {
		want, got float64
		ok        bool
	}
	results := make(chan outcome, 2)
	for _, pair := range [][2]float64{{10, 20}, {1, 2}} {
		go func(a, b float64) {
			resp := rt.Call(sumFunction(), a, b)
			got, isNum := resp.Result.(float64)
			results <- outcome{want: a + b, got: got, ok: isNum && resp.RetCode == RetSuccess}
		}(pair[0], pair[1])
	}

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if !r.ok || r.got != r.want {
				t.Fatalf("concurrent sync call got %v, want %v", r.got, r.want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("a concurrent sync call never returned")
		}
	}
	if fabric.executions.Load() != 2 {
		t.Fatalf("cluster executed %d calls, want 2", fabric.executions.Load())
	}
}

func TestAsyncCallsExecuteInSubmissionOrder(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}
	defer rt.Stop()

	const n = 5
	var fired atomic.Int64
	for i := 0; i < n; i++ {
		if !rt.CallAsync(sumFunction(), func(*ExecResponse) { fired.Add(1) }, float64(i), 0) {
			t.Fatalf("async call %d rejected", i)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for fired.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d callbacks fired", fired.Load(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	order := fabric.executionOrder()
	if len(order) != n {
		t.Fatalf("cluster saw %d executions, want %d", len(order), n)
	}
	for i, sum := range order {
		if sum != float64(i) {
			t.Fatalf("execution order %v, want calls in submission order", order)
		}
	}
}

func TestAsyncCapacityShedAtFacade(t *testing.T) {
	fabric := newFakeFabric(t)
	fabric.execGate = make(chan struct{})
	fabric.execEntered = make(chan struct{}, 16)

	cfg := fabric.config()
	cfg.Runtime.QueueSize = 5
	rt := New(cfg)
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}
	defer rt.Stop()

	// Pin the supervisor inside one execution so submissions pile up
	// against the queue bound instead of draining.
	var plugDone atomic.Bool
	if !rt.CallAsync(sumFunction(), func(*ExecResponse) { plugDone.Store(true) }, 0, 0) {
		t.Fatal("pinning call rejected")
	}
	select {
	case <-fabric.execEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("pinning call never reached the cluster")
	}

	var delivered atomic.Int64
	accepted := 0
	for i := 0; i < 7; i++ {
		if rt.CallAsync(sumFunction(), func(*ExecResponse) { delivered.Add(1) }, float64(i), 1) {
			accepted++
		}
	}
	if accepted != 5 {
		t.Fatalf("accepted %d of 7 submissions against a bound of 5", accepted)
	}

	close(fabric.execGate)
	deadline := time.Now().Add(5 * time.Second)
	for delivered.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of 5 accepted calls delivered", delivered.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if delivered.Load() != 5 {
		t.Fatalf("delivered %d results, want exactly the 5 accepted", delivered.Load())
	}
	if !plugDone.Load() {
		t.Fatal("pinning call never completed")
	}
}

func TestRequirementsSwapWithAsyncCallsInFlight(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}
	defer rt.Stop()

	const n = 4
	counts := make([]atomic.Int64, n)
	for i := 0; i < n; i++ {
		i := i
		if !rt.CallAsync(sumFunction(), func(*ExecResponse) { counts[i].Add(1) }, float64(i), 1) {
			t.Fatalf("async call %d rejected", i)
		}
	}

	next := &Requirements{Flavour: "Energy", Geolocation: "43.05,-2.92", MaxLatencyMS: 25}
	if !rt.UpdateRequirements(next) {
		t.Fatal("requirements update rejected")
	}

	total := func() int64 {
		var sum int64
		for i := range counts {
			sum += counts[i].Load()
		}
		return sum
	}
	deadline := time.Now().Add(5 * time.Second)
	for total() < n || !rt.Requirements().Equal(next) {
		if time.Now().After(deadline) {
			t.Fatalf("after the swap %d of %d callbacks fired, active = %+v", total(), n, rt.Requirements())
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	for i := range counts {
		if c := counts[i].Load(); c != 1 {
			t.Fatalf("callback %d fired %d times, want exactly once", i, c)
		}
	}
}

func TestCallsRacingStopAreReleased(t *testing.T) {
	fabric := newFakeFabric(t)
	rt := New(fabric.config())
	if !rt.Init(&Requirements{Flavour: "Energy"}) {
		t.Fatal("init failed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			rt.Call(sumFunction(), 1, 1)
		}
	}()

	time.Sleep(30 * time.Millisecond)
	rt.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("a sync call blocked across Stop")
	}
	if rt.queue.Len() != 0 {
		t.Fatalf("%d stale calls left enqueued after stop", rt.queue.Len())
	}
}
