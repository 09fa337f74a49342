// Package edgecluster implements the client for a selected Edge Cluster
// Frontend: executing an uploaded function by ID and reporting device
// latency samples.
//
// Async submissions still negotiate mode=sync on the wire so the result
// arrives in-band; the client then invokes the caller's callback itself.
// Whether the fabric ever honours mode=async is an open contract
// question, so the behaviour of the original client is preserved.
package edgecluster

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"github.com/sovereignedge/cognit-device-runtime/internal/faas"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
	"github.com/sovereignedge/cognit-device-runtime/internal/observability"
)

// Client talks to one Edge Cluster Frontend.
type Client struct {
	endpoint string
	token    string

	http      *http.Client
	insecure  *http.Client
	parser    faas.Parser
	connected atomic.Bool
}

// New creates a cluster client bound to the given endpoint. The client
// starts connected unless token or endpoint are missing, mirroring the
// frontend's contract that a freshly selected cluster is reachable until
// proven otherwise.
func New(token, endpoint string, parser faas.Parser) *Client {
	c := &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{},
		insecure: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		parser: parser,
	}
	c.connected.Store(token != "" && endpoint != "")
	if token == "" {
		logging.Op().Error("edge cluster client created without token")
	}
	if endpoint == "" {
		logging.Op().Error("edge cluster client created without endpoint")
	}
	return c
}

// Endpoint returns the cluster base URL this client is bound to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connected reports whether the last exchange with the cluster succeeded.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// wire shape of an execution response.
type execResult struct {
	RetCode int    `json:"ret_code"`
	Res     string `json:"res"`
	Err     string `json:"err"`
}

// Execute runs the uploaded function identified by funcID with the given
// parameters. For sync calls the ExecResponse is returned; for async
// calls the callback is invoked with it and nil is returned. Transport
// failures never panic out: sync callers get RetCode=ERROR, async
// transport failures are logged and the callback is not invoked. A
// fabric-reported user-function failure is a delivered result either way.
func (c *Client) Execute(ctx context.Context, funcID, appReqID int64, call *domain.Call) *domain.ExecResponse {
	ctx, span := observability.StartSpan(ctx, "edgecluster.execute")
	defer span.End()

	result, err := c.execute(ctx, funcID, appReqID, call)

	if call.Mode == domain.ModeAsync {
		if err != nil {
			logging.Op().Error("async execution failed", "request_id", call.RequestID, "error", err)
			return nil
		}
		if call.Callback != nil {
			call.Callback(result)
		}
		return nil
	}

	if err != nil {
		return domain.ErrorResponse("%v", err)
	}
	return result
}

func (c *Client) execute(ctx context.Context, funcID, appReqID int64, call *domain.Call) (*domain.ExecResponse, error) {
	serialized := make([]string, 0, len(call.Params))
	for _, p := range call.Params {
		blob, err := c.parser.Serialize(p)
		if err != nil {
			return nil, fmt.Errorf("serialize parameter: %w", err)
		}
		serialized = append(serialized, blob)
	}
	body, err := json.Marshal(serialized)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}

	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	// The fabric only answers in-band, so the wire mode is always sync.
	q := url.Values{}
	q.Set("app_req_id", strconv.FormatInt(appReqID, 10))
	q.Set("mode", string(domain.ModeSync))
	uri := fmt.Sprintf("%s/v1/functions/%d/execute?%s", c.endpoint, funcID, q.Encode())

	resp, err := c.post(ctx, uri, body)
	if err != nil {
		c.connected.Store(false)
		return nil, fmt.Errorf("%w: execution request failed: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	c.observe(resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.connected.Store(false)
		return nil, fmt.Errorf("%w: read execution response: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: execution returned status %d", domain.ErrTransport, resp.StatusCode)
	}

	var wire execResult
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode execution response: %v", domain.ErrTransport, err)
	}

	result := &domain.ExecResponse{Err: wire.Err}
	if wire.RetCode == 0 {
		result.RetCode = domain.RetSuccess
	} else {
		// The user function itself failed; delivered, never retried.
		result.RetCode = domain.RetError
		if result.Err == "" {
			result.Err = domain.ErrExecution.Error()
		}
	}
	if wire.Res != "" {
		decoded, err := c.parser.Deserialize(wire.Res)
		if err != nil {
			return nil, fmt.Errorf("%w: deserialize result: %v", domain.ErrTransport, err)
		}
		result.Result = decoded
	}
	return result, nil
}

// ReportLatency publishes one round-trip sample to the cluster's device
// metrics endpoint.
func (c *Client) ReportLatency(ctx context.Context, latencyMS float64) bool {
	payload, err := json.Marshal(map[string]float64{"latency": latencyMS})
	if err != nil {
		return false
	}
	resp, err := c.post(ctx, c.endpoint+"/v1/device_metrics", payload)
	if err != nil {
		c.connected.Store(false)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	c.observe(resp.StatusCode)
	return resp.StatusCode == http.StatusOK
}

// post issues the request, retrying once with certificate verification
// disabled when the cluster presents a self-signed certificate.
func (c *Client) post(ctx context.Context, uri string, body []byte) (*http.Response, error) {
	req, err := c.newRequest(ctx, uri, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err == nil || !certificateError(err) {
		return resp, err
	}

	logging.Op().Info("certificate verification failed, retrying without verification", "uri", uri)
	req, err = c.newRequest(ctx, uri, body)
	if err != nil {
		return nil, err
	}
	return c.insecure.Do(req)
}

func (c *Client) newRequest(ctx context.Context, uri string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", c.token)
	return req, nil
}

// observe maintains the connection flag per request: 200 proves the
// session, 400 and 401 disprove it.
func (c *Client) observe(status int) {
	switch status {
	case http.StatusOK:
		c.connected.Store(true)
	case http.StatusBadRequest, http.StatusUnauthorized:
		c.connected.Store(false)
	}
}

func certificateError(err error) bool {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return true
	}
	var invalid x509.CertificateInvalidError
	return errors.As(err, &invalid)
}

// Ping measures one request round-trip without side effects; used by
// tests and diagnostics rather than the latency probe, which times raw
// connection establishment instead.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	resp, err := c.post(ctx, c.endpoint+"/v1/device_metrics", []byte(`{"latency":0}`))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return time.Since(start), nil
}
