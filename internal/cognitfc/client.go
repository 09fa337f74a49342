// Package cognitfc implements the client for the Cognit Frontend control
// plane: authentication, the app_requirements record, candidate cluster
// discovery, and function uploads to the DaaS content store.
//
// The client keeps a connection flag the supervisor consults on every
// tick. Any HTTP response proves the frontend reachable and keeps the
// flag set, with two exceptions that disprove the session: transport
// errors and 401/403. Plain request failures (other 4xx, 5xx) surface as
// errors without dropping the flag, so the supervisor's bounded retries
// get their chance before falling back to re-authentication.
package cognitfc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/sovereignedge/cognit-device-runtime/internal/config"
	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
	"github.com/sovereignedge/cognit-device-runtime/internal/faas"
	"github.com/sovereignedge/cognit-device-runtime/internal/logging"
	"github.com/sovereignedge/cognit-device-runtime/internal/observability"
	"github.com/sovereignedge/cognit-device-runtime/internal/uploadcache"
)

// Client talks to one Cognit Frontend endpoint.
type Client struct {
	endpoint string
	username string
	password string

	http      *http.Client
	parser    faas.Parser
	uploads   *uploadcache.Cache
	token     string
	appReqID  int64
	connected atomic.Bool
}

// New creates a frontend client. The upload cache is shared across client
// instances so re-authentication never forgets resolved function IDs.
func New(cfg config.FrontendConfig, parser faas.Parser, uploads *uploadcache.Cache) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{},
		parser:   parser,
		uploads:  uploads,
	}
}

// Connected reports whether the last exchange with the frontend succeeded.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Token returns the bearer token obtained by Authenticate, or "".
func (c *Client) Token() string {
	return c.token
}

// AppReqID returns the app_requirements record ID, or 0 before the first
// successful registration.
func (c *Client) AppReqID() int64 {
	return c.appReqID
}

// Authenticate exchanges the configured credentials for a bearer token.
// Returns the token, or "" when authentication failed.
func (c *Client) Authenticate(ctx context.Context) string {
	ctx, span := observability.StartSpan(ctx, "cognitfc.authenticate")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/authenticate", nil)
	if err != nil {
		c.connected.Store(false)
		return ""
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		logging.Op().Error("authentication failed", "error", err)
		c.connected.Store(false)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		logging.Op().Error("authentication rejected", "status", resp.StatusCode)
		c.connected.Store(false)
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.connected.Store(false)
		return ""
	}
	var token string
	if err := json.Unmarshal(body, &token); err != nil || token == "" {
		logging.Op().Error("authentication returned no token")
		c.connected.Store(false)
		return ""
	}

	c.token = token
	c.connected.Store(true)
	return token
}

// RegisterOrUpdate registers the requirements record, or updates it in
// place once an ID is held. Returns nil iff the frontend acknowledged.
func (c *Client) RegisterOrUpdate(ctx context.Context, reqs *domain.Requirements) error {
	if err := reqs.Validate(); err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, "cognitfc.register_requirements")
	defer span.End()

	if c.appReqID == 0 {
		status, body, err := c.do(ctx, http.MethodPost, "/v1/app_requirements", reqs)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("%w: app_requirements create returned %d", transportOrAuth(status), status)
		}
		var id int64
		if err := json.Unmarshal(body, &id); err != nil || id == 0 {
			return fmt.Errorf("%w: application ID was not assigned", domain.ErrTransport)
		}
		c.appReqID = id
		return nil
	}

	status, _, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/app_requirements/%d", c.appReqID), reqs)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: app_requirements update returned %d", transportOrAuth(status), status)
	}
	return nil
}

// ReadRequirements fetches the registered requirements record.
func (c *Client) ReadRequirements(ctx context.Context) (*domain.Requirements, error) {
	status, body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/app_requirements/%d", c.appReqID), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		// The record does not exist yet; the session is fine.
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: app_requirements read returned %d", transportOrAuth(status), status)
	}
	var reqs domain.Requirements
	if err := json.Unmarshal(body, &reqs); err != nil {
		return nil, fmt.Errorf("%w: decode requirements: %v", domain.ErrTransport, err)
	}
	return &reqs, nil
}

// DeleteRequirements removes the requirements record.
func (c *Client) DeleteRequirements(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/app_requirements/%d", c.appReqID), nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("%w: app_requirements delete returned %d", transportOrAuth(status), status)
	}
	c.appReqID = 0
	return nil
}

// clusterEntry is the wire shape of one ec_fe listing element.
type clusterEntry struct {
	Name     string            `json:"NAME"`
	Template map[string]string `json:"TEMPLATE"`
}

// ListClusters enumerates the candidate Edge Cluster Frontends for this
// application. Entries whose template lacks EDGE_CLUSTER_FRONTEND are
// skipped with a warning. The remote's ordering is preserved: when no
// latency budget applies, it is the selection order.
func (c *Client) ListClusters(ctx context.Context) ([]domain.ClusterCandidate, error) {
	ctx, span := observability.StartSpan(ctx, "cognitfc.list_clusters")
	defer span.End()

	status, body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/app_requirements/%d/ec_fe", c.appReqID), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: ec_fe listing returned %d", transportOrAuth(status), status)
	}

	var entries []clusterEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode ec_fe listing: %v", domain.ErrTransport, err)
	}

	candidates := make([]domain.ClusterCandidate, 0, len(entries))
	for _, e := range entries {
		endpoint := e.Template["EDGE_CLUSTER_FRONTEND"]
		if endpoint == "" {
			logging.Op().Warn("cluster entry missing EDGE_CLUSTER_FRONTEND, skipped", "name", e.Name)
			continue
		}
		candidates = append(candidates, domain.ClusterCandidate{Name: e.Name, Endpoint: endpoint})
	}
	return candidates, nil
}

// uploadPayload is the DaaS upload wire format.
type uploadPayload struct {
	Lang   domain.FunctionLanguage `json:"LANG"`
	FC     string                  `json:"FC"`
	FCHash string                  `json:"FC_HASH"`
}

// UploadFunction serializes the function, fingerprints the blob, and
// resolves the fabric-assigned function ID through the upload cache.
// The second return reports a cache hit.
func (c *Client) UploadFunction(ctx context.Context, fn *domain.FaasFunction) (int64, bool, error) {
	if err := fn.Validate(); err != nil {
		return 0, false, err
	}

	blob := faas.SerializeFunction(fn)
	fingerprint := faas.Fingerprint(blob)

	return c.uploads.LookupOrUpload(ctx, fingerprint, func(ctx context.Context) (int64, error) {
		ctx, span := observability.StartSpan(ctx, "cognitfc.upload_function")
		defer span.End()

		payload := uploadPayload{Lang: fn.Lang, FC: blob, FCHash: fingerprint}
		status, body, err := c.do(ctx, http.MethodPost, "/v1/daas/upload", payload)
		if err != nil {
			return 0, err
		}
		if status != http.StatusOK {
			return 0, fmt.Errorf("%w: daas upload returned %d", transportOrAuth(status), status)
		}
		var id int64
		if err := json.Unmarshal(body, &id); err != nil {
			return 0, fmt.Errorf("%w: decode function ID: %v", domain.ErrTransport, err)
		}
		return id, nil
	})
}

// ReportLatencyMap publishes per-cluster latency measurements gathered
// during selection.
func (c *Client) ReportLatencyMap(ctx context.Context, samples map[string]float64) error {
	status, _, err := c.do(ctx, http.MethodPost, "/v1/latency", samples)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: latency report returned %d", transportOrAuth(status), status)
	}
	return nil
}

// do issues one authenticated request and maintains the connection flag.
// No lock is held across the call.
func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.connected.Store(false)
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.connected.Store(false)
		return resp.StatusCode, nil, fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}

	c.observe(resp.StatusCode)
	return resp.StatusCode, respBody, nil
}

// observe maintains the connection flag: a response means the frontend
// is reachable, unless it rejects the session outright.
func (c *Client) observe(status int) {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.connected.Store(false)
		return
	}
	c.connected.Store(true)
}

// transportOrAuth maps an HTTP status onto the error taxonomy: 401/403
// are promoted to the auth sentinel so the supervisor re-authenticates.
func transportOrAuth(status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return domain.ErrAuth
	}
	return domain.ErrTransport
}
