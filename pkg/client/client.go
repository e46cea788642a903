package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/windrose-io/windrose/pkg/health"
	"github.com/windrose-io/windrose/pkg/metabolism"
	"github.com/windrose-io/windrose/pkg/orchestrator"
	"github.com/windrose-io/windrose/pkg/types"
)

// Client is a typed HTTP client for the Windrose API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient swaps the underlying HTTP client, for tests and custom
// transports.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// SubmitPlan submits a planning request. A policy denial is not an error;
// inspect Submission.Snapshot.
func (c *Client) SubmitPlan(ctx context.Context, req *orchestrator.PlanRequest) (*orchestrator.PlanSubmission, error) {
	var sub orchestrator.PlanSubmission
	err := c.do(ctx, http.MethodPost, "/v1/plans", req, &sub, http.StatusAccepted, http.StatusForbidden)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// TenantBudget fetches a tenant's budget view.
func (c *Client) TenantBudget(ctx context.Context, tenantID string) (*types.TenantBudget, error) {
	var budget types.TenantBudget
	err := c.do(ctx, http.MethodGet, "/v1/tenants/"+url.PathEscape(tenantID)+"/budget", nil, &budget, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

// SetTenantLimits moves a tenant to a tier. limits may be nil to keep the
// current remaining balance.
func (c *Client) SetTenantLimits(ctx context.Context, tenantID string, tier types.Tier, limits *types.ResourceVector) (*types.TenantBudget, error) {
	body := map[string]any{"tier": tier}
	if limits != nil {
		body["limits"] = limits
	}
	var budget types.TenantBudget
	err := c.do(ctx, http.MethodPut, "/v1/tenants/"+url.PathEscape(tenantID)+"/limits", body, &budget, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

// GetJob fetches one of the tenant's jobs.
func (c *Client) GetJob(ctx context.Context, tenantID, jobID string) (*types.Job, error) {
	var job types.Job
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &job, http.StatusOK); err != nil {
		return nil, err
	}
	return &job, nil
}

// LedgerChain fetches the tenant's chain, newest first.
func (c *Client) LedgerChain(ctx context.Context, tenantID string, limit int) ([]*types.LedgerEntry, error) {
	var entries []*types.LedgerEntry
	path := fmt.Sprintf("/v1/tenants/%s/ledger?limit=%d", url.PathEscape(tenantID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &entries, http.StatusOK); err != nil {
		return nil, err
	}
	return entries, nil
}

// VerifyLedger runs a chain verification on the server.
func (c *Client) VerifyLedger(ctx context.Context, tenantID string, limit int) (*types.VerificationReport, error) {
	var report types.VerificationReport
	path := fmt.Sprintf("/v1/tenants/%s/ledger/verify?limit=%d", url.PathEscape(tenantID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &report, http.StatusOK); err != nil {
		return nil, err
	}
	return &report, nil
}

// LedgerSummary fetches the tenant's integrity summary.
func (c *Client) LedgerSummary(ctx context.Context, tenantID string) (*types.IntegritySummary, error) {
	var summary types.IntegritySummary
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/ledger/summary"
	if err := c.do(ctx, http.MethodGet, path, nil, &summary, http.StatusOK); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListKeys fetches the tenant's signing keys.
func (c *Client) ListKeys(ctx context.Context, tenantID string) ([]*types.SigningKey, error) {
	var keys []*types.SigningKey
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/keys"
	if err := c.do(ctx, http.MethodGet, path, nil, &keys, http.StatusOK); err != nil {
		return nil, err
	}
	return keys, nil
}

// RegisterKey registers a public key for the tenant.
func (c *Client) RegisterKey(ctx context.Context, tenantID, algorithm, publicPEM string, activate bool) (*types.SigningKey, error) {
	body := map[string]any{
		"algorithm":  algorithm,
		"public_key": publicPEM,
		"activate":   activate,
	}
	var key types.SigningKey
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/keys"
	if err := c.do(ctx, http.MethodPost, path, body, &key, http.StatusCreated); err != nil {
		return nil, err
	}
	return &key, nil
}

// HealthEvaluation is the response of EvaluateHealth.
type HealthEvaluation struct {
	Health     *health.State     `json:"health"`
	Metabolism *metabolism.State `json:"metabolism"`
}

// EvaluateHealth scores a connector extract for the tenant and returns the
// health state with the derived capacity estimate.
func (c *Client) EvaluateHealth(ctx context.Context, tenantID string, data health.ConnectorData, activeGoals, todoTasks int) (*HealthEvaluation, error) {
	body := map[string]any{
		"data":         data,
		"active_goals": activeGoals,
		"todo_tasks":   todoTasks,
	}
	var eval HealthEvaluation
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/health"
	if err := c.do(ctx, http.MethodPost, path, body, &eval, http.StatusOK); err != nil {
		return nil, err
	}
	return &eval, nil
}

// do runs one request and decodes the response into out when the status is
// one of the accepted statuses; anything else becomes an APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any, accept ...int) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	accepted := false
	for _, status := range accept {
		if resp.StatusCode == status {
			accepted = true
			break
		}
	}
	if !accepted {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
