package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/engine"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/store"
)

// stubEngine implements ExecutionService over an in-memory map so the
// handlers can be exercised without a running coordinator.
type stubEngine struct {
	executions map[string]*models.Execution
	queueFull  bool
	cancelled  []string
}

func newStubEngine() *stubEngine {
	return &stubEngine{executions: make(map[string]*models.Execution)}
}

func (e *stubEngine) CreateExecution(wallet, strategy string, plan []models.Action, dryRun bool) (*models.Execution, error) {
	if wallet == "" {
		return nil, &engine.ValidationError{Reason: "wallet address is required"}
	}
	if len(plan) == 0 {
		return nil, &engine.ValidationError{Reason: "plan is empty"}
	}
	if e.queueFull {
		return nil, engine.ErrQueueFull
	}
	execution := &models.Execution{
		ID:            fmt.Sprintf("exec-%d", len(e.executions)+1),
		WalletAddress: wallet,
		Strategy:      strategy,
		DryRun:        dryRun,
		Plan:          plan,
		Status:        models.ExecutionPending,
		StartedAt:     time.Now(),
	}
	e.executions[execution.ID] = execution
	return execution, nil
}

func (e *stubEngine) GetExecution(id string) (*models.Execution, error) {
	execution, ok := e.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return execution, nil
}

func (e *stubEngine) ListExecutions(wallet string, _, _ int) ([]*models.Execution, error) {
	result := []*models.Execution{}
	for _, execution := range e.executions {
		if execution.WalletAddress == wallet {
			result = append(result, execution)
		}
	}
	return result, nil
}

func (e *stubEngine) CancelExecution(id string) error {
	execution, ok := e.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	if execution.Status.Terminal() {
		return fmt.Errorf("execution %s already %s", id, execution.Status)
	}
	e.cancelled = append(e.cancelled, id)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubEngine) {
	t.Helper()
	stub := newStubEngine()
	server := NewServer(0, stub, store.NewMemoryStore(), &logger.EmptyLogger{})
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)
	return ts, stub
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func validPlan() []models.Action {
	return []models.Action{
		{ID: "a1", Kind: models.ActionWithdraw, TargetProtocol: "aave", TargetChain: "ethereum", Asset: "USDC", Amount: "1000"},
	}
}

func TestCreateExecutionEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/executions", createExecutionRequest{
		WalletAddress: "0xwallet",
		Strategy:      "max-apy",
		Plan:          validPlan(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var execution models.Execution
	decode(t, resp, &execution)
	assert.NotEmpty(t, execution.ID)
	assert.Equal(t, "0xwallet", execution.WalletAddress)
	assert.Equal(t, models.ExecutionPending, execution.Status)
}

func TestCreateExecutionValidationError(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/executions", createExecutionRequest{
		WalletAddress: "0xwallet",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp errorResponse
	decode(t, resp, &errResp)
	assert.Contains(t, errResp.Error, "plan is empty")
}

func TestCreateExecutionQueueFull(t *testing.T) {
	ts, stub := newTestServer(t)
	stub.queueFull = true

	resp := postJSON(t, ts.URL+"/api/v1/executions", createExecutionRequest{
		WalletAddress: "0xwallet",
		Plan:          validPlan(),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetExecutionEndpoint(t *testing.T) {
	ts, stub := newTestServer(t)
	created, err := stub.CreateExecution("0xwallet", "max-apy", validPlan(), false)
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/executions/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execution models.Execution
	decode(t, resp, &execution)
	assert.Equal(t, created.ID, execution.ID)

	missing, err := http.Get(ts.URL + "/api/v1/executions/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListExecutionsEndpoint(t *testing.T) {
	ts, stub := newTestServer(t)
	_, err := stub.CreateExecution("0xwallet", "max-apy", validPlan(), false)
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/executions?wallet=0xwallet")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listResp struct {
		Executions []models.Execution `json:"executions"`
		Limit      int                `json:"limit"`
	}
	decode(t, resp, &listResp)
	assert.Len(t, listResp.Executions, 1)
	assert.Equal(t, 50, listResp.Limit)

	noWallet, err := http.Get(ts.URL + "/api/v1/executions")
	require.NoError(t, err)
	defer noWallet.Body.Close()
	assert.Equal(t, http.StatusBadRequest, noWallet.StatusCode)
}

func TestCancelExecutionEndpoint(t *testing.T) {
	ts, stub := newTestServer(t)
	created, err := stub.CreateExecution("0xwallet", "max-apy", validPlan(), false)
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/api/v1/executions/"+created.ID+"/cancel", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{created.ID}, stub.cancelled)

	// Cancelling a terminal execution conflicts.
	stub.executions[created.ID].Status = models.ExecutionCompleted
	conflict := postJSON(t, ts.URL+"/api/v1/executions/"+created.ID+"/cancel", nil)
	defer conflict.Body.Close()
	assert.Equal(t, http.StatusConflict, conflict.StatusCode)

	missing := postJSON(t, ts.URL+"/api/v1/executions/nope/cancel", nil)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestTriggerEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	missing, err := http.Get(ts.URL + "/api/v1/wallets/0xwallet/trigger")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	body := putTriggerRequest{
		Strategy:        "max-apy",
		Enabled:         true,
		IntervalSeconds: 3600,
		MinAPY:          4.5,
		MaxSlippage:     0.005,
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/wallets/0xwallet/trigger", bytes.NewReader(raw))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var config models.TriggerConfig
	decode(t, resp, &config)
	assert.Equal(t, "0xwallet", config.WalletAddress)
	assert.Equal(t, time.Hour, config.Interval)

	got, err := http.Get(ts.URL + "/api/v1/wallets/0xwallet/trigger")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, got.StatusCode)
	var fetched models.TriggerConfig
	decode(t, got, &fetched)
	assert.True(t, fetched.Enabled)
	assert.Equal(t, 4.5, fetched.MinAPY)
}

func TestPutTriggerRejectsNegativeThresholds(t *testing.T) {
	ts, _ := newTestServer(t)

	raw, err := json.Marshal(putTriggerRequest{MinAPY: -1})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/wallets/0xwallet/trigger", bytes.NewReader(raw))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
