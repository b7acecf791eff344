// Package planner provides the client for the external planning service:
// the opportunity feed, wallet positions and rebalance plan generation.
// The execution engine never computes plans itself; it executes what this
// boundary hands over.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/cache"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

// OpportunitySource lists the yield venues currently available.
type OpportunitySource interface {
	ListOpportunities(ctx context.Context) ([]models.Opportunity, error)
}

// PositionSource reports a wallet's current holdings across venues.
type PositionSource interface {
	GetPositions(ctx context.Context, wallet string) ([]models.Position, error)
}

// PlanRequest asks the planning service for a rebalance plan.
type PlanRequest struct {
	WalletAddress string  `json:"wallet_address"`
	Strategy      string  `json:"strategy"`
	MaxSlippage   float64 `json:"max_slippage,omitempty"`
}

// PlanGenerator turns a wallet's state into an ordered rebalance plan.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, req PlanRequest) ([]models.Action, error)
}

// Client is the HTTP client for the planning service API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

var (
	_ OpportunitySource = (*Client)(nil)
	_ PositionSource    = (*Client)(nil)
	_ PlanGenerator     = (*Client)(nil)
)

// New creates a new planning service client.
func New(endpoint string, logger logger.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     logger,
	}
}

type opportunitiesResponse struct {
	Opportunities []models.Opportunity `json:"opportunities,omitempty"`
	Data          []models.Opportunity `json:"data,omitempty"` // some deployments use "data" as the key
}

type positionsResponse struct {
	Positions []models.Position `json:"positions,omitempty"`
	Data      []models.Position `json:"data,omitempty"`
}

type planResponse struct {
	Plan []models.Action `json:"plan,omitempty"`
	Data []models.Action `json:"data,omitempty"`
}

// ListOpportunities fetches the current venue listings.
func (c *Client) ListOpportunities(ctx context.Context) ([]models.Opportunity, error) {
	body, err := c.get(ctx, "/api/v1/opportunities")
	if err != nil {
		return nil, err
	}

	var resp opportunitiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Some deployments return a bare array.
		var opportunities []models.Opportunity
		if err := json.Unmarshal(body, &opportunities); err != nil {
			return nil, fmt.Errorf("failed to decode opportunities: %v, body: %s", err, string(body))
		}
		return opportunities, nil
	}
	if len(resp.Opportunities) > 0 {
		return resp.Opportunities, nil
	}
	return resp.Data, nil
}

// GetPositions fetches the wallet's holdings across all venues.
func (c *Client) GetPositions(ctx context.Context, wallet string) ([]models.Position, error) {
	body, err := c.get(ctx, "/api/v1/positions?wallet="+url.QueryEscape(wallet))
	if err != nil {
		return nil, err
	}

	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		var positions []models.Position
		if err := json.Unmarshal(body, &positions); err != nil {
			return nil, fmt.Errorf("failed to decode positions: %v, body: %s", err, string(body))
		}
		return positions, nil
	}
	if len(resp.Positions) > 0 {
		return resp.Positions, nil
	}
	return resp.Data, nil
}

// GeneratePlan asks the planning service for a rebalance plan for the wallet.
func (c *Client) GeneratePlan(ctx context.Context, planReq PlanRequest) ([]models.Action, error) {
	reqBody, err := json.Marshal(planReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/plans", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build plan request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp planResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		var plan []models.Action
		if err := json.Unmarshal(body, &plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %v, body: %s", err, string(body))
		}
		return plan, nil
	}
	if len(resp.Plan) > 0 {
		c.logger.Debug("Planner returned %d actions for wallet %s", len(resp.Plan), planReq.WalletAddress)
		return resp.Plan, nil
	}
	return resp.Data, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planner request failed: %v", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}

// CachingPositionSource wraps a PositionSource with a TTL cache so the
// trigger monitor does not hammer the planning service on every tick.
type CachingPositionSource struct {
	source PositionSource
	cache  *cache.Cache[[]models.Position]
	ttl    time.Duration
}

var _ PositionSource = (*CachingPositionSource)(nil)

// NewCachingPositionSource wraps source with a cache holding entries for ttl.
func NewCachingPositionSource(source PositionSource, ttl time.Duration) *CachingPositionSource {
	return &CachingPositionSource{
		source: source,
		cache:  cache.New[[]models.Position](),
		ttl:    ttl,
	}
}

// GetPositions serves from the cache when fresh, otherwise fetches and
// stores.
func (s *CachingPositionSource) GetPositions(ctx context.Context, wallet string) ([]models.Position, error) {
	return s.cache.GetOrCompute(wallet, s.ttl, func() ([]models.Position, error) {
		return s.source.GetPositions(ctx, wallet)
	})
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
