// Package signer provides a client for the remote threshold-signing service
// that authorizes cross-chain transactions.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/metrics"
)

// TimeoutError is returned when the signer did not produce a signature
// within the bounded number of polling attempts.
type TimeoutError struct {
	RequestID string
	Attempts  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("signature request %s timed out after %d attempts", e.RequestID, e.Attempts)
}

// Client talks to the threshold-signing service over HTTP.
//
// A signature request is not idempotent: a second request for the same
// logical payload opens a second signing job on the service side. Callers
// that need to retry must keep the request ID and resume with
// WaitForSignature instead of calling RequestSignature again.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new signing service client.
func New(endpoint string, logger logger.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     logger,
	}
}

type signRequest struct {
	Payload   []byte `json:"payload"`
	ChainPath string `json:"chain_path"`
}

type signResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RequestSignature submits a payload for signing and returns the request ID
// to poll with.
func (c *Client) RequestSignature(ctx context.Context, payload []byte, chainPath string) (string, error) {
	body, err := json.Marshal(signRequest{Payload: payload, ChainPath: chainPath})
	if err != nil {
		return "", fmt.Errorf("failed to encode sign request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/signatures", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build sign request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit sign request: %v", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var signResp signResponse
	if err := json.Unmarshal(bodyBytes, &signResp); err != nil {
		return "", fmt.Errorf("failed to decode sign response: %v, body: %s", err, string(bodyBytes))
	}
	if signResp.RequestID == "" {
		return "", fmt.Errorf("signer returned no request id, body: %s", string(bodyBytes))
	}

	metrics.SignatureRequests.Inc()
	c.logger.Debug("Signature requested: %s (chain path %s)", signResp.RequestID, chainPath)
	return signResp.RequestID, nil
}

// PollSignature checks a signing job once. It returns the signature and true
// when the job completed; ("", false, nil) while the job is still pending.
// Polling a completed request is idempotent and returns the same signature.
func (c *Client) PollSignature(ctx context.Context, requestID string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/v1/signatures/"+requestID, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to build poll request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("failed to poll signature %s: %v", requestID, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var signResp signResponse
	if err := json.Unmarshal(bodyBytes, &signResp); err != nil {
		return "", false, fmt.Errorf("failed to decode poll response: %v, body: %s", err, string(bodyBytes))
	}

	switch signResp.Status {
	case "completed":
		if signResp.Signature == "" {
			return "", false, fmt.Errorf("signer reported completion without a signature for %s", requestID)
		}
		return signResp.Signature, true, nil
	case "failed":
		return "", false, fmt.Errorf("signing job %s failed: %s", requestID, signResp.Error)
	default:
		return "", false, nil
	}
}

// WaitForSignature polls an existing signing job up to maxAttempts times,
// sleeping pollInterval between attempts. It returns promptly with the
// context error when ctx is cancelled mid-wait, and a *TimeoutError after
// exhausting all attempts.
func (c *Client) WaitForSignature(ctx context.Context, requestID string, maxAttempts int, pollInterval time.Duration) (string, error) {
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	// Drain the immediate first fire so the loop owns the timer state.
	<-timer.C

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		signature, ready, err := c.PollSignature(ctx, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		}
		if ready {
			metrics.SignatureWaitTime.Observe(time.Since(start).Seconds())
			c.logger.Debug("Signature %s ready after %d attempts", requestID, attempt)
			return signature, nil
		}

		if attempt == maxAttempts {
			break
		}

		timer.Reset(pollInterval)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	metrics.SignatureTimeouts.Inc()
	return "", &TimeoutError{RequestID: requestID, Attempts: maxAttempts}
}

// ExecuteCrossChain requests a signature for the payload and waits for it,
// bounded by maxAttempts polls spaced pollInterval apart.
func (c *Client) ExecuteCrossChain(ctx context.Context, payload []byte, chainPath string, maxAttempts int, pollInterval time.Duration) (string, string, error) {
	requestID, err := c.RequestSignature(ctx, payload, chainPath)
	if err != nil {
		return "", "", err
	}

	signature, err := c.WaitForSignature(ctx, requestID, maxAttempts, pollInterval)
	if err != nil {
		return "", requestID, err
	}
	return signature, requestID, nil
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
