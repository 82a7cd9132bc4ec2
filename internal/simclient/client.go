// Package simclient invokes the external batch simulation engine over HTTP.
// The engine is a black box: it accepts a tunable-parameter map and a stop
// time and returns a nested channel map of time-series arrays.
package simclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// request is the invocation payload for one batch.
type request struct {
	TunableParameters      map[string]float64 `json:"tunable_parameters"`
	ConfigureForDeployment bool               `json:"configure_for_deployment"`
	StopTimeS              int                `json:"stop_time_s"`
}

// Client calls the external simulation engine.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a simulator client. The timeout bounds one whole batch run;
// the engine can take tens of seconds per invocation.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Run executes one fixed-duration batch and returns the raw channel map.
// Any transport, status, or decode problem is a single invocation failure;
// the caller retries on its next cycle.
func (c *Client) Run(ctx context.Context, params map[string]float64, deploy bool, stopTimeS int) (map[string]any, error) {
	body, err := json.Marshal(request{
		TunableParameters:      params,
		ConfigureForDeployment: deploy,
		StopTimeS:              stopTimeS,
	})
	if err != nil {
		return nil, fmt.Errorf("simclient: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("simclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simclient: invoking simulator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("simclient: simulator returned %d: %s", resp.StatusCode, snippet)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("simclient: decoding response: %w", err)
	}
	return result, nil
}
