package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/httputil"
)

// Client talks to a running monitor server. The HTTP transport is an
// interface so tests can substitute a canned client.
type Client struct {
	HTTPClient httputil.HTTPClient
	BaseURL    string
}

// NewClient creates a monitor client. A nil httpClient gets a standard
// client with a 30 second timeout.
func NewClient(httpClient httputil.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second})
	}
	return &Client{HTTPClient: httpClient, BaseURL: baseURL}
}

// Health checks the health endpoint and returns an error unless it reports
// 200.
func (c *Client) Health() error {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Status fetches the status summary.
func (c *Client) Status() (map[string]interface{}, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status returned %d: %s", resp.StatusCode, string(body))
	}

	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Events fetches the located events for one processing day.
func (c *Client) Events(day string) ([]*event.Event, error) {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/api/events?day=%s", c.BaseURL, url.QueryEscape(day)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("events returned %d: %s", resp.StatusCode, string(body))
	}

	var events []*event.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, err
	}
	return events, nil
}

// Candidates fetches the trigger candidates for one processing day.
func (c *Client) Candidates(day string) ([]event.Candidate, error) {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/api/candidates?day=%s", c.BaseURL, url.QueryEscape(day)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("candidates returned %d: %s", resp.StatusCode, string(body))
	}

	var cands []event.Candidate
	if err := json.NewDecoder(resp.Body).Decode(&cands); err != nil {
		return nil, err
	}
	return cands, nil
}
