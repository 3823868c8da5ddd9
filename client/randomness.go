package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound matches API errors returned with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: %s", e.Message)
}

// Is reports whether e matches target. A 404 matches ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// RequestResult is the response to a randomness request.
type RequestResult struct {
	Seed       string `json:"seed"`
	SeedHex    string `json:"seed_hex"`
	Network    string `json:"network"`
	Address    string `json:"address"`
	WorkflowID string `json:"workflow_id"`
}

// Randomness is the state of a request as seen by the server: the account on
// chain and the server's own record of it.
type Randomness struct {
	Seed       string  `json:"seed"`
	SeedHex    string  `json:"seed_hex"`
	Network    string  `json:"network"`
	Address    string  `json:"address"`
	OnChain    bool    `json:"on_chain"`
	Status     string  `json:"status"` // pending, fulfilled, unknown
	Randomness string  `json:"randomness,omitempty"`
	Value      *uint64 `json:"value,omitempty"`
	Record     *Record `json:"record,omitempty"`
}

// Fulfilled reports whether the randomness is available.
func (r *Randomness) Fulfilled() bool {
	return r.Status == "fulfilled" && r.Randomness != ""
}

// Record is the server's ledger entry for a request.
type Record struct {
	Seed                 string    `json:"seed,omitempty"`
	Network              string    `json:"network,omitempty"`
	Address              string    `json:"address,omitempty"`
	Status               string    `json:"status"`
	RequestSignature     *string   `json:"request_signature,omitempty"`
	Randomness           *string   `json:"randomness,omitempty"`
	FulfillmentSignature *string   `json:"fulfillment_signature,omitempty"`
	Authority            *string   `json:"authority,omitempty"`
	Verified             bool      `json:"verified"`
	VerifyError          *string   `json:"verify_error,omitempty"`
	WorkflowID           *string   `json:"workflow_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Verification is the outcome of an offchain fulfillment check.
type Verification struct {
	Seed                 string     `json:"seed"`
	Network              string     `json:"network"`
	Address              string     `json:"address"`
	Verified             bool       `json:"verified"`
	Randomness           string     `json:"randomness"`
	Value                uint64     `json:"value"`
	FulfillmentSignature string     `json:"fulfillment_signature"`
	Authority            string     `json:"authority"`
	Trusted              bool       `json:"trusted"`
	Slot                 uint64     `json:"slot"`
	BlockTime            *time.Time `json:"block_time,omitempty"`
}

// AddressInfo is a derived randomness account address.
type AddressInfo struct {
	Seed      string `json:"seed"`
	SeedHex   string `json:"seed_hex"`
	Network   string `json:"network"`
	ProgramID string `json:"program_id"`
	Address   string `json:"address"`
}

// NetworkConfig is the program configuration the server reads from chain.
type NetworkConfig struct {
	Network                string   `json:"network"`
	ProgramID              string   `json:"program_id"`
	ConfigAddress          string   `json:"config_address"`
	Authority              string   `json:"authority"`
	Treasury               string   `json:"treasury"`
	RequestFee             uint64   `json:"request_fee"`
	FulfillmentAuthorities []string `json:"fulfillment_authorities"`
}

// WorkflowStatus is the state of a randomness workflow.
type WorkflowStatus struct {
	WorkflowID string          `json:"workflow_id"`
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	Result     *WorkflowResult `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
}

// WorkflowResult is what a completed workflow reports.
type WorkflowResult struct {
	Seed                 string     `json:"seed"`
	Network              string     `json:"network"`
	Address              string     `json:"address,omitempty"`
	Submitted            bool       `json:"submitted"`
	RequestSignature     *string    `json:"request_signature,omitempty"`
	Randomness           string     `json:"randomness,omitempty"`
	Value                *uint64    `json:"value,omitempty"`
	Verified             bool       `json:"verified"`
	Trusted              bool       `json:"trusted"`
	Authority            string     `json:"authority,omitempty"`
	FulfillmentSignature string     `json:"fulfillment_signature,omitempty"`
	BlockTime            *time.Time `json:"block_time,omitempty"`
	Polls                int        `json:"polls"`
	Status               string     `json:"status"`
	Error                *string    `json:"error,omitempty"`
	CompletedAt          time.Time  `json:"completed_at"`
}

// Event is one randomness lifecycle event from the stream.
type Event struct {
	Type                 string     `json:"type"`
	Seed                 string     `json:"seed"`
	Network              string     `json:"network"`
	Address              string     `json:"address"`
	RequestSignature     string     `json:"request_signature,omitempty"`
	Submitted            bool       `json:"submitted,omitempty"`
	Randomness           string     `json:"randomness,omitempty"`
	Value                *uint64    `json:"value,omitempty"`
	FulfillmentSignature string     `json:"fulfillment_signature,omitempty"`
	Authority            string     `json:"authority,omitempty"`
	Verified             bool       `json:"verified"`
	Trusted              bool       `json:"trusted"`
	Slot                 uint64     `json:"slot,omitempty"`
	BlockTime            *time.Time `json:"block_time,omitempty"`
	Error                string     `json:"error,omitempty"`
	PublishedAt          time.Time  `json:"published_at"`
}

// ListOptions filters List.
type ListOptions struct {
	Status string // "pending" or "fulfilled"; empty lists both
	Limit  int
	Offset int
}

// Client is the HTTP client for the randomness service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new randomness service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Request asks the server to request randomness for seed. An empty seed
// lets the server draw one.
func (c *Client) Request(ctx context.Context, seed string) (*RequestResult, error) {
	reqBody := map[string]string{}
	if seed != "" {
		reqBody["seed"] = seed
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out RequestResult
	if err := c.do(ctx, "POST", "/api/v1/randomness", bytes.NewReader(body), http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("randomness requested", "seed", out.Seed, "workflow_id", out.WorkflowID)
	return &out, nil
}

// Get retrieves the state of the request for seed.
func (c *Client) Get(ctx context.Context, seed string) (*Randomness, error) {
	var out Randomness
	if err := c.do(ctx, "GET", "/api/v1/randomness/"+url.PathEscape(seed), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List retrieves recorded requests, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/randomness"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Requests []*Record `json:"requests"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// Verify asks the server to verify the fulfillment for seed.
func (c *Client) Verify(ctx context.Context, seed string) (*Verification, error) {
	var out Verification
	if err := c.do(ctx, "GET", "/api/v1/randomness/"+url.PathEscape(seed)+"/verify", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Address derives the randomness account address for seed.
func (c *Client) Address(ctx context.Context, seed string) (*AddressInfo, error) {
	var out AddressInfo
	if err := c.do(ctx, "GET", "/api/v1/address/"+url.PathEscape(seed), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Config retrieves the program configuration.
func (c *Client) Config(ctx context.Context) (*NetworkConfig, error) {
	var out NetworkConfig
	if err := c.do(ctx, "GET", "/api/v1/config", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Workflow retrieves the status of a randomness workflow.
func (c *Client) Workflow(ctx context.Context, workflowID string) (*WorkflowStatus, error) {
	var out WorkflowStatus
	if err := c.do(ctx, "GET", "/api/v1/workflows/"+url.PathEscape(workflowID), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AwaitOptions configures Await.
type AwaitOptions struct {
	// PollInterval is used when the server has no event stream.
	PollInterval time.Duration
}

// Await blocks until the randomness for seed is fulfilled or ctx is done.
// It listens on the server's event stream for the account and falls back to
// polling when streaming is unavailable or the server ends the stream. The
// state is re-read once the stream is connected so a fulfillment that raced
// the subscription is seen.
func (c *Client) Await(ctx context.Context, seed string, opts AwaitOptions) (*Randomness, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}

	rnd, err := c.Get(ctx, seed)
	switch {
	case err == nil && rnd.Fulfilled():
		return rnd, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	var address string
	if rnd != nil {
		address = rnd.Address
	} else {
		info, err := c.Address(ctx, seed)
		if err != nil {
			return nil, err
		}
		address = info.Address
	}

	connected := func() (*Randomness, bool, error) {
		rnd, err := c.Get(ctx, seed)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return rnd, rnd.Fulfilled(), nil
	}

	var found *Randomness
	err = c.Stream(ctx, StreamOptions{Address: address, Type: "fulfilled", OnConnected: func() error {
		rnd, ok, err := connected()
		if err != nil {
			return err
		}
		if ok {
			found = rnd
			return errStop
		}
		return nil
	}}, func(event *Event) error {
		if event.Address != address {
			return nil
		}
		rnd, ok, err := connected()
		if err != nil {
			return err
		}
		if ok {
			found = rnd
			return errStop
		}
		return nil
	})
	if found != nil {
		return found, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	switch {
	case errors.Is(err, errStreamUnavailable):
		c.logger.Debug("event stream unavailable, polling", "seed", seed, "error", err)
		return c.poll(ctx, seed, opts.PollInterval)
	case err == nil, errors.Is(err, errStreamInterrupted):
		// The server ended the stream while we were still waiting.
		c.logger.Debug("event stream ended, polling", "seed", seed, "error", err)
		rnd, ok, err := connected()
		if err != nil {
			return nil, err
		}
		if ok {
			return rnd, nil
		}
		return c.poll(ctx, seed, opts.PollInterval)
	default:
		return nil, err
	}
}

func (c *Client) poll(ctx context.Context, seed string, interval time.Duration) (*Randomness, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		rnd, err := c.Get(ctx, seed)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if rnd.Fulfilled() {
			return rnd, nil
		}
	}
}

var (
	errStop              = errors.New("stop")
	errStreamUnavailable = errors.New("event stream unavailable")
	errStreamInterrupted = errors.New("event stream interrupted")
)

// StreamOptions selects the events Stream delivers.
type StreamOptions struct {
	Address string // empty streams every account
	Type    string // requested, fulfilled, verified; empty streams all

	// OnConnected runs once the server confirms the subscription.
	OnConnected func() error
}

// Stream delivers randomness events to fn until ctx is done, the server
// closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, opts StreamOptions, fn func(*Event) error) error {
	path := "/api/v1/stream/randomness"
	if opts.Address != "" {
		path += "/" + url.PathEscape(opts.Address)
	}
	if opts.Type != "" {
		path += "?type=" + url.QueryEscape(opts.Type)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any client-wide timeout.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errStreamUnavailable
	case resp.StatusCode != http.StatusOK:
		return c.parseErrorResponse(resp)
	}

	err = readSSE(resp.Body, func(event, data string) error {
		switch event {
		case "connected":
			if opts.OnConnected != nil {
				return opts.OnConnected()
			}
			return nil
		case "error":
			return fmt.Errorf("server error: %s", data)
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Warn("failed to decode event", "event", event, "error", err)
			return nil
		}
		return fn(&ev)
	})
	if errors.Is(err, errStop) {
		return nil
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readSSE calls fn for every complete event in r.
func readSSE(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if data != "" {
				if event == "" {
					event = "message"
				}
				if err := fn(event, data); err != nil {
					return err
				}
			}
			event, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", errStreamInterrupted, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, want int, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
