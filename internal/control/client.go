package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
)

// Client queries a running agent's control socket. Used by a future
// cantal-agentd status subcommand and by tests.
type Client struct {
	httpClient *http.Client
	authToken  string
}

// NewClient connects to the control socket at socketPath, reading its
// auth cookie from cookiePath.
func NewClient(socketPath, cookiePath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, socketPath)
	}
	token, err := os.ReadFile(cookiePath)
	if err != nil {
		return nil, fmt.Errorf("control: read cookie: %w", err)
	}
	return &Client{
		authToken: strings.TrimSpace(string(token)),
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}, nil
}

func (c *Client) doJSON(path string, target any) error {
	req, err := http.NewRequest(http.MethodGet, "http://control"+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("control: %s", errResp.Error)
		}
		return fmt.Errorf("control: HTTP %d", resp.StatusCode)
	}

	if target == nil {
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("control: decode response: %w", err)
	}
	return json.Unmarshal(env.Data, target)
}

// Status fetches the agent's status summary.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.doJSON("/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Peers fetches the current peer table.
func (c *Client) Peers() ([]PeerInfo, error) {
	var resp []PeerInfo
	if err := c.doJSON("/v1/peers", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Remote fetches the connection manager's active/throttled sets.
func (c *Client) Remote() (*RemoteResponse, error) {
	var resp RemoteResponse
	if err := c.doJSON("/v1/remote", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
