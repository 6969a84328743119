package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/p-arndt/sandkastendb/internal/api"
)

// client talks to a running daemon's HTTP API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// newClient resolves the daemon address from --host or the config file.
// SANDKASTENDB_API_KEY wins over the configured key.
func newClient(opts *rootOptions) (*client, error) {
	baseURL := opts.host
	apiKey := os.Getenv("SANDKASTENDB_API_KEY")
	if baseURL == "" || apiKey == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if baseURL == "" {
			baseURL = "http://" + net.JoinHostPort(cfg.Engine.Address, strconv.Itoa(cfg.Engine.Port))
		}
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
	}
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
