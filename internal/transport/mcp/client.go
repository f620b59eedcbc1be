package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CoreyShupe/BentoBox/internal/protocol"
)

// ResultError is a FAILED island result together with the HTTP status the
// island API answered with.
type ResultError struct {
	Status int
	Result protocol.IslandResultMsg
}

func (e *ResultError) Error() string {
	msg := e.Result.Code
	if e.Result.MessageKey != "" {
		msg += " (" + e.Result.MessageKey + ")"
	}
	if e.Result.Message != "" {
		msg += ": " + e.Result.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("island request failed with status %d", e.Status)
	}
	return msg
}

// HTTPIslands implements Islands against a running server's HTTP API.
type HTTPIslands struct {
	base string
	hc   *http.Client
}

func NewHTTPIslands(baseURL string, timeout time.Duration) (*HTTPIslands, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing island api url")
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("bad island api url: %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPIslands{base: baseURL, hc: &http.Client{Timeout: timeout}}, nil
}

func (c *HTTPIslands) Worlds(ctx context.Context) ([]protocol.WorldRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/worlds", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list worlds: status %d", resp.StatusCode)
	}
	var out struct {
		Worlds []protocol.WorldRef `json:"worlds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Worlds, nil
}

func (c *HTTPIslands) Island(ctx context.Context, requester, world string) (protocol.IslandResultMsg, error) {
	q := url.Values{}
	q.Set("requester", requester)
	if world != "" {
		q.Set("world", world)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/islands?"+q.Encode(), nil)
	if err != nil {
		return protocol.IslandResultMsg{}, err
	}
	return c.do(req)
}

func (c *HTTPIslands) Allocate(ctx context.Context, cmd protocol.IslandCommand) (protocol.IslandResultMsg, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return protocol.IslandResultMsg{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/islands", bytes.NewReader(body))
	if err != nil {
		return protocol.IslandResultMsg{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// Reserve goes through the admin API, so the server must be reachable on
// loopback.
func (c *HTTPIslands) Reserve(ctx context.Context, cmd protocol.ReserveCommand) (protocol.IslandResultMsg, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return protocol.IslandResultMsg{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/admin/v1/reserve", bytes.NewReader(body))
	if err != nil {
		return protocol.IslandResultMsg{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *HTTPIslands) do(req *http.Request) (protocol.IslandResultMsg, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return protocol.IslandResultMsg{}, err
	}
	defer resp.Body.Close()

	var res protocol.IslandResultMsg
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		if resp.StatusCode >= 400 {
			return protocol.IslandResultMsg{}, &ResultError{Status: resp.StatusCode}
		}
		return protocol.IslandResultMsg{}, fmt.Errorf("decode island result: %w", err)
	}
	if resp.StatusCode >= 400 {
		return res, &ResultError{Status: resp.StatusCode, Result: res}
	}
	return res, nil
}
