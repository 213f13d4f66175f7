package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

const (
	DefaultBaseURL  = "https://api.moltyroyale.com/api"
	DefaultHostName = "Molty's Arena"

	maxBodyBytes  = 4 << 20
	maxErrorBytes = 8 * 1024
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HostName   string
	HTTPClient *http.Client
}

// Client is a thin typed wrapper around the game's HTTP API. It holds no
// retry logic; every method returns the decoded payload or a *Failure.
//
// A Client is bound to one set of Credentials. With returns a copy bound to
// different credentials and shares the underlying http.Client.
type Client struct {
	baseURL    string
	hostName   string
	httpClient *http.Client
	creds      Credentials
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url: %s", base)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		}
	}
	host := cfg.HostName
	if host == "" {
		host = DefaultHostName
	}
	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		hostName:   host,
		httpClient: hc,
	}, nil
}

// With returns a copy of c bound to creds.
func (c *Client) With(creds Credentials) *Client {
	cp := *c
	cp.creds = creds
	return &cp
}

func (c *Client) Credentials() Credentials { return c.creds }

func (c *Client) ListGames(ctx context.Context, status GameStatus) ([]Game, error) {
	var out []Game
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if err := c.do(ctx, "listGames", http.MethodGet, "/games", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateGame(ctx context.Context) (Game, error) {
	var out Game
	body := map[string]string{"hostName": c.hostName}
	err := c.do(ctx, "createGame", http.MethodPost, "/games", nil, body, &out)
	return out, err
}

func (c *Client) RegisterAgent(ctx context.Context, gameID, name string) (Registration, error) {
	var out Registration
	p := "/games/" + url.PathEscape(gameID) + "/agents/register"
	err := c.do(ctx, "registerAgent", http.MethodPost, p, nil, map[string]string{"name": name}, &out)
	return out, err
}

func (c *Client) AgentState(ctx context.Context, gameID, agentID string) (AgentState, error) {
	var out AgentState
	p := "/games/" + url.PathEscape(gameID) + "/agents/" + url.PathEscape(agentID) + "/state"
	err := c.do(ctx, "getAgentState", http.MethodGet, p, nil, nil, &out)
	return out, err
}

func (c *Client) SpectatorState(ctx context.Context, gameID string) (SpectatorState, error) {
	var out SpectatorState
	p := "/games/" + url.PathEscape(gameID) + "/state"
	err := c.do(ctx, "getSpectatorState", http.MethodGet, p, nil, nil, &out)
	return out, err
}

func (c *Client) Items(ctx context.Context) (ItemCatalogue, error) {
	var out ItemCatalogue
	err := c.do(ctx, "getItems", http.MethodGet, "/items", nil, nil, &out)
	return out, err
}

func (c *Client) Act(ctx context.Context, gameID, agentID string, action Action, thought *Thought) (ActResult, error) {
	var raw json.RawMessage
	p := "/games/" + url.PathEscape(gameID) + "/agents/" + url.PathEscape(agentID) + "/action"
	if err := c.do(ctx, "executeAction", http.MethodPost, p, nil, actRequest{Action: action, Thought: thought}, &raw); err != nil {
		return ActResult{}, err
	}
	res := ActResult{Raw: raw}
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &msg) == nil {
		res.Message = msg.Message
	}
	return res, nil
}

func (c *Client) CreateAccount(ctx context.Context, name string) (Account, error) {
	var out Account
	err := c.do(ctx, "createAccount", http.MethodPost, "/accounts", nil, map[string]string{"name": name}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var out Profile
	err := c.do(ctx, "getMe", http.MethodGet, "/accounts/me", nil, nil, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Transaction
	q := url.Values{"limit": []string{strconv.Itoa(limit)}}
	if err := c.do(ctx, "getAccountHistory", http.MethodGet, "/accounts/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Failure{Op: op, Message: "encode request: " + err.Error(), Cause: err}
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, rd)
	if err != nil {
		return &Failure{Op: op, Message: err.Error(), Cause: err}
	}
	c.decorate(req, body != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Failure{Op: op, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Failure{Op: op, Status: resp.StatusCode, Message: "read body: " + err.Error(), Cause: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Failure{
			Op:      op,
			Status:  resp.StatusCode,
			Message: snippet(raw, resp.Status),
			Cause:   err,
		}
	}
	if !env.Success || resp.StatusCode >= 400 {
		f := &Failure{Op: op, Status: resp.StatusCode, Message: resp.Status}
		if env.Error != nil {
			f.Structured = true
			f.Code = env.Error.Code
			f.Message = env.Error.Message
		}
		return f
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Failure{Op: op, Status: resp.StatusCode, Message: "decode data: " + err.Error(), Cause: err}
	}
	return nil
}

func (c *Client) decorate(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.creds.APIKey != "" {
		req.Header.Set("X-API-Key", c.creds.APIKey)
	}
	if ip := c.creds.Address; ip != "" {
		for _, h := range []string{"X-Forwarded-For", "X-Real-IP", "X-Originating-IP", "X-Client-IP", "Client-IP"} {
			req.Header.Set(h, ip)
		}
	}
	if c.creds.UserAgent != "" {
		req.Header.Set("User-Agent", c.creds.UserAgent)
	}
}

func snippet(raw []byte, fallback string) string {
	if len(raw) > maxErrorBytes {
		raw = raw[:maxErrorBytes]
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return fallback
	}
	return s
}
