package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	valetErrors "github.com/valeworks/valet/internal/errors"
	"github.com/valeworks/valet/internal/skill"
)

// Client is the orchestrator's handle on a remote skill host. All calls are
// blocking; nothing is retried internally, and cancelling a call does not
// cancel the in-flight skill-side work.
//
// Failure kinds are distinct: transport problems (refused connection,
// timeout, malformed body) wrap errors.ErrTransport, a rejected secret
// wraps errors.ErrUnauthorized, and everything else is carried inside the
// skill.Response success/error fields.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Close releases any held connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Health checks whether the skill host is serving. No secret required.
func (c *Client) Health(ctx context.Context) error {
	var resp HealthResponse
	return c.call(ctx, http.MethodGet, "/health", nil, &resp)
}

// HandleRequest sends one request to the skill owning its intent. Unknown
// intents come back as a normal failure response, never as an error.
func (c *Client) HandleRequest(ctx context.Context, req *skill.Request) (*skill.Response, error) {
	if req == nil {
		return nil, valetErrors.InvalidInput("request cannot be nil")
	}
	if req.ID == "" {
		req.ID = skill.NewRequestID()
	}

	var resp skill.Response
	if err := c.call(ctx, http.MethodPost, "/skills/handle", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerHeartbeat ticks every ready skill on the host for the given users
// and returns the aggregated actions, possibly empty, never nil.
func (c *Client) TriggerHeartbeat(ctx context.Context, userIDs []string) ([]skill.HeartbeatAction, error) {
	var resp HeartbeatResponse
	if err := c.call(ctx, http.MethodPost, "/skills/heartbeat", HeartbeatRequest{UserIDs: userIDs}, &resp); err != nil {
		return nil, err
	}
	if resp.Actions == nil {
		resp.Actions = []skill.HeartbeatAction{}
	}
	return resp.Actions, nil
}

// Status returns the remote registry's status summary.
func (c *Client) Status(ctx context.Context) (*skill.StatusSummary, error) {
	var resp skill.StatusSummary
	if err := c.call(ctx, http.MethodGet, "/skills/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Intents returns the flattened intent set declared by ready skills.
func (c *Client) Intents(ctx context.Context) ([]string, error) {
	var resp IntentsResponse
	if err := c.call(ctx, http.MethodGet, "/skills/intents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Intents, nil
}

// ListSkills returns metadata for every registered skill.
func (c *Client) ListSkills(ctx context.Context) ([]skill.Metadata, error) {
	var resp SkillListResponse
	if err := c.call(ctx, http.MethodGet, "/skills", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Skills, nil
}

// GetSkill returns metadata for one skill; a missing name wraps
// errors.ErrNotFound.
func (c *Client) GetSkill(ctx context.Context, name string) (*skill.Metadata, error) {
	var resp skill.Metadata
	if err := c.call(ctx, http.MethodGet, "/skills/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PromptFragments returns the system prompt fragments for a user.
func (c *Client) PromptFragments(ctx context.Context, userID string) ([]string, error) {
	var resp FragmentsResponse
	path := "/skills/prompts?user_id=" + url.QueryEscape(userID)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Fragments, nil
}

func (c *Client) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return valetErrors.Internal(fmt.Sprintf("encode request body: %v", err))
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return valetErrors.Internal(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return valetErrors.Transport(err, fmt.Sprintf("call %s %s", method, path))
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized:
		return valetErrors.Unauthorized(fmt.Sprintf("skill host rejected secret for %s", path))
	case httpResp.StatusCode == http.StatusNotFound:
		return valetErrors.NotFound(decodeErrorMessage(httpResp, fmt.Sprintf("resource %s", path)))
	case httpResp.StatusCode >= 300:
		return valetErrors.Transport(nil, fmt.Sprintf("unexpected status %d from %s", httpResp.StatusCode, path))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return valetErrors.Transport(err, fmt.Sprintf("decode response from %s", path))
	}
	return nil
}

func decodeErrorMessage(resp *http.Response, fallback string) string {
	var payload ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return fallback
}
