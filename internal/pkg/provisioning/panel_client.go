package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keyshop-app/keyshop/app/models"
)

const defaultRequestTimeout = 20 * time.Second

// PanelClient talks to a Remnawave-style panel over its REST API. The panel
// base URL and bearer token come from the host row.
type PanelClient struct {
	HTTPClient *http.Client
}

// NewPanelClient creates a panel client with a bounded HTTP timeout.
func NewPanelClient() *PanelClient {
	return &PanelClient{
		HTTPClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

type panelUserRequest struct {
	Username             string   `json:"username"`
	ExpireAt             string   `json:"expireAt"`
	TrafficLimitBytes    int64    `json:"trafficLimitBytes,omitempty"`
	TrafficLimitStrategy string   `json:"trafficLimitStrategy,omitempty"`
	HWIDDeviceLimit      int      `json:"hwidDeviceLimit,omitempty"`
	ActiveInternalSquads []string `json:"activeInternalSquads,omitempty"`
}

type panelUserResponse struct {
	Response struct {
		UUID            string `json:"uuid"`
		Username        string `json:"username"`
		ExpireAt        string `json:"expireAt"`
		SubscriptionURL string `json:"subscriptionUrl"`
	} `json:"response"`
}

func (c *PanelClient) CreateOrExtend(ctx context.Context, host *models.Host, params CreateParams) (*Result, error) {
	if host == nil || strings.TrimSpace(host.PanelURL) == "" {
		return nil, errors.New("host has no panel URL configured")
	}

	expiry := time.Now().UTC().AddDate(0, 0, params.DaysToAdd)
	if params.AbsoluteExpiry != nil {
		expiry = params.AbsoluteExpiry.UTC()
	}

	body := panelUserRequest{
		Username:          params.Identity,
		ExpireAt:          expiry.Format(time.RFC3339),
		TrafficLimitBytes: params.TrafficLimitBytes,
		HWIDDeviceLimit:   params.DeviceLimit,
	}
	if host.SquadUUID != "" {
		body.ActiveInternalSquads = []string{host.SquadUUID}
	}

	var parsed panelUserResponse
	status, err := c.do(ctx, host, http.MethodPost, "/api/users", body, &parsed)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		// Identity already exists remotely: extend instead of create.
		return c.extend(ctx, host, params.Identity, expiry)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("panel create user %s: unexpected status %d", params.Identity, status)
	}

	return resultFromResponse(&parsed)
}

func (c *PanelClient) extend(ctx context.Context, host *models.Host, identity string, expiry time.Time) (*Result, error) {
	var current panelUserResponse
	status, err := c.do(ctx, host, http.MethodGet, "/api/users/by-username/"+url.PathEscape(identity), nil, &current)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("panel lookup %s: unexpected status %d", identity, status)
	}

	// Extending never shortens: keep the later of remote and requested expiry.
	if remote, err := time.Parse(time.RFC3339, current.Response.ExpireAt); err == nil && remote.After(expiry) {
		expiry = remote
	}

	patch := map[string]interface{}{
		"uuid":     current.Response.UUID,
		"expireAt": expiry.Format(time.RFC3339),
	}
	var updated panelUserResponse
	status, err = c.do(ctx, host, http.MethodPatch, "/api/users", patch, &updated)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("panel extend %s: unexpected status %d", identity, status)
	}
	return resultFromResponse(&updated)
}

func (c *PanelClient) Exists(ctx context.Context, host *models.Host, identity string) (Presence, error) {
	var parsed panelUserResponse
	status, err := c.do(ctx, host, http.MethodGet, "/api/users/by-username/"+url.PathEscape(identity), nil, &parsed)
	if err != nil {
		return PresenceUnknown, err
	}
	switch {
	case status == http.StatusOK && parsed.Response.UUID != "":
		return PresencePresent, nil
	case status == http.StatusNotFound:
		return PresenceAbsent, nil
	default:
		return PresenceUnknown, fmt.Errorf("panel existence check %s: unexpected status %d", identity, status)
	}
}

func (c *PanelClient) Delete(ctx context.Context, host *models.Host, identity string) (bool, error) {
	var parsed panelUserResponse
	status, err := c.do(ctx, host, http.MethodGet, "/api/users/by-username/"+url.PathEscape(identity), nil, &parsed)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("panel lookup %s: unexpected status %d", identity, status)
	}

	status, err = c.do(ctx, host, http.MethodDelete, "/api/users/"+url.PathEscape(parsed.Response.UUID), nil, nil)
	if err != nil {
		return false, err
	}
	if status < 200 || status >= 300 {
		return false, fmt.Errorf("panel delete %s: unexpected status %d", identity, status)
	}
	return true, nil
}

// do issues one panel request and decodes the response body into out when
// the status carries one. The raw status is returned so callers can branch
// on 404/409 without string matching.
func (c *PanelClient) do(ctx context.Context, host *models.Host, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode panel request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	endpoint := strings.TrimRight(host.PanelURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if host.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+host.APIToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("panel request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode panel response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func resultFromResponse(parsed *panelUserResponse) (*Result, error) {
	expires, err := time.Parse(time.RFC3339, parsed.Response.ExpireAt)
	if err != nil {
		return nil, fmt.Errorf("panel returned unparsable expiry %q: %w", parsed.Response.ExpireAt, err)
	}
	return &Result{
		RemoteUUID:      parsed.Response.UUID,
		ExpiresAt:       expires,
		SubscriptionURL: parsed.Response.SubscriptionURL,
	}, nil
}
