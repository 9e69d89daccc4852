// Package directory is the client for the HOLYX device directory, which maps
// a device id to the provider whose schedule and image the device shows.
package directory

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
)

// DefaultBaseURL is the production directory.
const DefaultBaseURL = "https://holyx-api.onrender.com"

// ErrProviderLocked is returned by SwitchProvider when the current provider
// does not allow devices to change provider.
var ErrProviderLocked = errors.New("directory: provider does not allow changes")

// Provider is the content source a device is attached to.
type Provider struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Logo                string   `json:"logo,omitempty"`
	Image               string   `json:"image,omitempty"`
	Schedule            []string `json:"schedule"`
	AllowProviderChange bool     `json:"allowDevicesToChangeProvider"`
}

// Device is a directory entry.
type Device struct {
	ID       string    `json:"id"`
	Code     string    `json:"code,omitempty"`
	Provider *Provider `json:"provider"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("directory: %s %s: HTTP %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to the directory over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. An empty baseURL selects DefaultBaseURL; a zero
// timeout leaves requests bounded only by their context.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) deviceURL(id string) string {
	return c.baseURL + "/devices/" + url.PathEscape(id)
}

// GetDevice fetches the directory entry for id.
func (c *Client) GetDevice(ctx context.Context, id string) (*Device, error) {
	if id == "" {
		return nil, errors.New("directory: empty device id")
	}

	var dev Device
	if err := c.do(ctx, http.MethodGet, c.deviceURL(id), nil, &dev); err != nil {
		return nil, err
	}
	if dev.Provider == nil {
		return nil, fmt.Errorf("directory: device %s has no provider", id)
	}
	return &dev, nil
}

// SwitchProvider attaches device id to providerID and returns the updated
// entry. It is refused when the current provider is locked.
func (c *Client) SwitchProvider(ctx context.Context, id, providerID string) (*Device, error) {
	if providerID == "" {
		return nil, errors.New("directory: empty provider id")
	}

	current, err := c.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Provider.AllowProviderChange {
		return nil, fmt.Errorf("%w: %s", ErrProviderLocked, current.Provider.Name)
	}

	body := map[string]string{"providerId": providerID}
	var dev Device
	if err := c.do(ctx, http.MethodPut, c.deviceURL(id), body, &dev); err != nil {
		return nil, err
	}
	if dev.Provider == nil {
		// Some deployments answer PUT with an empty body; re-read.
		return c.GetDevice(ctx, id)
	}
	return &dev, nil
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("directory: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("directory: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: u, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("directory: read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("directory: decode response: %w", err)
	}
	return nil
}
