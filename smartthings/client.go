package smartthings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eddielth/smartthings-influx/config"
	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/transformer"
	"github.com/go-resty/resty/v2"
)

// maxPages bounds device list pagination
const maxPages = 100

// Device is one entry of the device list
type Device struct {
	DeviceID string `json:"deviceId"`
	Label    string `json:"label"`
	Name     string `json:"name"`
}

// Info returns the identity used to tag the device's points
func (d Device) Info() transformer.DeviceInfo {
	return transformer.DeviceInfo{DeviceID: d.DeviceID, DeviceName: d.Label}
}

type deviceList struct {
	Items []Device `json:"items"`
	Links struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
}

// APIError is a non-2xx response from the SmartThings API
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smartthings %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client talks to the SmartThings REST API with a personal access token
type Client struct {
	http *resty.Client
}

// NewClient creates a client for cfg.BaseURL authenticating with cfg.APIKey
func NewClient(cfg config.SmartThingsConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, config.ErrMissingAPIKey
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("smartthings base_url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &Client{http: rc}, nil
}

// Devices returns every device visible to the token, following _links.next
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	next := "/devices"
	seen := make(map[string]bool)

	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("device list exceeded %d pages", maxPages)
		}
		if seen[next] {
			return nil, errors.New("device list pagination loops")
		}
		seen[next] = true

		var list deviceList
		if err := c.get(ctx, next, &list); err != nil {
			return nil, err
		}
		devices = append(devices, list.Items...)

		next = ""
		if list.Links.Next != nil {
			next = list.Links.Next.Href
		}
	}

	logger.Debug("fetched %d devices", len(devices))
	return devices, nil
}

// Status returns the raw status document of one device
func (c *Client) Status(ctx context.Context, deviceID string) (transformer.StatusPayload, error) {
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	var status transformer.StatusPayload
	if err := c.get(ctx, "/devices/"+url.PathEscape(deviceID)+"/status", &status); err != nil {
		return nil, err
	}
	if status == nil {
		status = transformer.StatusPayload{}
	}
	return status, nil
}

func (c *Client) get(ctx context.Context, path string, dest interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(dest).
		Get(path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if resp.IsError() {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Path:       path,
			Body:       strings.TrimSpace(resp.String()),
		}
	}
	return nil
}
