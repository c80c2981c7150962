// Package libreview implements the LibreLinkUp follower API used to read
// FreeStyle Libre sensor data.
package libreview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitalsync/vitalsync/internal/cgm/domain"
)

const (
	defaultBaseURL = "https://api.libreview.io"

	// The LLU API rejects requests without these client headers.
	productHeader = "llu.android"
	versionHeader = "4.7.0"

	requestTimeout = 30 * time.Second
)

// measurementLayout is LibreLinkUp's US-style timestamp format.
const measurementLayout = "1/2/2006 3:04:05 PM"

type Client struct {
	http    *http.Client
	baseURL string
}

func New() *Client {
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: defaultBaseURL,
	}
}

// NewWithTransport is used by tests to point the client at a stub server.
func NewWithTransport(httpClient *http.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: baseURL}
}

func (c *Client) Vendor() string { return domain.VendorLibreView }

func (c *Client) ValidateCredentials(ctx context.Context, account domain.Account) (string, error) {
	_, accountID, err := c.login(ctx, account)
	if err != nil {
		return "", domain.ClassifyVendorError(err)
	}
	return accountID, nil
}

func (c *Client) FetchCurrentReading(ctx context.Context, account domain.Account) (*domain.Reading, error) {
	token, _, err := c.login(ctx, account)
	if err != nil {
		return nil, domain.ClassifyVendorError(err)
	}

	reading, err := c.currentMeasurement(ctx, account.Region, token)
	if err != nil {
		return nil, domain.ClassifyVendorError(err)
	}
	return reading, nil
}

type loginResponse struct {
	Status int `json:"status"`
	Data   struct {
		AuthTicket struct {
			Token string `json:"token"`
		} `json:"authTicket"`
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Redirect bool   `json:"redirect"`
		Region   string `json:"region"`
	} `json:"data"`
}

func (c *Client) login(ctx context.Context, account domain.Account) (token, accountID string, err error) {
	body := map[string]string{
		"email":    account.Username,
		"password": account.Password,
	}

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, c.regionURL(account.Region)+"/llu/auth/login", "", body, &resp); err != nil {
		return "", "", err
	}
	// Status 2 means bad credentials; a redirect response means the
	// account lives in a different regional cluster.
	if resp.Data.Redirect {
		return "", "", domain.ErrRegionMismatch
	}
	if resp.Status == 2 {
		return "", "", domain.ErrInvalidCredentials
	}
	if resp.Data.AuthTicket.Token == "" {
		return "", "", domain.ErrInvalidCredentials
	}
	return resp.Data.AuthTicket.Token, resp.Data.User.ID, nil
}

type connectionsResponse struct {
	Data []struct {
		GlucoseMeasurement struct {
			Timestamp  string  `json:"Timestamp"`
			Value      float64 `json:"Value"`
			TrendArrow int     `json:"TrendArrow"`
		} `json:"glucoseMeasurement"`
	} `json:"data"`
}

func (c *Client) currentMeasurement(ctx context.Context, region, token string) (*domain.Reading, error) {
	var resp connectionsResponse
	if err := c.do(ctx, http.MethodGet, c.regionURL(region)+"/llu/connections", token, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, domain.ErrNoReading
	}

	measurement := resp.Data[0].GlucoseMeasurement
	if measurement.Timestamp == "" {
		return nil, domain.ErrNoReading
	}
	timestamp, err := time.Parse(measurementLayout, measurement.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("libreview: unparsable timestamp %q: %w", measurement.Timestamp, err)
	}
	return &domain.Reading{
		Value:     measurement.Value,
		Timestamp: timestamp.UTC(),
		Trend:     trendArrowName(measurement.TrendArrow),
	}, nil
}

func (c *Client) regionURL(region string) string {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" || c.baseURL != defaultBaseURL {
		return c.baseURL
	}
	return fmt.Sprintf("https://api-%s.libreview.io", region)
}

func (c *Client) do(ctx context.Context, method, url, token string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("product", productHeader)
	req.Header.Set("version", versionHeader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("libreview: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func trendArrowName(arrow int) string {
	switch arrow {
	case 1:
		return "FallingQuickly"
	case 2:
		return "Falling"
	case 3:
		return "Stable"
	case 4:
		return "Rising"
	case 5:
		return "RisingQuickly"
	default:
		return ""
	}
}
