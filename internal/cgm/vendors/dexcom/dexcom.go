// Package dexcom implements the Dexcom Share publisher API, the same
// endpoints the official follower apps use.
package dexcom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vitalsync/vitalsync/internal/cgm/domain"
)

const (
	// applicationID is the well-known Share publisher application id.
	applicationID = "d89443d2-327c-4a6f-89e5-496bbb0317db"

	baseURLUS  = "https://share2.dexcom.com/ShareWebServices/Services"
	baseURLOUS = "https://shareous1.dexcom.com/ShareWebServices/Services"

	// nilAccountID is what Share returns on a failed login instead of
	// an HTTP error.
	nilAccountID = "00000000-0000-0000-0000-000000000000"

	requestTimeout = 30 * time.Second
)

// wireDate matches Share's legacy "/Date(1693526400000)/" millisecond
// timestamps, with or without a zone suffix.
var wireDate = regexp.MustCompile(`Date\((\d+)`)

type Client struct {
	http     *http.Client
	baseURLs map[string]string
}

func New() *Client {
	return &Client{
		http: &http.Client{Timeout: requestTimeout},
		baseURLs: map[string]string{
			"us":  baseURLUS,
			"ous": baseURLOUS,
		},
	}
}

// NewWithTransport is used by tests to point the client at a stub server.
func NewWithTransport(httpClient *http.Client, baseURLs map[string]string) *Client {
	return &Client{http: httpClient, baseURLs: baseURLs}
}

func (c *Client) Vendor() string { return domain.VendorDexcom }

func (c *Client) ValidateCredentials(ctx context.Context, account domain.Account) (string, error) {
	base, err := c.baseURL(account.Region)
	if err != nil {
		return "", err
	}

	accountID, err := c.authenticate(ctx, base, account)
	if err != nil {
		return "", domain.ClassifyVendorError(err)
	}
	return accountID, nil
}

func (c *Client) FetchCurrentReading(ctx context.Context, account domain.Account) (*domain.Reading, error) {
	base, err := c.baseURL(account.Region)
	if err != nil {
		return nil, err
	}

	accountID, err := c.authenticate(ctx, base, account)
	if err != nil {
		return nil, domain.ClassifyVendorError(err)
	}

	sessionID, err := c.login(ctx, base, accountID, account.Password)
	if err != nil {
		return nil, domain.ClassifyVendorError(err)
	}

	reading, err := c.latestReading(ctx, base, sessionID)
	if err != nil {
		return nil, domain.ClassifyVendorError(err)
	}
	return reading, nil
}

func (c *Client) baseURL(region string) (string, error) {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		region = "us"
	}
	base, ok := c.baseURLs[region]
	if !ok {
		return "", domain.ErrRegionMismatch
	}
	return base, nil
}

func (c *Client) authenticate(ctx context.Context, base string, account domain.Account) (string, error) {
	var accountID string
	err := c.post(ctx, base+"/General/AuthenticatePublisherAccount", map[string]string{
		"accountName":   account.Username,
		"password":      account.Password,
		"applicationId": applicationID,
	}, &accountID)
	if err != nil {
		return "", err
	}
	if accountID == "" || accountID == nilAccountID {
		return "", domain.ErrInvalidCredentials
	}
	return accountID, nil
}

func (c *Client) login(ctx context.Context, base, accountID, password string) (string, error) {
	var sessionID string
	err := c.post(ctx, base+"/General/LoginPublisherAccountById", map[string]string{
		"accountId":     accountID,
		"password":      password,
		"applicationId": applicationID,
	}, &sessionID)
	if err != nil {
		return "", err
	}
	if sessionID == "" || sessionID == nilAccountID {
		return "", domain.ErrInvalidCredentials
	}
	return sessionID, nil
}

// trend tolerates both wire encodings Share has shipped: a string
// ("Flat") on current servers, a bare ordinal on older ones.
type trend string

func (t *trend) UnmarshalJSON(raw []byte) error {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		*t = trend(asString)
		return nil
	}
	var asNumber int
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return err
	}
	*t = trend(strconv.Itoa(asNumber))
	return nil
}

type glucoseValue struct {
	WT    string  `json:"WT"`
	Value float64 `json:"Value"`
	Trend trend   `json:"Trend"`
}

func (c *Client) latestReading(ctx context.Context, base, sessionID string) (*domain.Reading, error) {
	url := fmt.Sprintf(
		"%s/Publisher/ReadPublisherLatestGlucoseValues?sessionId=%s&minutes=1440&maxCount=1",
		base, sessionID,
	)

	var values []glucoseValue
	if err := c.post(ctx, url, nil, &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, domain.ErrNoReading
	}

	timestamp, err := parseWireDate(values[0].WT)
	if err != nil {
		return nil, err
	}
	return &domain.Reading{
		Value:     values[0].Value,
		Timestamp: timestamp,
		Trend:     string(values[0].Trend),
	}, nil
}

func (c *Client) post(ctx context.Context, url string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

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
		return fmt.Errorf("dexcom share: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func parseWireDate(value string) (time.Time, error) {
	match := wireDate.FindStringSubmatch(value)
	if match == nil {
		return time.Time{}, fmt.Errorf("dexcom share: unparsable timestamp %q", value)
	}
	millis, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis).UTC(), nil
}
