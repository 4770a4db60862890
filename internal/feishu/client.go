// Package feishu talks to the Feishu open platform: tenant token exchange and
// the Bitable tables and records endpoints.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/oauth2"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/models"
)

const (
	tokenPath   = "/open-apis/auth/v3/tenant_access_token/internal"
	tablesPath  = "/open-apis/bitable/v1/apps/%s/tables"
	recordsPath = "/open-apis/bitable/v1/apps/%s/tables/%s/records"
)

// APIError is returned when an endpoint answers with a non-200 status or a
// non-zero result code.
type APIError struct {
	Endpoint   string
	StatusCode int
	Code       int
	Message    string
	Cause      error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("feishu %s: %s: %v", e.Endpoint, e.Message, e.Cause)
	}
	return fmt.Sprintf("feishu %s: status %d, code %d: %s", e.Endpoint, e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Client handles calls to the Feishu open API
type Client struct {
	config     config.FeishuConfig
	httpClient *http.Client
	location   *time.Location
	logger     glog.Logger
}

// NewClient creates a new Feishu API client
func NewClient(cfg config.FeishuConfig, logger glog.Logger) *Client {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		location: loc,
		logger:   logger,
	}
}

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type tokenResponse struct {
	response
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

type tablesResponse struct {
	response
	Data struct {
		HasMore bool           `json:"has_more"`
		Items   []models.Table `json:"items"`
	} `json:"data"`
}

type recordsResponse struct {
	response
	Data struct {
		HasMore bool `json:"has_more"`
		Total   int  `json:"total"`
		Items   []struct {
			RecordID string         `json:"record_id"`
			Fields   map[string]any `json:"fields"`
		} `json:"items"`
	} `json:"data"`
}

// TenantAccessToken exchanges the app credentials for a tenant access token.
func (c *Client) TenantAccessToken(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"app_id":     c.config.AppID,
		"app_secret": c.config.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var out tokenResponse
	if err := c.do(c.httpClient, req, "token", &out, &out.response); err != nil {
		return "", err
	}
	if out.TenantAccessToken == "" {
		return "", &APIError{Endpoint: "token", StatusCode: http.StatusOK, Message: "response carried no tenant_access_token"}
	}

	c.logger.Debug("tenant access token acquired", "expires_in", out.Expire)
	return out.TenantAccessToken, nil
}

// ListTables lists the sub-tables of the configured base in API order.
func (c *Client) ListTables(ctx context.Context, token string) ([]models.Table, error) {
	endpoint := c.config.BaseURL + fmt.Sprintf(tablesPath, url.PathEscape(c.config.BaseID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var out tablesResponse
	if err := c.do(c.authorized(ctx, token), req, "tables", &out, &out.response); err != nil {
		return nil, err
	}

	c.logger.Debug("tables listed", "base_id", c.config.BaseID, "count", len(out.Data.Items))
	return out.Data.Items, nil
}

// ListRecords returns the first page of records of a table. Further pages are
// not requested.
func (c *Client) ListRecords(ctx context.Context, token, tableID string) ([]models.Record, error) {
	endpoint := c.config.BaseURL + fmt.Sprintf(recordsPath, url.PathEscape(c.config.BaseID), url.PathEscape(tableID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	query := req.URL.Query()
	query.Set("page_size", strconv.Itoa(c.config.PageSize))
	req.URL.RawQuery = query.Encode()

	var out recordsResponse
	if err := c.do(c.authorized(ctx, token), req, "records", &out, &out.response); err != nil {
		return nil, err
	}

	if out.Data.HasMore {
		c.logger.Info("more records available than one page; only the first page is synced",
			"table_id", tableID, "page_size", c.config.PageSize, "total", out.Data.Total)
	}

	records := make([]models.Record, 0, len(out.Data.Items))
	for _, item := range out.Data.Items {
		records = append(records, models.Record{
			ID:     item.RecordID,
			Fields: flattenFields(item.Fields, c.location),
		})
	}
	return records, nil
}

// authorized returns an HTTP client that sends token as a bearer credential.
func (c *Client) authorized(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = c.httpClient.Timeout
	return client
}

// do executes req and decodes the JSON body into out. status must point at
// the envelope embedded in out.
func (c *Client) do(client *http.Client, req *http.Request, endpoint string, out any, status *response) error {
	resp, err := client.Do(req)
	if err != nil {
		return &APIError{Endpoint: endpoint, Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "failed to read response body", Cause: err}
	}

	decodeErr := json.Unmarshal(body, out)
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && status.Code != 0 {
			apiErr.Code = status.Code
			apiErr.Message = status.Msg
		}
		return apiErr
	}
	if decodeErr != nil {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "failed to unmarshal response", Cause: decodeErr}
	}
	if status.Code != 0 {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Code: status.Code, Message: status.Msg}
	}
	return nil
}
