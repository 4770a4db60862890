package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/logging"
)

func newTestClient(url string) (*Client, *logging.Recorder) {
	rec := logging.NewRecorder()
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		panic(err)
	}
	cfg := config.FeishuConfig{
		AppID:     "cli_test",
		AppSecret: "shh",
		BaseID:    "bascnTest",
		BaseURL:   url,
		PageSize:  200,
		Timeout:   5 * time.Second,
		Timezone:  "Asia/Shanghai",
		Location:  shanghai,
	}
	return NewClient(cfg, rec), rec
}

func TestClient_TenantAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, tokenPath, r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cli_test", body["app_id"])
		assert.Equal(t, "shh", body["app_secret"])

		json.NewEncoder(w).Encode(map[string]any{
			"code":                0,
			"msg":                 "ok",
			"tenant_access_token": "t-abc",
			"expire":              7200,
		})
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	token, err := client.TenantAccessToken(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "t-abc", token)
}

func TestClient_TenantAccessToken_NonZeroCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 10003, "msg": "invalid param"})
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	token, err := client.TenantAccessToken(context.Background())

	assert.Empty(t, token)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 10003, apiErr.Code)
	assert.Equal(t, "invalid param", apiErr.Message)
}

func TestClient_TenantAccessToken_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "ok"})
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	_, err := client.TenantAccessToken(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tenant_access_token")
}

func TestClient_TenantAccessToken_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"code": 99991663, "msg": "app secret invalid"})
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	_, err := client.TenantAccessToken(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 99991663, apiErr.Code)
	assert.Equal(t, "app secret invalid", apiErr.Message)
}

func TestClient_TenantAccessToken_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	_, err := client.TenantAccessToken(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal response")
}

func TestClient_TenantAccessToken_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, _ := newTestClient(url)
	_, err := client.TenantAccessToken(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "request failed", apiErr.Message)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestClient_ListTables(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/open-apis/bitable/v1/apps/bascnTest/tables", r.URL.Path)
		assert.Equal(t, "Bearer t-abc", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"msg":  "success",
			"data": map[string]any{
				"has_more": false,
				"items": []map[string]any{
					{"table_id": "tblB", "name": "Posts", "revision": 3},
					{"table_id": "tblA", "name": "Drafts", "revision": 1},
				},
			},
		})
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	tables, err := client.ListTables(context.Background(), "t-abc")

	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "tblB", tables[0].ID)
	assert.Equal(t, "Posts", tables[0].Name)
	assert.Equal(t, 3, tables[0].Revision)
	assert.Equal(t, "tblA", tables[1].ID)
}

func TestClient_ListTables_NonZeroCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 91402, "msg": "NOTEXIST"})
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	tables, err := client.ListTables(context.Background(), "t-abc")

	assert.Nil(t, tables)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "tables", apiErr.Endpoint)
	assert.Equal(t, 91402, apiErr.Code)
}

func TestClient_ListRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/open-apis/bitable/v1/apps/bascnTest/tables/tblB/records", r.URL.Path)
		assert.Equal(t, "200", r.URL.Query().Get("page_size"))
		assert.Empty(t, r.URL.Query().Get("page_token"))
		assert.Equal(t, "Bearer t-abc", r.Header.Get("Authorization"))

		w.Write([]byte(`{
			"code": 0,
			"msg": "success",
			"data": {
				"has_more": true,
				"total": 450,
				"items": [
					{"record_id": "rec2", "fields": {"title": "Second", "slug": "second", "date": "2024-02-01", "content": "Two"}},
					{"record_id": "rec1", "fields": {"title": [{"type": "text", "text": "Fir"}, {"type": "text", "text": "st"}], "date": 1704384000000, "category": null}}
				]
			}
		}`))
	}))
	defer server.Close()

	client, rec := newTestClient(server.URL)
	records, err := client.ListRecords(context.Background(), "t-abc", "tblB")

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec2", records[0].ID)
	assert.Equal(t, "Second", records[0].Fields["title"])
	assert.Equal(t, "rec1", records[1].ID)
	assert.Equal(t, "First", records[1].Fields["title"])
	assert.Equal(t, "2024-01-05", records[1].Fields["date"])
	_, hasCategory := records[1].Fields["category"]
	assert.False(t, hasCategory)

	assert.Contains(t, rec.Messages("info"), "more records available than one page; only the first page is synced")
}

func TestClient_ListRecords_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL)
	records, err := client.ListRecords(context.Background(), "t-abc", "tblB")

	assert.Nil(t, records)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
