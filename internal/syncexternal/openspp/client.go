package openspp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// httpClient implements Client against a real OpenSPP-compatible HTTP
// endpoint, using the standard library client the same way
// internal/syncinternal's HTTPClient does (and the teacher's own
// internal/cluster/proxy.go does for inter-node calls).
type httpClient struct {
	baseURL string
	http    *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *httpClient) Login(ctx context.Context, credentials map[string]string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", credentials, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *httpClient) CreateRecord(ctx context.Context, token string, rec Record) (string, error) {
	body := map[string]any{
		"kind":             rec.Kind,
		"parentExternalId": rec.ParentExternalID,
		"data":             rec.Data,
	}
	var resp struct {
		ExternalID string `json:"externalId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/records", token, body, &resp); err != nil {
		return "", err
	}
	return resp.ExternalID, nil
}

func (c *httpClient) FetchChanges(ctx context.Context, token string, since time.Time) ([]Record, error) {
	query := url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}
	var resp struct {
		Records []struct {
			ExternalID       string         `json:"externalId"`
			Kind             string         `json:"kind"`
			ParentExternalID string         `json:"parentExternalId"`
			Data             map[string]any `json:"data"`
			WriteDate        time.Time      `json:"writeDate"`
		} `json:"records"`
	}
	path := "/api/records/changes?" + query.Encode()
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	records := make([]Record, len(resp.Records))
	for i, r := range resp.Records {
		records[i] = Record{
			ExternalID: r.ExternalID, Kind: r.Kind, ParentExternalID: r.ParentExternalID,
			Data: r.Data, WriteDate: r.WriteDate,
		}
	}
	return records, nil
}

func (c *httpClient) do(ctx context.Context, method, path, token string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openspp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("openspp returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
