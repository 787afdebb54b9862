// Package api is the HTTP transport to the remote asset store. It
// exposes typed requests and responses per endpoint; the engine and
// sync client consume it through narrow interfaces and never see the
// wire format.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided. Uploads use a client without a
	// global timeout since large videos can legitimately take longer;
	// cancellation comes from the request context.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps metadata response reads. Sync pages are
	// the largest payloads and stay well under this.
	maxAPIResponseBytes = 32 * 1024 * 1024
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client talks to the remote asset store's REST API.
type Client struct {
	httpClient   *http.Client
	uploadClient *http.Client
	baseURL      string
	apiKey       string
	deviceID     string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the API key never leaks to a
// third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client for the given server. If httpClient
// is nil, a client with a 30-second timeout and same-host redirect
// policy is created.
func NewClient(serverURL, apiKey, deviceID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient:   httpClient,
		uploadClient: &http.Client{CheckRedirect: sameHostRedirectPolicy},
		baseURL:      strings.TrimRight(serverURL, "/"),
		apiKey:       apiKey,
		deviceID:     deviceID,
	}
}

// apiErrorMessage pulls a human-readable message out of an error body.
// Servers vary between {"message": ...}, {"error": ...}, and nested
// {"error": {"message": ...}} shapes.
func apiErrorMessage(body []byte) string {
	for _, path := range []string{"message", "error.message", "error"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}

	return ""
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, result any) error {
	var reqBody io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: fmt.Errorf("sending request to %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := apiErrorMessage(respBody)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		err := fmt.Errorf("API %s (%d): %s", endpoint, resp.StatusCode, msg)
		if isTransientStatus(resp.StatusCode) {
			return &TransientError{Err: err}
		}

		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// FetchCurrentUser returns the account the API key belongs to.
func (c *Client) FetchCurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &user); err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}

	return &user, nil
}

// FetchFullSyncPage returns one page of the complete asset listing. A
// page shorter than the requested limit signals end of listing.
func (c *Client) FetchFullSyncPage(ctx context.Context, req FullSyncPageRequest) ([]SyncAsset, error) {
	var assets []SyncAsset
	if err := c.do(ctx, http.MethodPost, "/api/sync/full-sync", req, &assets); err != nil {
		return nil, fmt.Errorf("fetching full sync page: %w", err)
	}

	return assets, nil
}

// FetchDeltaSync returns remote changes since the given time for the
// given user set.
func (c *Client) FetchDeltaSync(ctx context.Context, req DeltaSyncRequest) (*DeltaSyncResponse, error) {
	var resp DeltaSyncResponse
	if err := c.do(ctx, http.MethodPost, "/api/sync/delta-sync", req, &resp); err != nil {
		return nil, fmt.Errorf("fetching delta sync: %w", err)
	}

	return &resp, nil
}

// FetchPartnerUserIDs returns the ids of users sharing their library
// with this account.
func (c *Client) FetchPartnerUserIDs(ctx context.Context) ([]string, error) {
	var partners []Partner
	if err := c.do(ctx, http.MethodGet, "/api/partners?direction=shared-with", nil, &partners); err != nil {
		return nil, fmt.Errorf("fetching partners: %w", err)
	}

	ids := make([]string, 0, len(partners))
	for _, p := range partners {
		ids = append(ids, p.ID)
	}

	return ids, nil
}

// UpdateFavorites bulk-updates the favorite flag on remote assets.
func (c *Client) UpdateFavorites(ctx context.Context, req UpdateFavoritesRequest) error {
	if len(req.IDs) == 0 {
		return nil
	}

	if err := c.do(ctx, http.MethodPut, "/api/assets", req, nil); err != nil {
		return fmt.Errorf("updating favorites: %w", err)
	}

	return nil
}

// UploadResource streams one resource to the server as a multipart
// request, without buffering the file in memory. The response reports
// the remote id and whether the server already had identical content.
func (c *Client) UploadResource(ctx context.Context, meta UploadRequest, content io.Reader) (*UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeUploadBody(mw, c.deviceID, meta, content)
		mw.Close()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/assets", pr)
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("uploading %s: %w", meta.Filename, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading upload response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var result UploadResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("decoding upload response: %w", err)
		}

		// Some servers report duplication via a status field instead of
		// a boolean.
		if gjson.GetBytes(respBody, "status").Str == "duplicate" {
			result.Duplicate = true
		}

		return &result, nil
	default:
		msg := apiErrorMessage(respBody)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		err := fmt.Errorf("upload of %s failed (%d): %s", meta.Filename, resp.StatusCode, msg)
		if isTransientStatus(resp.StatusCode) {
			return nil, &TransientError{Err: err}
		}

		return nil, err
	}
}

func writeUploadBody(mw *multipart.Writer, deviceID string, meta UploadRequest, content io.Reader) error {
	fields := map[string]string{
		"deviceAssetId":  meta.DeviceAssetID,
		"deviceId":       deviceID,
		"fileCreatedAt":  meta.CreatedAt,
		"fileModifiedAt": meta.ModifiedAt,
		"isFavorite":     fmt.Sprintf("%t", meta.IsFavorite),
	}

	for name, value := range fields {
		if value == "" {
			continue
		}

		if err := mw.WriteField(name, value); err != nil {
			return fmt.Errorf("writing field %s: %w", name, err)
		}
	}

	part, err := mw.CreateFormFile("assetData", meta.Filename)
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}

	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("streaming %s: %w", meta.Filename, err)
	}

	return nil
}
