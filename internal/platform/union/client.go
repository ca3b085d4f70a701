// Package union talks to the shared verification authority that keeps the
// cross-bot ban list and the delegated verification results.
package union

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "relay-bot-backend/internal/common/errors"
	"relay-bot-backend/internal/common/metrics"
)

const (
	checkBanPath    = "/check_ban"
	checkVerifyPath = "/check_verify_temp"
)

type DebugInfo struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
}

type VerifyStatus struct {
	Verified  bool       `json:"verified"`
	DebugInfo *DebugInfo `json:"debug_info,omitempty"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// CheckBan asks whether the user is on the shared ban list.
func (c *Client) CheckBan(ctx context.Context, userID int64) (bool, error) {
	var resp struct {
		Banned bool `json:"banned"`
	}
	if err := c.post(ctx, checkBanPath, userID, &resp); err != nil {
		return false, err
	}
	return resp.Banned, nil
}

// CheckVerifyTemp returns the short-lived verification result written by the
// companion web app.
func (c *Client) CheckVerifyTemp(ctx context.Context, userID int64) (*VerifyStatus, error) {
	var resp VerifyStatus
	if err := c.post(ctx, checkVerifyPath, userID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, userID int64, dest interface{}) error {
	body, err := json.Marshal(userRequest{UserID: strconv.FormatInt(userID, 10)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewExternalAPIError(path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteErrorsTotal.WithLabelValues("union").Inc()
		return apperrors.NewExternalAPIError(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RemoteErrorsTotal.WithLabelValues("union").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return apperrors.NewExternalAPIError(path, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))).
			WithDetail("status", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		metrics.RemoteErrorsTotal.WithLabelValues("union").Inc()
		return apperrors.NewExternalAPIError(path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
