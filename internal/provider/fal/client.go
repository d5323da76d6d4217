// Package fal implements models.VideoProvider against the fal.ai queue and storage APIs.
package fal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kiranshivaraju/vista/internal/config"
	"github.com/kiranshivaraju/vista/pkg/models"
	"golang.org/x/time/rate"
)

// Client talks to the fal queue API. Every call is rate limited and bounded by a timeout.
type Client struct {
	queueURL      string
	storageURL    string
	timeout       time.Duration
	uploadTimeout time.Duration
	limiter       *rate.Limiter
	api           *resty.Client
	// storage sends the presigned upload PUT, which must not carry the API key.
	storage *resty.Client
}

func NewClient(cfg config.ProviderConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		queueURL:      strings.TrimRight(cfg.QueueURL, "/"),
		storageURL:    strings.TrimRight(cfg.StorageURL, "/"),
		timeout:       cfg.Timeout,
		uploadTimeout: cfg.UploadTimeout,
		limiter:       rate.NewLimiter(rate.Limit(rps), rps),
		api: resty.New().
			SetHeader("Authorization", "Key "+cfg.FalKey).
			SetHeader("Accept", "application/json"),
		storage: resty.New(),
	}
}

func (c *Client) Name() string { return "fal" }

type initiateUploadRequest struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

type initiateUploadResponse struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position"`
	Error         string `json:"error"`
	Logs          []struct {
		Message string `json:"message"`
	} `json:"logs"`
}

type resultResponse struct {
	Video *struct {
		URL string `json:"url"`
	} `json:"video"`
}

func (c *Client) Upload(ctx context.Context, data []byte, contentType, fileName string) (string, error) {
	ctx, cancel := c.withTimeout(ctx, c.uploadTimeout)
	defer cancel()

	var initiated initiateUploadResponse
	err := c.do(ctx, c.api.R().
		SetQueryParam("storage_type", "fal-cdn-v3").
		SetBody(initiateUploadRequest{ContentType: contentType, FileName: fileName}).
		SetResult(&initiated), http.MethodPost, c.storageURL+"/storage/upload/initiate")
	if err != nil {
		return "", fmt.Errorf("initiate upload: %w", err)
	}
	if initiated.UploadURL == "" || initiated.FileURL == "" {
		return "", fmt.Errorf("initiate upload: %w: missing upload_url or file_url", models.ErrProviderInvalidResponse)
	}

	err = c.do(ctx, c.storage.R().
		SetHeader("Content-Type", contentType).
		SetBody(data), http.MethodPut, initiated.UploadURL)
	if err != nil {
		return "", fmt.Errorf("put upload: %w", err)
	}
	return initiated.FileURL, nil
}

func (c *Client) Submit(ctx context.Context, endpoint string, input map[string]any) (string, error) {
	ctx, cancel := c.withTimeout(ctx, c.timeout)
	defer cancel()

	var out submitResponse
	err := c.do(ctx, c.api.R().SetBody(input).SetResult(&out), http.MethodPost, c.queueURL+"/"+strings.Trim(endpoint, "/"))
	if err != nil {
		return "", err
	}
	if out.RequestID == "" {
		return "", fmt.Errorf("%w: missing request_id", models.ErrProviderInvalidResponse)
	}
	return out.RequestID, nil
}

func (c *Client) Status(ctx context.Context, endpoint, handle string) (models.ProviderStatus, error) {
	ctx, cancel := c.withTimeout(ctx, c.timeout)
	defer cancel()

	var out statusResponse
	err := c.do(ctx, c.api.R().SetQueryParam("logs", "1").SetResult(&out), http.MethodGet, c.requestURL(endpoint, handle)+"/status")
	if err != nil {
		return models.ProviderStatus{}, err
	}

	status := models.ProviderStatus{QueuePosition: out.QueuePosition, Error: out.Error}
	for _, l := range out.Logs {
		status.Logs = append(status.Logs, l.Message)
	}
	switch out.Status {
	case "IN_QUEUE":
		status.State = models.ProviderQueued
	case "IN_PROGRESS":
		status.State = models.ProviderRunning
	case "COMPLETED":
		status.State = models.ProviderCompleted
		if out.Error != "" {
			status.State = models.ProviderFailed
		}
	case "FAILED", "ERROR", "CANCELLED":
		status.State = models.ProviderFailed
	default:
		return models.ProviderStatus{}, fmt.Errorf("%w: unknown status %q", models.ErrProviderInvalidResponse, out.Status)
	}
	return status, nil
}

func (c *Client) Result(ctx context.Context, endpoint, handle string) (models.ProviderResult, error) {
	ctx, cancel := c.withTimeout(ctx, c.timeout)
	defer cancel()

	var out resultResponse
	if err := c.do(ctx, c.api.R().SetResult(&out), http.MethodGet, c.requestURL(endpoint, handle)); err != nil {
		return models.ProviderResult{}, err
	}
	if out.Video == nil || out.Video.URL == "" {
		return models.ProviderResult{}, fmt.Errorf("%w: result has no video url", models.ErrProviderInvalidResponse)
	}
	return models.ProviderResult{URL: out.Video.URL}, nil
}

// requestURL addresses a queued request. Status and result live under the app
// prefix of the endpoint, not the full endpoint path.
func (c *Client) requestURL(endpoint, handle string) string {
	return fmt.Sprintf("%s/%s/requests/%s", c.queueURL, appPath(endpoint), url.PathEscape(handle))
}

// appPath reduces "owner/alias/sub/path" to "owner/alias". Workflow and comfy
// endpoints keep a third segment.
func appPath(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	n := 2
	if len(parts) > 0 && (parts[0] == "workflows" || parts[0] == "comfy") {
		n = 3
	}
	if len(parts) < n {
		return strings.Join(parts, "/")
	}
	return strings.Join(parts[:n], "/")
}

func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, target string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return classifyError(ctx.Err())
		}
		return classifyError(err)
	}

	resp, err := req.SetContext(ctx).Execute(method, target)
	if err != nil {
		return classifyError(err)
	}
	if resp.IsError() {
		return apiError(resp.StatusCode(), resp.Body())
	}
	return nil
}

func apiError(status int, body []byte) error {
	kind := models.ErrProviderRejected
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = models.ErrProviderUnauthorized
	case status == http.StatusTooManyRequests || status >= 500:
		kind = models.ErrProviderUnavailable
	}

	msg := errorMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("%s (status %d)", kind, status)
	}
	return &models.ProviderError{StatusCode: status, Message: msg, Kind: kind}
}

// errorMessage normalizes {"detail": "..."} and {"detail": [{"msg": ...}]} bodies into one string.
func errorMessage(body []byte) string {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(envelope.Detail) == 0 {
		return envelope.Message
	}
	return NormalizeDetail(envelope.Detail)
}

// NormalizeDetail flattens a provider error detail, which is either a string or a list
// of objects carrying msg or message, into one human-readable string.
func NormalizeDetail(detail json.RawMessage) string {
	var s string
	if err := json.Unmarshal(detail, &s); err == nil {
		return s
	}

	var items []json.RawMessage
	if err := json.Unmarshal(detail, &items); err != nil {
		return string(detail)
	}
	msgs := make([]string, 0, len(items))
	for _, raw := range items {
		var item struct {
			Msg     string `json:"msg"`
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(raw, &item) != nil:
			msgs = append(msgs, string(raw))
		case item.Msg != "":
			msgs = append(msgs, item.Msg)
		case item.Message != "":
			msgs = append(msgs, item.Message)
		default:
			msgs = append(msgs, string(raw))
		}
	}
	return strings.Join(msgs, ", ")
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrProviderTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrProviderTimeout, err)
	}

	return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
}

var _ models.VideoProvider = (*Client)(nil)
