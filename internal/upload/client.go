package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

var (
	// ErrUnauthorized is returned for 401/403 responses and is never retried
	ErrUnauthorized = errors.New("auth failed")
	// ErrInvalidResponse is returned when the backend answers with an unusable body
	ErrInvalidResponse = errors.New("invalid response")
	// ErrNotConfigured is returned when the backend URL or token is missing
	ErrNotConfigured = errors.New("BACKEND_URL and AUTH_TOKEN must be set")
	// ErrCancelled marks a directory upload stopped by the cancellation predicate
	ErrCancelled = errors.New("upload cancelled")
)

// StatusError is a non-2xx response that is not an authorization failure
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d", e.Op, e.StatusCode)
}

// Presigner issues an upload target for an exact object key
type Presigner interface {
	Presign(ctx context.Context, key, contentType string) (*models.UploadTarget, error)
}

// RecordCreator registers an uploaded HLS package with the content backend
type RecordCreator interface {
	CreateRecord(ctx context.Context, req RecordRequest) (map[string]any, error)
}

// RecordRequest is the body of the create-content-record call
type RecordRequest struct {
	Name       string        `json:"name"`
	CourseID   string        `json:"courseId"`
	Language   string        `json:"language"`
	Type       string        `json:"type"`
	S3Keys     models.S3Keys `json:"s3Keys"`
	Duration   int           `json:"duration"`
	Qualities  []string      `json:"qualities"`
	UploadedBy string        `json:"uploadedBy"`
}

// NewRecordRequest builds an hls record body; duration is rounded to whole seconds
func NewRecordRequest(name, courseID, language string, keys models.S3Keys, duration float64, qualities []string, uploadedBy string) RecordRequest {
	if qualities == nil {
		qualities = []string{}
	}
	return RecordRequest{
		Name:       name,
		CourseID:   courseID,
		Language:   language,
		Type:       models.StreamingTypeHLS,
		S3Keys:     keys,
		Duration:   int(math.Round(duration)),
		Qualities:  qualities,
		UploadedBy: uploadedBy,
	}
}

// envelope is the backend's response wrapper; older deployments send
// "status", newer ones "success"
type envelope struct {
	Status  json.RawMessage `json:"status"`
	Success json.RawMessage `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	if len(e.Status) > 0 {
		return truthy(e.Status)
	}
	return truthy(e.Success)
}

func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return false
	}
}

// Client talks to the content backend. Each method is a single attempt.
type Client struct {
	cfg        config.BackendConfig
	httpClient *http.Client
}

// NewClient creates a backend client. A nil httpClient gets cfg.Timeout.
func NewClient(cfg config.BackendConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// Presign requests a signed PUT URL for key
func (c *Client) Presign(ctx context.Context, key, contentType string) (*models.UploadTarget, error) {
	body := map[string]string{"key": key}
	if contentType != "" {
		body["contentType"] = contentType
	}

	var env envelope
	if err := c.do(ctx, "presign", http.MethodPost, c.cfg.PresignExactEndpoint, body, &env); err != nil {
		return nil, err
	}
	if !env.ok() || !truthy(env.Data) {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidResponse)
	}

	var target models.UploadTarget
	if err := json.Unmarshal(env.Data, &target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if target.Key == "" {
		target.Key = key
	}
	return &target, nil
}

// CreateRecord registers the uploaded package and returns the created record
func (c *Client) CreateRecord(ctx context.Context, req RecordRequest) (map[string]any, error) {
	var env envelope
	if err := c.do(ctx, "create record", http.MethodPost, c.cfg.FileCreateEndpoint, req, &env); err != nil {
		return nil, err
	}
	if !env.ok() || len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: invalid create file response", ErrInvalidResponse)
	}

	var record map[string]any
	if err := json.Unmarshal(env.Data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return record, nil
}

// ValidateConnection checks that the backend is reachable and the token is accepted
func (c *Client) ValidateConnection(ctx context.Context) error {
	err := c.do(ctx, "auth check", http.MethodGet, c.cfg.AuthValidateEndpoint, nil, nil)
	if errors.Is(err, ErrUnauthorized) {
		return fmt.Errorf("%w: token invalid or expired", ErrUnauthorized)
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	if !c.cfg.IsConfigured() {
		return ErrNotConfigured
	}
	url := c.cfg.FullURL(endpoint)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("x-auth-token", c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w: %d", op, ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidResponse, err)
	}
	return nil
}
