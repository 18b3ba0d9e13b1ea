package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

// Delivery status constants
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// DefaultRetryDelays are the waits between delivery attempts
var DefaultRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// Delivery is the outcome of posting one event
type Delivery struct {
	ID           string
	Event        string
	Status       string
	StatusCode   int
	Attempts     int
	ResponseBody string
	CompletedAt  time.Time
}

// Service posts run events to a single configured endpoint. Deliveries run
// in the background; Wait blocks until all of them have finished.
type Service struct {
	client      *http.Client
	url         string
	secret      string
	logger      *logging.Logger
	retryDelays []time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	wg         sync.WaitGroup
	mu         sync.Mutex
	deliveries []Delivery
}

// NewService creates a webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		client:      &http.Client{Timeout: timeout},
		url:         cfg.URL,
		secret:      cfg.Secret,
		logger:      logger.WithComponent("webhook"),
		retryDelays: DefaultRetryDelays,
		sleep:       sleepContext,
	}
}

// WithRetryDelays replaces the retry schedule and the sleep function
func (s *Service) WithRetryDelays(delays []time.Duration, sleep func(ctx context.Context, d time.Duration) error) *Service {
	s.retryDelays = delays
	if sleep != nil {
		s.sleep = sleep
	}
	return s
}

// Notify queues a delivery of event with data as payload
func (s *Service) Notify(ctx context.Context, event string, data interface{}) error {
	payload := models.WebhookEvent{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		d := s.deliver(context.WithoutCancel(ctx), payload.ID, event, payloadBytes)
		s.mu.Lock()
		s.deliveries = append(s.deliveries, d)
		s.mu.Unlock()
	}()
	return nil
}

// Wait blocks until every queued delivery has completed or ctx is done
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliveries returns the finished deliveries
func (s *Service) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// deliver posts the payload, retrying on transport errors and non-2xx answers
func (s *Service) deliver(ctx context.Context, id, event string, payload []byte) Delivery {
	d := Delivery{ID: id, Event: event, Status: DeliveryStatusPending}
	for {
		d.Attempts++
		statusCode, body, err := s.post(ctx, id, event, payload)
		d.StatusCode = statusCode
		d.ResponseBody = body
		if err == nil && statusCode >= 200 && statusCode < 300 {
			d.Status = DeliveryStatusDelivered
			break
		}
		if err != nil {
			d.ResponseBody = err.Error()
		}

		if d.Attempts > len(s.retryDelays) {
			d.Status = DeliveryStatusFailed
			break
		}
		if err := s.sleep(ctx, s.retryDelays[d.Attempts-1]); err != nil {
			d.Status = DeliveryStatusFailed
			break
		}
	}
	d.CompletedAt = time.Now()

	l := s.logger.WithFields(map[string]interface{}{
		"event":       event,
		"delivery_id": id,
		"attempts":    d.Attempts,
		"status_code": d.StatusCode,
	})
	if d.Status == DeliveryStatusDelivered {
		l.Debug("webhook delivered")
	} else {
		l.Warnf("webhook delivery failed: %s", d.ResponseBody)
		metrics.RecordError("webhook", "delivery_failed")
	}
	return d
}

func (s *Service) post(ctx context.Context, id, event string, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hlsconvert-webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", id)
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", GenerateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}

// GenerateSignature generates the HMAC-SHA256 signature of a payload
func GenerateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header against the payload
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(GenerateSignature(payload, secret)), []byte(signature))
}

// OnProgress ignores progress; only completions are posted
func (s *Service) OnProgress(models.ProgressEvent) {}

// OnFileDone posts file.completed or file.failed
func (s *Service) OnFileDone(runID string, result models.QueueResult) {
	event := models.WebhookEventFileCompleted
	if !result.Succeeded() {
		event = models.WebhookEventFileFailed
	}
	data := map[string]interface{}{
		"run_id": runID,
		"result": result,
	}
	if err := s.Notify(context.Background(), event, data); err != nil {
		s.logger.WithError(err).Warn("failed to queue webhook")
	}
}

// OnQueueDone posts queue.completed with the run summary
func (s *Service) OnQueueDone(summary models.QueueSummary) {
	if err := s.Notify(context.Background(), models.WebhookEventQueueCompleted, summary); err != nil {
		s.logger.WithError(err).Warn("failed to queue webhook")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
