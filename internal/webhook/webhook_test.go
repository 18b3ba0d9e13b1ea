package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

type received struct {
	body    []byte
	headers http.Header
}

// receiver answers with the queued status codes, then 200
type receiver struct {
	mu       sync.Mutex
	statuses []int
	requests []received
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.requests = append(rc.requests, received{body: body, headers: r.Header.Clone()})
	status := http.StatusOK
	if len(rc.statuses) > 0 {
		status = rc.statuses[0]
		rc.statuses = rc.statuses[1:]
	}
	rc.mu.Unlock()
	w.WriteHeader(status)
}

func newTestService(t *testing.T, rc *receiver, secret string) (*Service, *[]time.Duration) {
	server := httptest.NewServer(rc)
	t.Cleanup(server.Close)

	var mu sync.Mutex
	slept := []time.Duration{}
	svc := NewService(config.WebhookConfig{URL: server.URL, Secret: secret}, nil).
		WithRetryDelays(DefaultRetryDelays, func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			slept = append(slept, d)
			return nil
		})
	return svc, &slept
}

func TestWebhookNotify(t *testing.T) {
	rc := &receiver{}
	svc, _ := newTestService(t, rc, "test-secret")

	summary := models.QueueSummary{RunID: "run-1", Outcome: models.OutcomeAllSucceeded, Total: 1, Succeeded: 1}
	svc.OnQueueDone(summary)
	require.NoError(t, svc.Wait(context.Background()))

	require.Len(t, rc.requests, 1)
	req := rc.requests[0]
	assert.Equal(t, "application/json", req.headers.Get("Content-Type"))
	assert.Equal(t, models.WebhookEventQueueCompleted, req.headers.Get("X-Webhook-Event"))
	assert.True(t, VerifySignature(req.body, "test-secret", req.headers.Get("X-Webhook-Signature")))

	var event struct {
		ID    string              `json:"id"`
		Event string              `json:"event"`
		Data  models.QueueSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(req.body, &event))
	assert.Equal(t, req.headers.Get("X-Webhook-Delivery"), event.ID)
	assert.Equal(t, "run-1", event.Data.RunID)
	assert.Equal(t, models.OutcomeAllSucceeded, event.Data.Outcome)

	deliveries := svc.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusDelivered, deliveries[0].Status)
	assert.Equal(t, 1, deliveries[0].Attempts)
}

func TestWebhookFileEvents(t *testing.T) {
	rc := &receiver{}
	svc, _ := newTestService(t, rc, "")

	svc.OnProgress(models.ProgressEvent{RunID: "run"})
	svc.OnFileDone("run", models.QueueResult{File: "a.mp4", Status: models.ResultStatusSuccess})
	svc.OnFileDone("run", models.QueueResult{File: "b.mp4", Status: models.ResultStatusFailed, Error: "boom"})
	require.NoError(t, svc.Wait(context.Background()))

	require.Len(t, rc.requests, 2)
	events := map[string]bool{}
	for _, r := range rc.requests {
		events[r.headers.Get("X-Webhook-Event")] = true
		assert.Empty(t, r.headers.Get("X-Webhook-Signature"))
	}
	assert.True(t, events[models.WebhookEventFileCompleted])
	assert.True(t, events[models.WebhookEventFileFailed])
}

func TestWebhookRetries(t *testing.T) {
	rc := &receiver{statuses: []int{http.StatusInternalServerError, http.StatusBadGateway}}
	svc, slept := newTestService(t, rc, "")

	require.NoError(t, svc.Notify(context.Background(), models.WebhookEventQueueCompleted, map[string]string{"k": "v"}))
	require.NoError(t, svc.Wait(context.Background()))

	deliveries := svc.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusDelivered, deliveries[0].Status)
	assert.Equal(t, 3, deliveries[0].Attempts)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, *slept)
	assert.Len(t, rc.requests, 3)
}

func TestWebhookGivesUp(t *testing.T) {
	rc := &receiver{statuses: []int{500, 500, 500, 500, 500}}
	svc, slept := newTestService(t, rc, "")

	require.NoError(t, svc.Notify(context.Background(), "test", nil))
	require.NoError(t, svc.Wait(context.Background()))

	deliveries := svc.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusFailed, deliveries[0].Status)
	assert.Equal(t, 4, deliveries[0].Attempts)
	assert.Equal(t, 500, deliveries[0].StatusCode)
	assert.Len(t, *slept, 3)
}

func TestWebhookUnreachable(t *testing.T) {
	svc := NewService(config.WebhookConfig{URL: "http://127.0.0.1:1/hook"}, nil).
		WithRetryDelays(nil, nil)

	require.NoError(t, svc.Notify(context.Background(), "test", nil))
	require.NoError(t, svc.Wait(context.Background()))

	deliveries := svc.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusFailed, deliveries[0].Status)
	assert.Contains(t, deliveries[0].ResponseBody, "failed to send request")
}

func TestWebhookSignature(t *testing.T) {
	payload := []byte(`{"event":"test"}`)
	secret := "test-secret"

	signature := GenerateSignature(payload, secret)
	assert.Contains(t, signature, "sha256=")
	assert.Len(t, signature, len("sha256=")+64)
	assert.True(t, VerifySignature(payload, secret, signature))
	assert.False(t, VerifySignature(payload, "other", signature))
}
