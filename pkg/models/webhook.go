package models

import "time"

// WebhookEvent is the payload posted to the completion webhook
type WebhookEvent struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event constants
const (
	WebhookEventQueueCompleted = "queue.completed"
	WebhookEventFileCompleted  = "file.completed"
	WebhookEventFileFailed     = "file.failed"
)
