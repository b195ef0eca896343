// Package notify is a small in-process pub/sub hub. Audit workers
// publish run outcomes; the HTTP layer bridges subscriptions to
// websocket clients.
package notify

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// TopicAuditUpdates carries audit completion and failure notifications.
const TopicAuditUpdates = "audit-updates"

// Notification is the payload published when an audit run ends.
type Notification struct {
	AuditID       int64  `json:"audit_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	CriticalCount int    `json:"critical_count"`
	WarningCount  int    `json:"warning_count"`
	InfoCount     int    `json:"info_count"`
	TotalIssues   int    `json:"total_issues"`
}

// Success builds the payload for a run that reached a completed state.
func Success(auditID int64, critical, warning, info int) Notification {
	total := critical + warning + info
	plural := "s"
	if total == 1 {
		plural = ""
	}
	return Notification{
		AuditID: auditID,
		Status:  "COMPLETED",
		Message: fmt.Sprintf("Audit completed! Found %d issue%s (%d critical, %d warnings)",
			total, plural, critical, warning),
		CriticalCount: critical,
		WarningCount:  warning,
		InfoCount:     info,
		TotalIssues:   total,
	}
}

// Failure builds the payload for a failed run.
func Failure(auditID int64, errorMessage string) Notification {
	return Notification{
		AuditID: auditID,
		Status:  "FAILED",
		Message: "Audit failed: " + errorMessage,
	}
}

// Publisher is the producer side of the hub.
type Publisher interface {
	Publish(topic string, payload any)
}

// Hub fans published payloads out to per-topic subscribers. Publishing
// never blocks: a subscriber that cannot keep up loses the message
// rather than stalling an audit worker.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan any
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan any)}
}

// Subscribe registers a new subscriber for the topic. The returned
// channel is buffered; call the cancel func to unsubscribe.
func (h *Hub) Subscribe(topic string) (<-chan any, func()) {
	ch := make(chan any, 16)

	h.mu.Lock()
	h.subs[topic] = append(h.subs[topic], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[topic]
		for i, c := range subs {
			if c == ch {
				h.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers payload to every subscriber of topic without
// blocking.
func (h *Hub) Publish(topic string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[topic] {
		select {
		case ch <- payload:
		default:
			log.Warn().Str("topic", topic).Msg("slow subscriber, dropping notification")
		}
	}
}
