package events

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/printlink/printlink/internal/config"
)

const (
	EventConnected    = "printer_connected"
	EventDisconnected = "printer_disconnected"
)

type Payload struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type StateChangeData struct {
	PrinterID int64     `json:"printer_id"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type task struct {
	target  config.WebhookTarget
	payload *Payload
	attempt int
}

// Notifier fans connection lifecycle events out to the configured webhook
// targets (worker pool, exponential retry, HMAC-signed payloads) and to the
// websocket hub. Delivery is best-effort: a full queue drops, a dead target
// gives up after the retries.
type Notifier struct {
	targets    []config.WebhookTarget
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup
	hub        *Hub
}

func NewNotifier(cfg config.WebhooksConfig, hub *Hub) *Notifier {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelaySeconds <= 0 {
		cfg.RetryDelaySeconds = 5
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Notifier{
		targets: cfg.Targets,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		retryCount: cfg.RetryCount,
		retryDelay: time.Duration(cfg.RetryDelaySeconds) * time.Second,
		workers:    cfg.WorkerCount,
		queue:      make(chan *task, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		hub:        hub,
	}
}

func (n *Notifier) Start() {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
}

func (n *Notifier) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

// ConnectionStateChanged implements core.Notifier.
func (n *Notifier) ConnectionStateChanged(printerID int64, state, reason string) {
	now := time.Now()
	data := &StateChangeData{
		PrinterID: printerID,
		State:     state,
		Reason:    reason,
		Timestamp: now,
	}
	event := "printer_" + state

	if n.hub != nil {
		n.hub.Broadcast(&Payload{
			ID:        uuid.NewString(),
			Event:     event,
			Timestamp: now,
			Data:      data,
		})
	}
	n.enqueue(event, data)
}

func (n *Notifier) enqueue(event string, data interface{}) {
	for _, target := range n.targets {
		if !target.Subscribed(event) {
			continue
		}
		t := &task{
			target: target,
			payload: &Payload{
				ID:        uuid.NewString(),
				Event:     event,
				Timestamp: time.Now(),
				Data:      data,
			},
		}
		select {
		case n.queue <- t:
		default:
			log.Printf("[events] queue full, dropping %s for target %s", event, target.Name)
		}
	}
}

func (n *Notifier) worker(id int) {
	defer n.wg.Done()

	for {
		select {
		case <-n.stopCh:
			return
		case t := <-n.queue:
			if err := n.sendWithRetry(t); err != nil {
				log.Printf("[events worker %d] giving up on %s for target %s after %d attempts: %v",
					id, t.payload.Event, t.target.Name, t.attempt, err)
			}
		}
	}
}

func (n *Notifier) sendWithRetry(t *task) error {
	var lastErr error
	for t.attempt < n.retryCount {
		t.attempt++

		err := n.sendRequest(t.target, t.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			log.Printf("[events] client error from target %s, not retrying: %v", t.target.Name, err)
			return err
		}

		if t.attempt < n.retryCount {
			backoff := n.retryDelay * time.Duration(1<<(t.attempt-1))
			log.Printf("[events] retry %d/%d for target %s in %v: %v",
				t.attempt, n.retryCount, t.target.Name, backoff, err)

			select {
			case <-n.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (n *Notifier) sendRequest(target config.WebhookTarget, payload *Payload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if target.Secret != "" {
		payload.Signature = signPayload(dataBytes, target.Secret)
	}

	fullPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", target.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}

	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	if strings.Contains(errStr, "http error: 4") {
		return true
	}
	return false
}
