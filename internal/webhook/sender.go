package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/schuttebj/linc-print-backend/internal/core"
	"github.com/schuttebj/linc-print-backend/internal/db"
	"github.com/schuttebj/linc-print-backend/internal/platform/logger"
)

// Events emitted over the job lifecycle. Subscribers pick the ones they
// care about when registering.
const (
	EventJobQueued         = "job_queued"
	EventJobAssigned       = "job_assigned"
	EventPrintingStarted   = "printing_started"
	EventPrintingCompleted = "printing_completed"
	EventQAPassed          = "qa_passed"
	EventQAFailed          = "qa_failed"
	EventReprintCreated    = "reprint_created"
	EventCleanupCompleted  = "cleanup_completed"
)

type Payload struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Job       JobEventData `json:"job"`
	Signature string       `json:"signature,omitempty"`
}

// JobEventData is the stable subset of a job exposed to subscribers. The
// card payload itself never leaves the backend.
type JobEventData struct {
	JobID         string `json:"job_id"`
	JobNumber     string `json:"job_number"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	LocationID    string `json:"location_id"`
	PersonID      string `json:"person_id"`
	CardNumber    string `json:"card_number"`
	ParentJobID   string `json:"parent_job_id,omitempty"`
	ReprintCount  int    `json:"reprint_count,omitempty"`
	QualityResult string `json:"quality_result,omitempty"`
}

type Config struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	webhookID int64
	event     string
	payload   *Payload
	attempt   int
}

// Sender delivers job lifecycle events to registered subscribers over HTTP.
// Delivery is fire-and-forget from the engine's point of view: a full queue
// drops the event rather than stalling a status transition.
type Sender struct {
	log        *logger.Logger
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewSender(config Config, log *logger.Logger) *Sender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	return &Sender{
		log: log,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount: config.RetryCount,
		retryDelay: config.RetryDelay,
		workers:    config.WorkerCount,
		queue:      make(chan *task, config.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SendJobEvent satisfies the engine's event sink.
func (s *Sender) SendJobEvent(event string, job *core.Job) {
	data := JobEventData{
		JobID:        job.ID.String(),
		JobNumber:    job.JobNumber,
		Status:       string(job.Status),
		Priority:     string(job.Priority),
		LocationID:   job.LocationID.String(),
		PersonID:     job.PersonID.String(),
		CardNumber:   job.CardNumber,
		ReprintCount: job.ReprintCount,
	}
	if job.ParentJobID != nil {
		data.ParentJobID = job.ParentJobID.String()
	}
	if job.QualityCheckResult != nil {
		data.QualityResult = string(*job.QualityCheckResult)
	}
	s.enqueue(event, data)
}

func (s *Sender) enqueue(event string, data JobEventData) {
	webhooks, err := db.Webhooks.ListWebhooksForEvent(context.Background(), event)
	if err != nil {
		s.log.Error("failed to list webhooks for event", "event", event, "error", err)
		return
	}

	for _, hook := range webhooks {
		t := &task{
			webhookID: hook.ID,
			event:     event,
			payload: &Payload{
				Event:     event,
				Timestamp: time.Now().UTC(),
				Job:       data,
			},
		}

		select {
		case s.queue <- t:
		default:
			s.log.Warn("webhook queue full, dropping event",
				"webhook_id", hook.ID, "event", event)
		}
	}
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				s.log.Error("webhook delivery failed",
					"worker", id, "webhook_id", t.webhookID,
					"event", t.event, "attempts", t.attempt, "error", err)
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	hook, err := db.Webhooks.GetWebhookByID(context.Background(), t.webhookID)
	if err != nil {
		return fmt.Errorf("failed to load webhook: %w", err)
	}

	var lastErr error
	for t.attempt < s.retryCount {
		t.attempt++

		err := s.sendRequest(hook, t.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			return err
		}

		if t.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(t.attempt-1))
			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendRequest(hook *db.Webhook, payload *Payload) error {
	body, err := json.Marshal(payload.Job)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if hook.Secret != "" {
		payload.Signature = sign(body, hook.Secret)
	}

	full, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(full))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "http error: 4")
}
