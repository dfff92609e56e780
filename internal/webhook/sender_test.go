package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schuttebj/linc-print-backend/internal/core"
	"github.com/schuttebj/linc-print-backend/internal/db"
	"github.com/schuttebj/linc-print-backend/internal/platform/logger"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "lincprint-webhook-test")
	if err != nil {
		panic(err)
	}
	if err := db.Init(db.Config{Path: filepath.Join(dir, "test.db")}); err != nil {
		panic(err)
	}

	code := m.Run()

	db.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

type capture struct {
	mu        sync.Mutex
	bodies    [][]byte
	events    []string
	signature string
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	c.events = append(c.events, r.Header.Get("X-Webhook-Event"))
	c.signature = r.Header.Get("X-Webhook-Signature")
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *capture) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.bodies)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries", n)
}

func sampleJob() *core.Job {
	return &core.Job{
		ID:         uuid.New(),
		JobNumber:  "PJ20260307AB12CD001",
		Status:     core.StatusQueued,
		Priority:   core.PriorityNormal,
		PersonID:   uuid.New(),
		LocationID: uuid.New(),
		CardNumber: "MG000123",
	}
}

func registerHook(t *testing.T, url, secret string, events []string) *db.Webhook {
	t.Helper()
	eventsJSON, err := json.Marshal(events)
	require.NoError(t, err)
	w := &db.Webhook{
		Name:       t.Name(),
		URL:        url,
		Secret:     secret,
		EventsJSON: string(eventsJSON),
		Enabled:    true,
	}
	require.NoError(t, db.Webhooks.CreateWebhook(context.Background(), w))
	t.Cleanup(func() { db.Webhooks.DeleteWebhook(context.Background(), w.ID) })
	return w
}

func TestSendJobEventDeliversAndSigns(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	registerHook(t, srv.URL, "topsecret", []string{EventJobQueued})

	sender := NewSender(Config{}, logger.Nop())
	sender.Start()
	defer sender.Stop()

	job := sampleJob()
	sender.SendJobEvent(EventJobQueued, job)
	cap.wait(t, 1)

	assert.Equal(t, EventJobQueued, cap.events[0])

	var payload Payload
	require.NoError(t, json.Unmarshal(cap.bodies[0], &payload))
	assert.Equal(t, EventJobQueued, payload.Event)
	assert.Equal(t, job.ID.String(), payload.Job.JobID)
	assert.Equal(t, job.JobNumber, payload.Job.JobNumber)

	// Signature is HMAC-SHA256 over the job data alone.
	data, err := json.Marshal(payload.Job)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(data)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), cap.signature)
}

func TestSendJobEventFiltersByEvent(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(cap.handler))
	defer srv.Close()

	registerHook(t, srv.URL, "", []string{EventQAPassed})

	sender := NewSender(Config{}, logger.Nop())
	sender.Start()
	defer sender.Stop()

	sender.SendJobEvent(EventJobQueued, sampleJob())
	sender.SendJobEvent(EventQAPassed, sampleJob())
	cap.wait(t, 1)

	cap.mu.Lock()
	defer cap.mu.Unlock()
	assert.Equal(t, []string{EventQAPassed}, cap.events)
}

func TestSendRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		fail := attempts == 1
		mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registerHook(t, srv.URL, "", []string{EventReprintCreated})

	sender := NewSender(Config{RetryDelay: 10 * time.Millisecond}, logger.Nop())
	sender.Start()
	defer sender.Stop()

	sender.SendJobEvent(EventReprintCreated, sampleJob())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := attempts >= 2
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for retry")
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registerHook(t, srv.URL, "", []string{EventQAFailed})

	sender := NewSender(Config{RetryDelay: 10 * time.Millisecond}, logger.Nop())
	sender.Start()

	sender.SendJobEvent(EventQAFailed, sampleJob())
	time.Sleep(200 * time.Millisecond)
	sender.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}
