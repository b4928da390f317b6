package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"fieldproof/internal/audit"
	"fieldproof/internal/channel"
	"fieldproof/internal/delivery"
	"fieldproof/internal/syncsvc"
)

type staticProbe bool

func (p staticProbe) Online() bool { return bool(p) }

func testRouter(t *testing.T) (*gin.Engine, Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := audit.NewLedger(audit.NewMemoryStore(), slog.Default())
	mgr := syncsvc.NewManager(syncsvc.DefaultPolicy(), syncsvc.NewMemoryStateStore(), slog.Default())
	queue, err := delivery.NewQueue(channel.Registry{}, delivery.NewMemoryStore(), staticProbe(false), 3, slog.Default())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	h := Handlers{Ledger: ledger, Sync: mgr, Queue: queue}
	r := gin.New()
	v1 := r.Group("/v1")
	{
		v1.POST("/subjects/:subject_id/events", h.AppendEvent)
		v1.GET("/subjects/:subject_id/events", h.ListEvents)
		v1.GET("/subjects/:subject_id/verify", h.VerifyChain)
		v1.GET("/sync/status", h.SyncStatus)
		v1.POST("/sync/retry", h.SyncRetry)
		v1.POST("/sync/cancel", h.SyncCancel)
		v1.POST("/deliveries", h.CreateDelivery)
		v1.GET("/deliveries", h.ListDeliveries)
		v1.POST("/deliveries/:id/retry", h.RetryDelivery)
		v1.GET("/notifications", h.ListNotifications)
		v1.POST("/notifications/:id/dismiss", h.DismissNotification)
	}
	return r, h
}

func doRequest(t *testing.T, r *gin.Engine, method, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	return doJSONRequest(t, r, method, path, "")
}

func doJSONRequest(t *testing.T, r *gin.Engine, method, path, payload string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var req *http.Request
	if payload == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := map[string]json.RawMessage{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, body
}

func TestListEventsReturnsChain(t *testing.T) {
	r, h := testRouter(t)

	for i := 0; i < 3; i++ {
		if _, err := h.Ledger.Append(context.Background(), audit.EventTypeEvidenceCaptured, "job-1", audit.AppendInput{}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	w, body := doRequest(t, r, http.MethodGet, "/v1/subjects/job-1/events")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var events []audit.Event
	if err := json.Unmarshal(body["events"], &events); err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 || events[0].Seq != 1 {
		t.Fatalf("events = %+v", events)
	}
}

func TestVerifyChainEndpoint(t *testing.T) {
	r, h := testRouter(t)
	h.Ledger.Append(context.Background(), audit.EventTypeJobSealed, "job-2", audit.AppendInput{})

	w, _ := doRequest(t, r, http.MethodGet, "/v1/subjects/job-2/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res audit.VerifyResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Valid || res.Count != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSyncStatusIncludesHealth(t *testing.T) {
	r, h := testRouter(t)
	h.Sync.SetQueueStats(2, 3)

	w, body := doRequest(t, r, http.MethodGet, "/v1/sync/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var health string
	if err := json.Unmarshal(body["health"], &health); err != nil {
		t.Fatalf("health: %v", err)
	}
	if health != string(syncsvc.HealthDegraded) {
		t.Fatalf("health = %q", health)
	}
}

func TestSyncRetryAndCancel(t *testing.T) {
	r, _ := testRouter(t)

	w, _ := doRequest(t, r, http.MethodPost, "/v1/sync/retry")
	if w.Code != http.StatusAccepted {
		t.Fatalf("retry status = %d", w.Code)
	}
	w, _ = doRequest(t, r, http.MethodPost, "/v1/sync/cancel")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
}

func TestListDeliveriesFilterByStatus(t *testing.T) {
	r, h := testRouter(t)
	h.Queue.Enqueue(delivery.Item{Channels: []string{"push"}})

	w, body := doRequest(t, r, http.MethodGet, "/v1/deliveries?status=pending")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var count int
	json.Unmarshal(body["count"], &count)
	if count != 1 {
		t.Fatalf("pending count = %d", count)
	}

	w, body = doRequest(t, r, http.MethodGet, "/v1/deliveries?status=failed")
	json.Unmarshal(body["count"], &count)
	if count != 0 {
		t.Fatalf("failed count = %d", count)
	}
}

func TestRetryDeliveryUnknownIDConflicts(t *testing.T) {
	r, _ := testRouter(t)
	w, _ := doRequest(t, r, http.MethodPost, "/v1/deliveries/nope/retry")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDismissNotification(t *testing.T) {
	r, h := testRouter(t)
	h.Queue.Notify(channel.Message{ID: "itm-1", Body: "heads up"})

	_, body := doRequest(t, r, http.MethodGet, "/v1/notifications")
	var notes []delivery.Notification
	if err := json.Unmarshal(body["notifications"], &notes); err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("notes = %+v", notes)
	}

	w, _ := doRequest(t, r, http.MethodPost, "/v1/notifications/"+notes[0].ID+"/dismiss")
	if w.Code != http.StatusOK {
		t.Fatalf("dismiss status = %d", w.Code)
	}
	w, _ = doRequest(t, r, http.MethodPost, "/v1/notifications/nope/dismiss")
	if w.Code != http.StatusNotFound {
		t.Fatalf("dismiss unknown status = %d", w.Code)
	}
}

func TestAppendEventRecordsOnChain(t *testing.T) {
	r, h := testRouter(t)

	w, body := doJSONRequest(t, r, http.MethodPost, "/v1/subjects/job-9/events",
		`{"type":"evidence_captured","metadata":{"photo_id":"p-1"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var ev audit.Event
	raw, _ := json.Marshal(body)
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("event: %v", err)
	}
	if ev.Seq != 1 || ev.EventHash == "" {
		t.Fatalf("event = %+v", ev)
	}

	evs, err := h.Ledger.Events(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].Metadata["photo_id"] != "p-1" {
		t.Fatalf("ledger = %+v", evs)
	}
}

func TestAppendEventRejectsUnknownType(t *testing.T) {
	r, _ := testRouter(t)

	w, _ := doJSONRequest(t, r, http.MethodPost, "/v1/subjects/job-9/events", `{"type":"bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	w, _ = doJSONRequest(t, r, http.MethodPost, "/v1/subjects/job-9/events", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateDeliveryEnqueues(t *testing.T) {
	r, h := testRouter(t)

	w, body := doJSONRequest(t, r, http.MethodPost, "/v1/deliveries",
		`{"kind":"notification","body":"job sealed","channels":["webhook","in_app"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var id string
	if err := json.Unmarshal(body["id"], &id); err != nil || id == "" {
		t.Fatalf("id = %q (%v)", id, err)
	}

	pending := h.Queue.Pending()
	if len(pending) != 1 || pending[0].ID != id || pending[0].Status != delivery.StatusPending {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestCreateDeliveryRequiresChannels(t *testing.T) {
	r, _ := testRouter(t)

	w, _ := doJSONRequest(t, r, http.MethodPost, "/v1/deliveries", `{"kind":"notification"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}
