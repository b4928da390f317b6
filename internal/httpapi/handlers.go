package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fieldproof/internal/audit"
	"fieldproof/internal/delivery"
	"fieldproof/internal/syncsvc"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Ledger *audit.Ledger
	Sync   *syncsvc.Manager
	Queue  *delivery.Queue
}

// --- Audit ---

type appendEventRequest struct {
	Type     string            `json:"type"`
	Location *audit.Location   `json:"location,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AppendEvent records one evidence event on the subject's chain. This is the
// capture path: it must succeed offline, so the handler never waits on
// replication.
func (h Handlers) AppendEvent(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	subjectID := c.Param("subject_id")
	if subjectID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "subject_id required"})
		return
	}
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ev, err := h.Ledger.Append(c.Request.Context(), audit.EventType(req.Type), subjectID, audit.AppendInput{
		Location: req.Location,
		Metadata: req.Metadata,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (h Handlers) ListEvents(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	subjectID := c.Param("subject_id")
	if subjectID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "subject_id required"})
		return
	}
	events, err := h.Ledger.Events(c.Request.Context(), subjectID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": subjectID, "events": events, "count": len(events)})
}

func (h Handlers) VerifyChain(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	subjectID := c.Param("subject_id")
	if subjectID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "subject_id required"})
		return
	}
	res, err := h.Ledger.VerifyChain(c.Request.Context(), subjectID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Sync ---

func (h Handlers) SyncStatus(c *gin.Context) {
	if h.Sync == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sync not configured"})
		return
	}
	state := h.Sync.State()
	c.JSON(http.StatusOK, gin.H{"state": state, "health": state.Health()})
}

func (h Handlers) SyncRetry(c *gin.Context) {
	if h.Sync == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sync not configured"})
		return
	}
	h.Sync.ForceRetry(c.Request.Context())
	if h.Queue != nil {
		h.Queue.Kick()
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "retry scheduled"})
}

func (h Handlers) SyncCancel(c *gin.Context) {
	if h.Sync == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sync not configured"})
		return
	}
	h.Sync.Cancel()
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// --- Deliveries ---

type createDeliveryRequest struct {
	Kind      string            `json:"kind"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body,omitempty"`
	Recipient string            `json:"recipient,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Channels  []string          `json:"channels"`
	Priority  string            `json:"priority,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt,omitempty"`
}

// CreateDelivery enqueues an outbound delivery. Always accepted locally;
// the item waits in the queue until a drain pass finds connectivity.
func (h Handlers) CreateDelivery(c *gin.Context) {
	if h.Queue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	var req createDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Channels) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "channels required"})
		return
	}
	id, err := h.Queue.Enqueue(delivery.Item{
		Kind:      req.Kind,
		Subject:   req.Subject,
		Body:      req.Body,
		Recipient: req.Recipient,
		Meta:      req.Meta,
		Channels:  req.Channels,
		Priority:  req.Priority,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "queued"})
}

func (h Handlers) ListDeliveries(c *gin.Context) {
	if h.Queue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	status := delivery.Status(c.Query("status"))
	items := h.Queue.Items(status)
	c.JSON(http.StatusOK, gin.H{"deliveries": items, "count": len(items)})
}

func (h Handlers) RetryDelivery(c *gin.Context) {
	if h.Queue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "delivery id required"})
		return
	}
	if err := h.Queue.RetryDelivery(id); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requeued"})
}

// --- Notifications ---

func (h Handlers) ListNotifications(c *gin.Context) {
	if h.Queue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	notes := h.Queue.Notifications()
	c.JSON(http.StatusOK, gin.H{"notifications": notes, "count": len(notes)})
}

func (h Handlers) DismissNotification(c *gin.Context) {
	if h.Queue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "notification id required"})
		return
	}
	if err := h.Queue.Dismiss(id); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}
