package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"frameworks/api_lookout/internal/webhooks"
	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/middleware"
	"frameworks/api_lookout/pkg/models"
)

// webhookRequest is the create/update body. Enabled is a pointer so an
// omitted field defaults to true on create without clobbering updates.
type webhookRequest struct {
	Name           string                 `json:"name"`
	URL            string                 `json:"url"`
	Enabled        *bool                  `json:"enabled"`
	Secret         string                 `json:"secret"`
	Events         []models.EventKind     `json:"events"`
	Headers        map[string]string      `json:"headers"`
	RetryPolicy    *models.RetryPolicy    `json:"retry_policy"`
	DeliveryConfig *models.DeliveryConfig `json:"delivery_config"`
	AlertConfig    *models.AlertConfig    `json:"alert_config"`
	Thresholds     map[string]float64     `json:"thresholds"`
	ConnectionID   string                 `json:"connection_id"`
}

func (r *webhookRequest) validate() string {
	if r.Name == "" {
		return "name is required"
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return "url must be an http or https endpoint"
	}
	if len(r.Events) == 0 {
		return "at least one event kind is required"
	}
	for _, kind := range r.Events {
		if !models.IsKnownEventKind(kind) {
			return "unknown event kind: " + string(kind)
		}
	}
	return ""
}

// apply copies the request onto a webhook, filling defaults for
// unspecified policies.
func (r *webhookRequest) apply(w *models.Webhook) {
	w.Name = r.Name
	w.URL = r.URL
	w.Secret = r.Secret
	w.Events = r.Events
	w.Headers = r.Headers
	w.Thresholds = r.Thresholds
	w.ConnectionID = r.ConnectionID

	if r.Enabled != nil {
		w.Enabled = *r.Enabled
	}
	if r.RetryPolicy != nil {
		w.RetryPolicy = *r.RetryPolicy
	} else if w.RetryPolicy.MaxRetries == 0 {
		w.RetryPolicy = models.DefaultRetryPolicy()
	}
	if r.DeliveryConfig != nil {
		w.DeliveryConfig = *r.DeliveryConfig
	} else if w.DeliveryConfig.TimeoutMs == 0 {
		w.DeliveryConfig = models.DefaultDeliveryConfig()
	}
	if r.AlertConfig != nil {
		w.AlertConfig = *r.AlertConfig
	} else if w.AlertConfig.HysteresisFactor == 0 {
		w.AlertConfig = models.DefaultAlertConfig()
	}
}

// masked returns a copy safe to serialize: the signing secret is never
// echoed back in full.
func masked(w models.Webhook) models.Webhook {
	w.Secret = webhooks.MaskSecret(w.Secret)
	return w
}

// CreateWebhook registers a new event subscriber.
func CreateWebhook(c middleware.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, middleware.H{"error": msg})
		return
	}

	webhook := models.Webhook{
		ID:      uuid.NewString(),
		Enabled: true,
	}
	req.apply(&webhook)

	if err := store.CreateWebhook(c.Request.Context(), &webhook); err != nil {
		logger.WithError(err).Error("Failed to create webhook")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to create webhook"})
		return
	}

	logger.WithFields(logging.Fields{
		"webhook_id": webhook.ID,
		"events":     webhook.Events,
	}).Info("Webhook created")

	c.JSON(http.StatusCreated, masked(webhook))
}

// ListWebhooks returns every subscriber, secrets masked.
func ListWebhooks(c middleware.Context) {
	list, err := store.ListWebhooks(c.Request.Context(), c.Query("connection_id"))
	if err != nil {
		logger.WithError(err).Error("Failed to list webhooks")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to list webhooks"})
		return
	}

	out := make([]models.Webhook, len(list))
	for i, w := range list {
		out[i] = masked(w)
	}
	c.JSON(http.StatusOK, middleware.H{"webhooks": out, "count": len(out)})
}

// GetWebhook returns one subscriber, secret masked.
func GetWebhook(c middleware.Context) {
	webhook, err := store.GetWebhook(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, middleware.H{"error": "Webhook not found"})
			return
		}
		logger.WithError(err).Error("Failed to load webhook")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to load webhook"})
		return
	}
	c.JSON(http.StatusOK, masked(*webhook))
}

// UpdateWebhook modifies a subscriber in place. Omitted policy blocks
// keep their stored values; an empty secret keeps the stored secret.
func UpdateWebhook(c middleware.Context) {
	webhook, err := store.GetWebhook(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, middleware.H{"error": "Webhook not found"})
			return
		}
		logger.WithError(err).Error("Failed to load webhook")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to load webhook"})
		return
	}

	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, middleware.H{"error": msg})
		return
	}

	stored := webhook.Secret
	req.apply(webhook)
	if webhook.Secret == "" {
		webhook.Secret = stored
	}

	if err := store.UpdateWebhook(c.Request.Context(), webhook); err != nil {
		logger.WithError(err).Error("Failed to update webhook")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to update webhook"})
		return
	}

	// Threshold state may reference stale thresholds after an update.
	dispatcher.Gate().ReleaseSubscriber(webhook.ID)

	c.JSON(http.StatusOK, masked(*webhook))
}

// DeleteWebhook removes a subscriber and its delivery history.
func DeleteWebhook(c middleware.Context) {
	id := c.Param("id")
	if err := store.DeleteWebhook(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, middleware.H{"error": "Webhook not found"})
			return
		}
		logger.WithError(err).Error("Failed to delete webhook")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to delete webhook"})
		return
	}

	dispatcher.Gate().ReleaseSubscriber(id)
	c.JSON(http.StatusOK, middleware.H{"deleted": id})
}

// TestWebhook performs one synchronous signed delivery of a test
// payload and reports the outcome.
func TestWebhook(c middleware.Context) {
	result, err := dispatcher.TestDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, middleware.H{"error": "Webhook not found"})
			return
		}
		logger.WithError(err).Error("Test delivery failed")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Test delivery failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListDeliveries returns the delivery history of one subscriber.
func ListDeliveries(c middleware.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	deliveries, err := store.ListDeliveries(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		logger.WithError(err).Error("Failed to list deliveries")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to list deliveries"})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"deliveries": deliveries, "count": len(deliveries)})
}

// GetRetryQueueStats summarises the delivery backlog.
func GetRetryQueueStats(c middleware.Context) {
	stats, err := store.RetryQueueStats(c.Request.Context(), c.Query("connection_id"))
	if err != nil {
		logger.WithError(err).Error("Failed to read retry queue stats")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to read retry queue stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListDeadLetters returns deliveries that exhausted their retry budget.
func ListDeadLetters(c middleware.Context) {
	limit := intQuery(c, "limit", 50)

	deliveries, err := store.GetDeadLetters(c.Request.Context(), limit, c.Query("connection_id"))
	if err != nil {
		logger.WithError(err).Error("Failed to list dead letters")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to list dead letters"})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"deliveries": deliveries, "count": len(deliveries)})
}

// RequeueDelivery puts a failed or dead-lettered delivery back on the
// retry queue with a fresh attempt budget.
func RequeueDelivery(c middleware.Context) {
	id := c.Param("id")
	if err := dispatcher.Requeue(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, middleware.H{"error": "Delivery not found"})
			return
		}
		c.JSON(http.StatusConflict, middleware.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"requeued": id})
}
