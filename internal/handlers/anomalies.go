package handlers

import (
	"net/http"

	"frameworks/api_lookout/internal/storage"
	"frameworks/api_lookout/pkg/middleware"
	"frameworks/api_lookout/pkg/models"
)

// GetAnomalyEvents returns recent in-memory events, newest first.
func GetAnomalyEvents(c middleware.Context) {
	limit := intQuery(c, "limit", 100)
	metric := models.MetricKind(c.Query("metricType"))

	events := eng.RecentEvents(limit, metric, connectionScope(c))
	c.JSON(http.StatusOK, middleware.H{
		"events": events,
		"count":  len(events),
	})
}

// GetAnomalyHistory queries persisted events with full filtering.
func GetAnomalyHistory(c middleware.Context) {
	filter := storage.EventFilter{
		ConnectionID: connectionScope(c),
		Severity:     models.Severity(c.Query("severity")),
		Metric:       models.MetricKind(c.Query("metricType")),
		StartTime:    int64Query(c, "start_time"),
		EndTime:      int64Query(c, "end_time"),
		Limit:        intQuery(c, "limit", 100),
		Offset:       intQuery(c, "offset", 0),
	}

	events, err := store.GetAnomalyEvents(c.Request.Context(), filter)
	if err != nil {
		logger.WithError(err).Error("Failed to query anomaly history")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to query anomaly history"})
		return
	}

	c.JSON(http.StatusOK, middleware.H{
		"events": events,
		"count":  len(events),
	})
}

// GetAnomalyGroups returns recent correlated groups, newest first.
func GetAnomalyGroups(c middleware.Context) {
	limit := intQuery(c, "limit", 50)
	pattern := models.Pattern(c.Query("pattern"))

	groups := corr.RecentGroups(limit, pattern, connectionScope(c))
	c.JSON(http.StatusOK, middleware.H{
		"groups": groups,
		"count":  len(groups),
	})
}

// GetGroupHistory queries persisted groups with full filtering.
func GetGroupHistory(c middleware.Context) {
	filter := storage.GroupFilter{
		ConnectionID: connectionScope(c),
		Pattern:      models.Pattern(c.Query("pattern")),
		StartTime:    int64Query(c, "start_time"),
		EndTime:      int64Query(c, "end_time"),
		Limit:        intQuery(c, "limit", 50),
	}

	groups, err := store.GetCorrelatedGroups(c.Request.Context(), filter)
	if err != nil {
		logger.WithError(err).Error("Failed to query group history")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Failed to query group history"})
		return
	}

	c.JSON(http.StatusOK, middleware.H{
		"groups": groups,
		"count":  len(groups),
	})
}

// GetAnomalySummary aggregates the recent event and group activity for
// the request's connection scope.
func GetAnomalySummary(c middleware.Context) {
	scope := connectionScope(c)
	summary := eng.EventStats(scope)
	total, byPattern := corr.GroupStats(scope)
	summary.TotalGroups = total
	summary.ByPattern = byPattern

	c.JSON(http.StatusOK, summary)
}

// GetBufferStats reports the scoped (connection, metric) rolling windows.
func GetBufferStats(c middleware.Context) {
	buffers := eng.BufferStats(connectionScope(c))
	c.JSON(http.StatusOK, middleware.H{
		"buffers": buffers,
		"count":   len(buffers),
	})
}

// ResolveAnomaly marks one event resolved and notifies subscribers.
// Resolving an already-resolved event succeeds without side effects.
func ResolveAnomaly(c middleware.Context) {
	id := c.Param("id")
	if !eng.Resolve(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Anomaly event not found"})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"resolved": id})
}

// ResolveGroup marks a correlated group and its members resolved.
func ResolveGroup(c middleware.Context) {
	correlationID := c.Param("correlationId")
	if !corr.ResolveGroup(c.Request.Context(), correlationID) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Correlated group not found"})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"resolved": correlationID})
}

// ClearResolvedAnomalies drops resolved events within the request's
// connection scope.
func ClearResolvedAnomalies(c middleware.Context) {
	cleared := eng.ClearResolved(c.Request.Context(), connectionScope(c))
	c.JSON(http.StatusOK, middleware.H{"cleared": cleared})
}
