package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"poolbridge/internal/coordinator"
	"poolbridge/internal/service"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK        = "ok"
	statusApplied   = "applied"
	statusAccepted  = "accepted"
	statusDeferred  = "deferred"
	statusRemoved   = "removed"
	statusReloaded  = "reloaded"
	statusScheduled = "schedule_set"
	statusDisabled  = "schedule_disabled"

	errGetState        = "failed to load state"
	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// Map a write-path service error onto an HTTP status.
func writeErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrDeviceNotRunning):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrCommandFailed):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// Request DTO for a field write.
type writeRequest struct {
	Field string `json:"field" binding:"required"`
	Value any    `json:"value"`
}

// Request DTO for a partial schedule edit.
type scheduleRequest struct {
	Start string `json:"start,omitempty"` // HH:MM
	End   string `json:"end,omitempty"`   // HH:MM
	RPM   *int   `json:"rpm,omitempty"`   // variable speed pump schedules only
}

type intervalRequest struct {
	Seconds int `json:"seconds" binding:"required"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Get device state
// @Description  Returns the last fetched snapshot. 204 until the first poll succeeds.
// @Tags         pool
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Success      204  "no snapshot yet"
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id}/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	id := c.Param("id")
	snap, ok, err := h.services.Monitoring.Snapshot(id)
	if err != nil {
		h.logAndJSONError(c, http.StatusNotFound, errGetState, "device_get_state_failed", err, "id", id)
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary      Get device poll health
// @Tags         pool
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id}/health [get]
// @Security     BearerAuth
func (h *Handler) getHealth(c *gin.Context) {
	id := c.Param("id")
	health, err := h.services.Monitoring.Health(id)
	if err != nil {
		h.logAndJSONError(c, http.StatusNotFound, "device not running", "device_health_failed", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, health)
}

// @Summary      Request immediate refresh
// @Description  Asks the poller for an out-of-band fetch. Returns 409 if a fetch is already running or writes are settling.
// @Tags         pool
// @Produce      json
// @Success      202  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/devices/{id}/refresh [post]
// @Security     BearerAuth
func (h *Handler) requestRefresh(c *gin.Context) {
	id := c.Param("id")
	err := h.services.Pool.RequestRefresh(id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": statusAccepted})
	case errors.Is(err, coordinator.ErrRefreshDeferred):
		c.JSON(http.StatusConflict, gin.H{"status": statusDeferred, "error": err.Error()})
	case errors.Is(err, coordinator.ErrRefreshInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrDeviceNotRunning):
		c.JSON(http.StatusNotFound, gin.H{"error": "device not running"})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, "refresh failed", "device_refresh_failed", err, "id", id)
	}
}

// @Summary      Set refresh interval
// @Description  Applies and persists the polling cadence; the value is clamped to the allowed range and returned.
// @Tags         pool
// @Accept       json
// @Produce      json
// @Param        body  body  intervalRequest  true  "Interval payload"
// @Success      200   {object}  map[string]int
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/devices/{id}/interval [put]
// @Security     BearerAuth
func (h *Handler) setInterval(c *gin.Context) {
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	id := c.Param("id")
	applied, err := h.services.Pool.SetRefreshInterval(c.Request.Context(), id, req.Seconds)
	if err != nil {
		h.logAndJSONError(c, writeErrorStatus(err), err.Error(), "device_set_interval_failed", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seconds": applied})
}

// @Summary      Submit field write
// @Description  Queues a write. Rapid writes to the same field coalesce into one outbound command. Responds once the command is acknowledged.
// @Tags         pool
// @Accept       json
// @Produce      json
// @Param        body  body  writeRequest  true  "Write payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/devices/{id}/writes [post]
// @Security     BearerAuth
func (h *Handler) submitWrite(c *gin.Context) {
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()
	if err := h.services.Pool.SubmitWrite(ctx, id, req.Field, req.Value, originOf(c)); err != nil {
		h.logAndJSONError(c, writeErrorStatus(err), err.Error(), "device_write_failed", err, "id", id, "field", req.Field)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusApplied, "field": req.Field})
}

// @Summary      Set schedule
// @Description  Partial edit: omitted members keep their current value. RPM applies only to variable speed pump schedules.
// @Tags         pool
// @Accept       json
// @Produce      json
// @Param        body  body  scheduleRequest  true  "Schedule payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/devices/{id}/schedules/{key} [put]
// @Security     BearerAuth
func (h *Handler) setSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	id := c.Param("id")
	key := c.Param("key")
	params := service.ScheduleParams{
		Start: req.Start,
		End:   req.End,
		RPM:   req.RPM,
	}
	if err := h.services.Pool.SetSchedule(c.Request.Context(), id, key, params, originOf(c)); err != nil {
		h.logAndJSONError(c, writeErrorStatus(err), err.Error(), "device_set_schedule_failed", err, "id", id, "schedule", key)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusScheduled, "schedule": key})
}

// @Summary      Disable schedule
// @Description  Zeroes the timer slot. Equivalent to setting 00:00-00:00.
// @Tags         pool
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/devices/{id}/schedules/{key} [delete]
// @Security     BearerAuth
func (h *Handler) disableSchedule(c *gin.Context) {
	id := c.Param("id")
	key := c.Param("key")
	if err := h.services.Pool.DisableSchedule(c.Request.Context(), id, key, originOf(c)); err != nil {
		h.logAndJSONError(c, writeErrorStatus(err), err.Error(), "device_disable_schedule_failed", err, "id", id, "schedule", key)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusDisabled, "schedule": key})
}

// originOf tags queued writes with the authenticated user for the event log.
func originOf(c *gin.Context) string {
	if v, ok := c.Get(ctxUserID); ok {
		if id, ok := v.(int); ok {
			return "user:" + strconv.Itoa(id)
		}
	}
	return "api"
}
