package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"poolbridge/internal/repository"
	"poolbridge/internal/service"
)

// Request DTO for device registration.
type registerDeviceRequest struct {
	Name               string `json:"name"`
	SerialNumber       string `json:"serial_number" binding:"required"`
	Email              string `json:"email" binding:"required"`
	Password           string `json:"password" binding:"required"`
	RefreshIntervalSec int    `json:"refresh_interval_s,omitempty"`
}

// @Summary      Register device
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        body  body  registerDeviceRequest  true  "Device payload"
// @Success      201   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/devices [post]
// @Security     BearerAuth
func (h *Handler) registerDevice(c *gin.Context) {
	var req registerDeviceRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	d, err := h.services.Devices.Register(c.Request.Context(), service.RegisterParams{
		Name:               req.Name,
		SerialNumber:       req.SerialNumber,
		Email:              req.Email,
		Password:           req.Password,
		RefreshIntervalSec: req.RefreshIntervalSec,
	})
	if err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, err.Error(), "device_register_failed", err, "serial", req.SerialNumber)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// @Summary      List devices
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, devices"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/devices [get]
// @Security     BearerAuth
func (h *Handler) listDevices(c *gin.Context) {
	devices, err := h.services.Devices.List(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to list devices", "device_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(devices),
		"devices": devices,
	})
}

// @Summary      Remove device
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id} [delete]
// @Security     BearerAuth
func (h *Handler) removeDevice(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Devices.Remove(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to remove device", "device_remove_failed", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusRemoved})
}

// @Summary      Reload one device
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id}/reload [post]
// @Security     BearerAuth
func (h *Handler) reloadDevice(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Devices.Reload(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to reload device", "device_reload_failed", err, "id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusReloaded})
}

// @Summary      Reload all devices
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/devices/reload [post]
// @Security     BearerAuth
func (h *Handler) reloadAll(c *gin.Context) {
	if err := h.services.Devices.Reload(c.Request.Context(), ""); err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to reload devices", "device_reload_all_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusReloaded})
}
