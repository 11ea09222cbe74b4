package handlers

import (
	"poolbridge/internal/logger"
	"poolbridge/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health and metrics endpoints
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// WebSocket push of device state changes — same port
	router.GET("/ws/devices/:id", h.wsDevice)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerDeviceRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerDeviceRoutes(api *gin.RouterGroup) {
	devices := api.Group("/devices")
	{
		devices.POST("/", h.registerDevice)
		devices.GET("/", h.listDevices)
		devices.POST("/reload", h.reloadAll)
		devices.DELETE("/:id", h.removeDevice)
		devices.POST("/:id/reload", h.reloadDevice)

		devices.GET("/:id/state", h.getState)
		devices.GET("/:id/health", h.getHealth)
		devices.POST("/:id/refresh", h.requestRefresh)
		devices.PUT("/:id/interval", h.setInterval)

		// Body example: {"field":"ph_sp","value":7.2}
		devices.POST("/:id/writes", h.submitWrite)
		devices.PUT("/:id/schedules/:key", h.setSchedule)
		devices.DELETE("/:id/schedules/:key", h.disableSchedule)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
