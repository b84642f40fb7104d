package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gopherai-docqa/internal/bootstrap"
	"gopherai-docqa/internal/transport/http/handler"
	"gopherai-docqa/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(app.Logger.With("component", "http")))

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	maxUpload := int64(app.Config.App.MaxUploadMB) << 20
	documentHandler := handler.NewDocumentHandler(app.Documents, maxUpload)

	v1 := router.Group("/api/v1")
	documents := v1.Group("/documents")
	documents.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	documents.POST("", documentHandler.Upload)
	documents.GET("", documentHandler.List)
	documents.GET("/:id", documentHandler.Get)
	documents.GET("/:id/content", documentHandler.Content)
	documents.GET("/:id/summary", documentHandler.Summary)
	documents.POST("/:id/ask", documentHandler.Ask)
	documents.DELETE("/:id", documentHandler.Delete)

	return router
}
