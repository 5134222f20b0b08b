// internal/api/api.go
package api

import (
	"strings"
	"time"

	"github.com/andresuchdata/tripdata-ingest/internal/api/handlers"
	"github.com/andresuchdata/tripdata-ingest/internal/api/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Services struct {
	Ingest handlers.IngestService
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

func NewRouter(services *Services, allowedOrigins []string, log zerolog.Logger) *gin.Engine {
	router := gin.New()

	// Add middleware
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	corsConfig := cors.Config{
		AllowOrigins:  []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	gatherer := prometheus.DefaultGatherer
	if services != nil && services.Gatherer != nil {
		gatherer = services.Gatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if services != nil && services.Ingest != nil {
		runsHandler := handlers.NewRunsHandler(services.Ingest)
		router.GET("/health", runsHandler.Health)

		apiGroup := router.Group("/api/v1")
		{
			apiGroup.GET("/runs", runsHandler.ListRuns)
			apiGroup.POST("/runs", runsHandler.TriggerRun)
			apiGroup.GET("/partitions", runsHandler.ListPartitions)
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
