// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insightrelay/insightrelay/services/relay/handlers"
	"github.com/insightrelay/insightrelay/services/relay/pipeline"
)

// SetupRoutes registers the relay admin API on the router. The
// telemetry middleware wraps everything under /relay so the admin
// endpoints themselves show up as request telemetry.
func SetupRoutes(router *gin.Engine, hub *pipeline.Hub) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	relay := router.Group("/relay")
	relay.Use(pipeline.Middleware(hub))
	{
		relay.GET("/status", handlers.Status(hub))
		relay.GET("/queue", handlers.Queue(hub))
		relay.POST("/queue/flush", handlers.FlushQueue(hub))
		relay.POST("/test", handlers.SendTest(hub))
	}
}
