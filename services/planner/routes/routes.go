// Copyright (C) 2025 Draftforge Labs (eng@draftforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draftforge/draftforge/services/planner/handlers"
)

// SetupRoutes registers the planner's control surface on the router.
func SetupRoutes(router *gin.Engine, handler *handlers.PipelineHandler) {
	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		pipelines := v1.Group("/pipelines")
		{
			pipelines.POST("/:jobId/start", handler.StartPipeline)
			pipelines.POST("/:jobId/pause", handler.RequestPause)
			pipelines.GET("/:jobId/status", handler.GetStatus)
			pipelines.GET("/:jobId/events/ws", handler.StreamEvents)
			pipelines.DELETE("/:jobId", handler.Clear)
		}
	}
}
