// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package homemic_routers

import (
	"github.com/gin-gonic/gin"

	batch_api "github.com/homemicai/api/batch-api"
	internal_ingest "github.com/homemicai/api/batch-api/internal_ingest"
	node_api "github.com/homemicai/api/node-api"
	internal_registry "github.com/homemicai/api/node-api/internal_registry"
	privacy_api "github.com/homemicai/api/privacy-api"
	internal_zones "github.com/homemicai/api/privacy-api/internal_zones"
	realtime_api "github.com/homemicai/api/realtime-api"
	internal_hub "github.com/homemicai/api/realtime-api/internal_hub"
	system_api "github.com/homemicai/api/system-api"
	"github.com/homemicai/config"
	internal_transcribe "github.com/homemicai/internal/transcribe"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
)

func NodeApiRoute(
	Cfg *config.AppConfig,
	Engine *gin.Engine,
	Logger commons.Logger,
	Registry *internal_registry.Registry,
	Hub *internal_hub.Hub,
) {
	api := node_api.NewNodeApi(Cfg, Logger, Registry, Hub)
	group := Engine.Group("/api/nodes")
	group.POST("", api.Register)
	group.GET("", api.List)
	group.GET("/:id", api.Get)
	group.PUT("/:id", api.Update)
	group.DELETE("/:id", api.Delete)
	group.POST("/:id/heartbeat", api.Heartbeat)
	group.POST("/:id/audio-level", api.AudioLevel)
}

func BatchApiRoute(
	Cfg *config.AppConfig,
	Engine *gin.Engine,
	Logger commons.Logger,
	Database connectors.DatabaseConnector,
	Coordinator *internal_ingest.Coordinator,
) {
	api := batch_api.NewBatchApi(Cfg, Logger, Database, Coordinator)
	group := Engine.Group("/api/batch")
	group.POST("/upload", api.Upload)
	group.GET("/history", api.History)
	group.GET("/clips/:id", api.ClipDetail)
	group.GET("/clips/:id/audio", api.ClipAudio)
	group.DELETE("/clips/:id", api.DeleteClip)
}

func PrivacyApiRoute(
	Cfg *config.AppConfig,
	Engine *gin.Engine,
	Logger commons.Logger,
	Registry *internal_registry.Registry,
	Zones *internal_zones.Service,
) {
	api := privacy_api.NewPrivacyApi(Cfg, Logger, Registry, Zones)
	group := Engine.Group("/api/privacy")
	group.POST("/mute", api.Mute)
	group.POST("/unmute/:id", api.Unmute)
	group.GET("/status/:id", api.Status)
	group.GET("/zones", api.Zones)
	group.POST("/mute-all", api.MuteAll)
	group.POST("/unmute-all", api.UnmuteAll)
}

func RealtimeApiRoute(
	Cfg *config.AppConfig,
	Engine *gin.Engine,
	Logger commons.Logger,
	Database connectors.DatabaseConnector,
	Hub *internal_hub.Hub,
	Registry *internal_registry.Registry,
	Zones *internal_zones.Service,
	Transcriber internal_transcribe.Transcriber,
) {
	api := realtime_api.NewRealtimeApi(Cfg, Logger, Database, Hub, Registry, Zones, Transcriber)
	Engine.GET("/ws", api.ObserverSocket)
	Engine.GET("/ws/node/:id", api.NodeSocket)
}

func SystemApiRoute(
	Cfg *config.AppConfig,
	Engine *gin.Engine,
	Logger commons.Logger,
	Database connectors.DatabaseConnector,
	Registry *internal_registry.Registry,
) *system_api.SystemApi {
	api := system_api.NewSystemApi(Cfg, Logger, Database, Registry)
	Engine.GET("/", api.Healthz)
	Engine.GET("/healthz", api.Healthz)
	Engine.GET("/api/status", api.Status)
	Engine.GET("/api/control/health", api.Health)
	return api
}
