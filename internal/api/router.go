package api

import (
	"github.com/gin-gonic/gin"

	"planwise/internal/auth"
	"planwise/internal/config"
	"planwise/internal/gap"
	"planwise/internal/logging"
	"planwise/internal/manualtask"
	"planwise/internal/outcome"
	"planwise/internal/progress"
	"planwise/internal/reflection"
	"planwise/internal/scoring"
	"planwise/internal/session"
	"planwise/internal/task"
)

// Deps bundles every service the router hands to handlers.
type Deps struct {
	Outcomes    *outcome.Service
	Sessions    *session.Controller
	Scores      *scoring.Service
	Gaps        *gap.Service
	Acceptor    *gap.Acceptor
	Coverage    *gap.CoveragePipeline
	Reflections *reflection.Service
	ManualTasks *manualtask.Service
	Tasks       *task.Service
	Extractor   *task.Extractor
	Quality     *task.QualityEvaluator
	Streamer    *progress.Streamer
	PLog        *logging.ProcessingLogger

	// Integrations is nil when no encryption key is configured.
	Integrations *outcome.Integrations
}

func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	r := gin.Default()
	subpath := cfg.Server.Subpath

	group := r.Group(subpath)
	authed := auth.Middleware(cfg)
	{
		group.GET("/health", healthHandler)
		group.GET("/config", configHandler(cfg))

		// Outcomes
		group.POST("/outcomes", authed, activateOutcomeHandler(d))
		group.GET("/outcomes/active", authed, getActiveOutcomeHandler(d))
		group.DELETE("/outcomes/:id", authed, deactivateOutcomeHandler(d))

		// Integrations
		group.PUT("/integrations/:provider", authed, saveIntegrationHandler(d))
		group.GET("/integrations", authed, listIntegrationsHandler(d))
		group.DELETE("/integrations/:provider", authed, deleteIntegrationHandler(d))

		// Tasks
		group.GET("/tasks", authed, listTasksHandler(d))
		group.PUT("/tasks/:id/status", authed, setTaskStatusHandler(d))
		group.POST("/tasks/:id/override", authed, applyOverrideHandler(d))
		group.POST("/tasks/quality", authed, evaluateQualityHandler(d))
		group.POST("/documents/extract", authed, extractDocumentHandler(d))

		// Manual tasks
		group.POST("/manual-tasks", authed, createManualTaskHandler(d))
		group.GET("/manual-tasks", authed, listManualTasksHandler(d))
		group.POST("/manual-tasks/:id/override-discard", authed, overrideDiscardHandler(d))
		group.POST("/manual-tasks/:id/done", authed, markManualTaskDoneHandler(d))
		group.DELETE("/manual-tasks/:id", authed, deleteManualTaskHandler(d))

		// Prioritization sessions
		group.POST("/sessions", authed, startSessionHandler(d))
		group.GET("/sessions/latest", authed, latestCompletedHandler(d))
		group.GET("/sessions/:id", authed, getSessionHandler(d))
		group.DELETE("/sessions/:id", authed, cancelSessionHandler(d))
		group.GET("/sessions/:id/stream", authed, streamSessionHandler(d))
		group.GET("/ws/sessions/:id", authed, streamSessionWSHandler(d))

		// Strategic scores
		group.GET("/sessions/:id/scores", authed, getScoresHandler(d))

		// Gap analysis
		group.POST("/sessions/:id/gaps/suggest", authed, suggestBridgingHandler(d))
		group.POST("/sessions/:id/gaps/accept", authed, acceptBridgingHandler(d))
		group.POST("/coverage", authed, coverageHandler(d))

		// Reflections
		group.POST("/reflections", authed, createReflectionHandler(d))
		group.GET("/reflections", authed, listReflectionsHandler(d))
		group.PUT("/reflections/:id/toggle", authed, toggleReflectionHandler(d))
		group.DELETE("/reflections/:id", authed, deleteReflectionHandler(d))
		group.POST("/sessions/:id/adjust", authed, adjustPrioritiesHandler(d))

		// Diagnostics
		group.GET("/diagnostics/queue", authed, queueDiagnosticsHandler(d))
		group.GET("/diagnostics/logs/:operation", authed, recentLogsHandler(d))
	}
	return r
}
