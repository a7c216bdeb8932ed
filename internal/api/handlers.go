package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"planwise/internal/apperr"
	"planwise/internal/config"
)

// GET /health
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// GET /config
func configHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only return non-sensitive config fields
		c.JSON(http.StatusOK, gin.H{
			"server": gin.H{
				"host":    cfg.Server.Host,
				"port":    cfg.Server.Port,
				"subpath": cfg.Server.Subpath,
			},
			"engine": gin.H{
				"generator_model":             cfg.Engine.GeneratorModel.Name,
				"evaluator_model":             cfg.Engine.EvaluatorModel.Name,
				"coverage_threshold":          cfg.Engine.CoverageThreshold,
				"coverage_fallback_threshold": cfg.Engine.CoverageFallbackThreshold,
			},
		})
	}
}

// respondErr maps a service error to the wire shape. Machine codes and field
// details ride along when present so clients can branch without parsing
// messages.
func respondErr(c *gin.Context, err error) {
	body := gin.H{"message": err.Error()}
	var e *apperr.Error
	if errors.As(err, &e) {
		body["message"] = e.Message
		if e.Code != "" {
			body["code"] = e.Code
		}
		if len(e.Fields) > 0 {
			body["fields"] = e.Fields
		}
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": body})
}
