package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"planwise/internal/apperr"
	"planwise/internal/auth"
	"planwise/internal/outcome"
)

// POST /outcomes
func activateOutcomeHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in outcome.CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		in.UserID = auth.UserID(c)
		o, err := d.Outcomes.Activate(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

// GET /outcomes/active
func getActiveOutcomeHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := d.Outcomes.GetActive(c.Request.Context(), auth.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// DELETE /outcomes/:id
func deactivateOutcomeHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := d.Outcomes.Deactivate(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deactivated": true})
	}
}

// PUT /integrations/:provider
func saveIntegrationHandler(d Deps) gin.HandlerFunc {
	type request struct {
		Token string `json:"token"`
	}
	return func(c *gin.Context) {
		if d.Integrations == nil {
			respondErr(c, apperr.New(apperr.KindValidation, "integration storage requires encryption_key in config"))
			return
		}
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		row, err := d.Integrations.Save(c.Request.Context(), auth.UserID(c), c.Param("provider"), req.Token)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// GET /integrations
func listIntegrationsHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Integrations == nil {
			respondErr(c, apperr.New(apperr.KindValidation, "integration storage requires encryption_key in config"))
			return
		}
		rows, err := d.Integrations.List(c.Request.Context(), auth.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"integrations": rows})
	}
}

// DELETE /integrations/:provider
func deleteIntegrationHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Integrations == nil {
			respondErr(c, apperr.New(apperr.KindValidation, "integration storage requires encryption_key in config"))
			return
		}
		if err := d.Integrations.Delete(c.Request.Context(), auth.UserID(c), c.Param("provider")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// GET /diagnostics/queue
func queueDiagnosticsHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Scores.Queue().GetDiagnostics())
	}
}

// GET /diagnostics/logs/:operation?limit=20
func recentLogsHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		logs, err := d.PLog.Recent(c.Param("operation"), limit)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs})
	}
}
