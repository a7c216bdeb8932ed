package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"planwise/internal/apperr"
	"planwise/internal/auth"
	"planwise/internal/gap"
)

// POST /sessions/:id/gaps/suggest
func suggestBridgingHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := d.Gaps.SuggestBridging(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// POST /sessions/:id/gaps/accept
func acceptBridgingHandler(d Deps) gin.HandlerFunc {
	type request struct {
		AnalysisSessionID string           `json:"analysis_session_id"`
		Accepted          []gap.Acceptance `json:"accepted"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		res, err := d.Acceptor.Accept(c.Request.Context(), req.AnalysisSessionID, c.Param("id"), req.Accepted)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// POST /coverage
func coverageHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := auth.UserID(c)
		active, err := d.Outcomes.GetActive(ctx, userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		tasks, err := d.Tasks.ListActive(ctx, userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		texts := make([]string, 0, len(tasks))
		for _, t := range tasks {
			texts = append(texts, t.TaskText)
		}
		report, err := d.Coverage.Analyze(ctx, active.AssembledText, texts)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
