package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"planwise/internal/apperr"
	"planwise/internal/auth"
	"planwise/internal/task"
)

// POST /sessions
func startSessionHandler(d Deps) gin.HandlerFunc {
	type request struct {
		OutcomeID string `json:"outcome_id"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		userID := auth.UserID(c)
		if req.OutcomeID == "" {
			active, err := d.Outcomes.GetActive(c.Request.Context(), userID)
			if err != nil {
				respondErr(c, err)
				return
			}
			req.OutcomeID = active.ID
		}
		sessionID, err := d.Sessions.StartSession(c.Request.Context(), userID, req.OutcomeID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": "running"})
	}
}

// GET /sessions/:id
func getSessionHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := d.Sessions.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		if sess.UserID != auth.UserID(c) {
			respondErr(c, apperr.New(apperr.KindPermission, "session belongs to another user"))
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// GET /sessions/latest
func latestCompletedHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserID(c)
		active, err := d.Outcomes.GetActive(c.Request.Context(), userID)
		if err != nil {
			respondErr(c, err)
			return
		}
		sess, err := d.Sessions.GetLatestCompleted(c.Request.Context(), userID, active.ID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// DELETE /sessions/:id
func cancelSessionHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cancelled := d.Sessions.Cancel(c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
	}
}

// GET /sessions/:id/stream
func streamSessionHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		d.Streamer.ServeSSE(c, c.Param("id"))
	}
}

// GET /ws/sessions/:id
func streamSessionWSHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		d.Streamer.ServeWS(c, c.Param("id"))
	}
}

// GET /sessions/:id/scores?status=failed
func getScoresHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := d.Scores.GetScores(c.Request.Context(), c.Param("id"), c.Query("status"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// POST /tasks/:id/override
func applyOverrideHandler(d Deps) gin.HandlerFunc {
	type request struct {
		Impact      float64 `json:"impact"`
		EffortHours float64 `json:"effort_hours"`
		Reason      string  `json:"reason"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		res, err := d.Scores.ApplyManualOverride(c.Request.Context(), auth.UserID(c), c.Param("id"), task.Override{
			Impact:      req.Impact,
			EffortHours: req.EffortHours,
			Reason:      req.Reason,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
