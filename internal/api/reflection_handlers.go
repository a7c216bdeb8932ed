package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"planwise/internal/apperr"
	"planwise/internal/auth"
)

// POST /reflections
func createReflectionHandler(d Deps) gin.HandlerFunc {
	type request struct {
		Text string `json:"text"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		res, err := d.Reflections.Create(c.Request.Context(), auth.UserID(c), req.Text)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// GET /reflections
func listReflectionsHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		reflections, err := d.Reflections.List(c.Request.Context(), auth.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reflections": reflections})
	}
}

// PUT /reflections/:id/toggle
func toggleReflectionHandler(d Deps) gin.HandlerFunc {
	type request struct {
		IsActive bool `json:"is_active"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		r, err := d.Reflections.Toggle(c.Request.Context(), c.Param("id"), auth.UserID(c), req.IsActive)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

// DELETE /reflections/:id
func deleteReflectionHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := d.Reflections.Delete(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// POST /sessions/:id/adjust
func adjustPrioritiesHandler(d Deps) gin.HandlerFunc {
	type request struct {
		ActiveReflectionIDs []string `json:"active_reflection_ids"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		res, err := d.Reflections.AdjustPriorities(c.Request.Context(), c.Param("id"), req.ActiveReflectionIDs)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
