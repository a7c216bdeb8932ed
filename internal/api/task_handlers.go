package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"planwise/internal/apperr"
	"planwise/internal/auth"
	"planwise/internal/manualtask"
	"planwise/internal/task"
)

// GET /tasks
func listTasksHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := d.Tasks.ListActive(c.Request.Context(), auth.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	}
}

// PUT /tasks/:id/status
func setTaskStatusHandler(d Deps) gin.HandlerFunc {
	type request struct {
		Status string `json:"status"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		err := d.Tasks.SetStatus(c.Request.Context(), c.Param("id"), auth.UserID(c), task.Status(req.Status))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"task_id": c.Param("id"), "status": req.Status})
	}
}

// POST /tasks/quality
func evaluateQualityHandler(d Deps) gin.HandlerFunc {
	type request struct {
		Texts          []string `json:"texts"`
		ForceHeuristic bool     `json:"force_heuristic"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		if len(req.Texts) == 0 {
			respondErr(c, apperr.Validation("nothing to evaluate", map[string]string{"texts": "required"}))
			return
		}
		evals, summary, err := d.Quality.Evaluate(c.Request.Context(), req.Texts, req.ForceHeuristic)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"evaluations": evals, "summary": summary})
	}
}

// POST /documents/extract
func extractDocumentHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in task.ExtractInput
		if err := c.ShouldBindJSON(&in); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		in.UserID = auth.UserID(c)
		res, err := d.Extractor.Extract(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// POST /manual-tasks
func createManualTaskHandler(d Deps) gin.HandlerFunc {
	type request struct {
		TaskText    string `json:"task_text"`
		ForceCreate bool   `json:"force_create"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		res, err := d.ManualTasks.Create(c.Request.Context(), auth.UserID(c), req.TaskText, req.ForceCreate)
		if err != nil {
			// A duplicate conflict still carries the recorded conflict row.
			if apperr.CodeOf(err) == manualtask.CodeDuplicateTask && res != nil {
				c.JSON(http.StatusConflict, gin.H{
					"error": gin.H{
						"code":              "DUPLICATE_TASK",
						"message":           err.Error(),
						"duplicate_task_id": res.ManualTask.DuplicateTaskID,
						"similarity_score":  res.ManualTask.SimilarityScore,
						"manual_task_id":    res.ManualTask.ID,
					},
				})
				return
			}
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// GET /manual-tasks
func listManualTasksHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := d.ManualTasks.List(c.Request.Context(), auth.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"manual_tasks": tasks})
	}
}

// POST /manual-tasks/:id/override-discard
func overrideDiscardHandler(d Deps) gin.HandlerFunc {
	type request struct {
		Justification string `json:"justification"`
	}
	return func(c *gin.Context) {
		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid request body", map[string]string{"body": err.Error()}))
			return
		}
		mt, err := d.ManualTasks.OverrideDiscard(c.Request.Context(), c.Param("id"), auth.UserID(c), req.Justification)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, mt)
	}
}

// POST /manual-tasks/:id/done
func markManualTaskDoneHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		mt, err := d.ManualTasks.MarkDone(c.Request.Context(), c.Param("id"), auth.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, mt)
	}
}

// DELETE /manual-tasks/:id
func deleteManualTaskHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := d.ManualTasks.Delete(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
