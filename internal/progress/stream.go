package progress

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"planwise/internal/logging"
	"planwise/internal/scoring"
	"planwise/internal/session"
)

const (
	pollInterval    = 1500 * time.Millisecond
	maxReadFailures = 5
)

// SessionReader polls the live session row.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*session.AgentSession, error)
}

// ScoreReader polls the strategic scores and retry state.
type ScoreReader interface {
	GetScores(ctx context.Context, sessionID, statusFilter string) (*scoring.ScoresResult, error)
}

// Snapshot is one progress frame.
type Snapshot struct {
	SessionID     string              `json:"session_id"`
	Status        session.Status      `json:"status"`
	ScoredTasks   int                 `json:"scored_tasks"`
	QueueState    scoring.Diagnostics `json:"queue_state"`
	HasPlan       bool                `json:"has_plan"`
	ErrorCount    int                 `json:"error_count"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

// progressPct is a coarse monotonic estimate. Generation dominates the run;
// the plan only lands at completion, so a running session sits low until the
// scoring batch starts filling in. Only a completed session reports 100; a
// failed one keeps its last partial estimate.
func (s Snapshot) progressPct() int {
	if s.Status == session.StatusCompleted {
		return 100
	}
	pct := 10
	if s.HasPlan {
		pct = 60
	}
	pct += s.ScoredTasks * 5
	if pct > 95 {
		pct = 95
	}
	return pct
}

func (s Snapshot) failureMessage() string {
	if s.FailureReason != "" {
		return s.FailureReason
	}
	return "session failed"
}

// Streamer pushes session progress to clients over SSE or WebSocket. It polls
// the stores rather than subscribing: the pipeline writes through the same
// session row the poll reads, so a 1.5s cadence is fresh enough and survives
// worker restarts.
type Streamer struct {
	sessions SessionReader
	scores   ScoreReader
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewStreamer(sessions SessionReader, scores ScoreReader) *Streamer {
	return &Streamer{
		sessions: sessions,
		scores:   scores,
		interval: pollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetIntervalForTest shrinks the poll cadence.
func (s *Streamer) SetIntervalForTest(d time.Duration) {
	s.interval = d
}

// poll builds the next frame. ok is false on a read failure.
func (s *Streamer) poll(ctx context.Context, sessionID string) (Snapshot, bool) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, false
	}
	meta := sess.ExecMeta()
	snap := Snapshot{
		SessionID:     sessionID,
		Status:        sess.Status,
		HasPlan:       sess.Plan().IsParsed(),
		ErrorCount:    meta.ErrorCount,
		FailureReason: meta.FailureReason,
	}
	if res, err := s.scores.GetScores(ctx, sessionID, ""); err == nil {
		snap.ScoredTasks = len(res.Scores)
		snap.QueueState = res.QueueState
	}
	return snap, true
}

// ServeSSE streams progress frames as server-sent events until the session
// reaches a terminal state, the client goes away, or reads fail 5 times in a
// row. Each changed frame fans out as session, scores, and progress events;
// clients take the last progress event as the authoritative percentage and
// status. An unchanged frame degrades to a heartbeat; a single read failure
// emits a warning and keeps the stream open. A failed session closes with a
// final error event carrying the failure reason.
func (s *Streamer) ServeSSE(c *gin.Context, sessionID string) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last Snapshot
	failures := 0
	for {
		snap, ok := s.poll(ctx, sessionID)
		switch {
		case !ok:
			failures++
			if failures >= maxReadFailures {
				c.SSEvent("error", gin.H{"message": "session unreadable, closing stream"})
				c.Writer.Flush()
				return
			}
			c.SSEvent("warning", gin.H{"message": "progress read failed, retrying"})
		case reflect.DeepEqual(snap, last):
			failures = 0
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().Unix()})
		default:
			failures = 0
			last = snap
			c.SSEvent("session", gin.H{"session_id": snap.SessionID, "status": snap.Status, "has_plan": snap.HasPlan, "error_count": snap.ErrorCount})
			c.SSEvent("scores", gin.H{"scored_tasks": snap.ScoredTasks, "queue_state": snap.QueueState})
			c.SSEvent("progress", gin.H{"progress_pct": snap.progressPct(), "status": snap.Status})
		}
		c.Writer.Flush()

		if ok && snap.Status != session.StatusRunning {
			if snap.Status == session.StatusFailed {
				c.SSEvent("error", gin.H{"message": snap.failureMessage(), "error_count": snap.ErrorCount})
			} else {
				c.SSEvent("progress", gin.H{"progress_pct": 100, "status": snap.Status})
			}
			c.Writer.Flush()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type wsFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ServeWS is the WebSocket flavor of the same loop for clients behind proxies
// that buffer SSE.
func (s *Streamer) ServeWS(c *gin.Context, sessionID string) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.EventError("progress_ws_upgrade_failed", err, map[string]interface{}{
			"session_id": sessionID,
		})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only serve to notice the peer closing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last Snapshot
	failures := 0
	for {
		snap, ok := s.poll(ctx, sessionID)
		var frames []wsFrame
		switch {
		case !ok:
			failures++
			if failures >= maxReadFailures {
				_ = conn.WriteJSON(wsFrame{Event: "error", Data: "session unreadable, closing stream"})
				return
			}
			frames = []wsFrame{{Event: "warning", Data: "progress read failed, retrying"}}
		case reflect.DeepEqual(snap, last):
			failures = 0
			frames = []wsFrame{{Event: "heartbeat"}}
		default:
			failures = 0
			last = snap
			frames = []wsFrame{
				{Event: "session", Data: gin.H{"session_id": snap.SessionID, "status": snap.Status, "has_plan": snap.HasPlan, "error_count": snap.ErrorCount}},
				{Event: "scores", Data: gin.H{"scored_tasks": snap.ScoredTasks, "queue_state": snap.QueueState}},
				{Event: "progress", Data: gin.H{"progress_pct": snap.progressPct(), "status": snap.Status}},
			}
		}
		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}

		if ok && snap.Status != session.StatusRunning {
			if snap.Status == session.StatusFailed {
				_ = conn.WriteJSON(wsFrame{Event: "error", Data: gin.H{"message": snap.failureMessage(), "error_count": snap.ErrorCount}})
			} else {
				_ = conn.WriteJSON(wsFrame{Event: "progress", Data: gin.H{"progress_pct": 100, "status": snap.Status}})
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
