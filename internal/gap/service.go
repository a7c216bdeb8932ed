package gap

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"planwise/internal/embedding"
	"planwise/internal/logging"
	"planwise/internal/outcome"
	"planwise/internal/plan"
	"planwise/internal/session"
)

// SessionStore is the slice of the session controller gap analysis uses.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*session.AgentSession, error)
	IsCurrent(ctx context.Context, sessionID string) bool
	UpdatePlan(ctx context.Context, sessionID string, p *plan.Plan) error
	UpdateResult(ctx context.Context, sessionID string, result interface{}) error
}

// OutcomeReader supplies the outcome statement for bridging prompts.
type OutcomeReader interface {
	GetActive(ctx context.Context, userID string) (*outcome.UserOutcome, error)
}

// resultDoc is the shape of the agent session's result attachment.
type resultDoc struct {
	GapAnalysis *AnalysisSession `json:"gap_analysis,omitempty"`
	Coverage    *CoverageReport  `json:"coverage,omitempty"`
}

// Service runs detection and bridging against a session's plan and persists
// the analysis attachment.
type Service struct {
	detector *Detector
	bridger  *Bridger
	sessions SessionStore
	outcomes OutcomeReader
	points   PointReader
	now      func() time.Time
}

func NewService(detector *Detector, bridger *Bridger, sessions SessionStore, outcomes OutcomeReader, points PointReader) *Service {
	return &Service{
		detector: detector,
		bridger:  bridger,
		sessions: sessions,
		outcomes: outcomes,
		points:   points,
		now:      time.Now,
	}
}

// DetectGaps runs pure detection over an explicit ordering.
func (s *Service) DetectGaps(ctx context.Context, orderedTaskIDs []string) ([]Gap, DetectionMetadata, error) {
	return s.detector.Detect(ctx, orderedTaskIDs)
}

// BridgingResult is the SuggestBridging response.
type BridgingResult struct {
	Gaps               []Gap             `json:"gaps"`
	Suggestions        []Suggestion      `json:"suggestions"`
	AnalysisSessionID  string            `json:"analysis_session_id"`
	PerformanceMetrics DetectionMetadata `json:"performance_metrics"`
}

// SuggestBridging detects gaps in a session's plan and generates bridging
// tasks for every gap at or above the confidence floor. The full analysis is
// stored on the session so a later accept can resume from it.
func (s *Service) SuggestBridging(ctx context.Context, sessionID string) (*BridgingResult, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p, err := sess.Plan().MustPlan()
	if err != nil {
		return nil, err
	}

	gaps, meta, err := s.detector.Detect(ctx, p.OrderedTaskIDs)
	if err != nil {
		return nil, err
	}

	points, err := s.points.GetTasks(ctx, p.OrderedTaskIDs)
	if err != nil {
		return nil, err
	}

	outcomeText := ""
	if oc, err := s.outcomes.GetActive(ctx, sess.UserID); err == nil {
		outcomeText = oc.AssembledText
	}

	analysis := &AnalysisSession{
		ID:                 uuid.New().String(),
		AgentSessionID:     sessionID,
		DetectedGaps:       gaps,
		PerformanceMetrics: meta,
		CreatedAt:          s.now(),
	}
	for _, id := range p.OrderedTaskIDs {
		snap := SnapshotTask{TaskID: id, TaskText: textOf(points, id)}
		for _, d := range p.Dependencies {
			if d.Target == id {
				snap.DependsOn = append(snap.DependsOn, d.Source)
			}
		}
		analysis.PlanSnapshot = append(analysis.PlanSnapshot, snap)
	}

	var suggestions []Suggestion
	for _, g := range gaps {
		if g.Confidence < bridgeConfidenceFloor {
			continue
		}
		sg, err := s.bridger.Suggest(ctx, g,
			textOf(points, g.PredecessorTaskID),
			textOf(points, g.SuccessorTaskID),
			outcomeText, sess.UserID)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, *sg)
	}
	analysis.GeneratedTasks = suggestions

	if err := s.saveAnalysis(ctx, sess, analysis); err != nil {
		return nil, err
	}

	logging.Event("gap_analysis_completed", map[string]interface{}{
		"session_id":           sessionID,
		"analysis_session_id":  analysis.ID,
		"total_pairs_analyzed": meta.TotalPairsAnalyzed,
		"gaps_detected":        meta.GapsDetected,
		"analysis_duration_ms": meta.AnalysisDurationMS,
	})

	return &BridgingResult{
		Gaps:               gaps,
		Suggestions:        suggestions,
		AnalysisSessionID:  analysis.ID,
		PerformanceMetrics: meta,
	}, nil
}

func textOf(points map[string]*embedding.TaskPoint, id string) string {
	if tp, ok := points[id]; ok && tp != nil {
		return tp.TaskText
	}
	return ""
}

func (s *Service) saveAnalysis(ctx context.Context, sess *session.AgentSession, analysis *AnalysisSession) error {
	doc := s.loadResult(sess)
	doc.GapAnalysis = analysis
	return s.sessions.UpdateResult(ctx, sess.ID, doc)
}

func (s *Service) loadResult(sess *session.AgentSession) resultDoc {
	var doc resultDoc
	if len(sess.Result) > 0 {
		_ = json.Unmarshal(sess.Result, &doc)
	}
	return doc
}

// clone deep-copies the attachment. The struct copy alone still shares the
// analysis pointer, so a rollback through it would restore mutated state.
func (d resultDoc) clone() resultDoc {
	raw, err := json.Marshal(d)
	if err != nil {
		return resultDoc{}
	}
	var out resultDoc
	_ = json.Unmarshal(raw, &out)
	return out
}
