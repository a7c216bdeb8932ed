package gap

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"planwise/internal/apperr"
	"planwise/internal/plan"
	"planwise/internal/task"
)

// TaskCreator is the slice of the task service the acceptor uses.
type TaskCreator interface {
	Create(ctx context.Context, in task.CreateInput) (*task.TaskEmbedding, error)
	HardDelete(ctx context.Context, taskIDs []string) error
}

// Acceptor inserts accepted bridging tasks into the plan and the persistent
// dependency graph, with compensating rollback on partial failure.
type Acceptor struct {
	db       *gorm.DB
	tasks    TaskCreator
	sessions SessionStore
	service  *Service
}

func NewAcceptor(db *gorm.DB, tasks TaskCreator, sessions SessionStore, service *Service) *Acceptor {
	return &Acceptor{db: db, tasks: tasks, sessions: sessions, service: service}
}

// AcceptResult is the AcceptBridging response.
type AcceptResult struct {
	InsertedTaskIDs []string   `json:"inserted_task_ids"`
	UpdatedPlan     *plan.Plan `json:"updated_plan"`
}

// Accept validates and inserts a batch of accepted bridging tasks. Each task
// lands strictly between its predecessor and successor in the ordering, with
// both dependency edges persisted. A request against a replaced session is
// rejected rather than written into the superseded plan. Any failure after
// partial inserts rolls back the created embeddings and relationships and
// restores the session snapshot.
func (a *Acceptor) Accept(ctx context.Context, analysisSessionID, agentSessionID string, accepted []Acceptance) (*AcceptResult, error) {
	if len(accepted) == 0 {
		return nil, apperr.New(apperr.KindValidation, "no acceptances given")
	}

	sess, err := a.sessions.GetSession(ctx, agentSessionID)
	if err != nil {
		return nil, err
	}
	if !a.sessions.IsCurrent(ctx, agentSessionID) {
		return nil, apperr.WithCode(apperr.KindConflict, "SESSION_CHANGED", "session was replaced; re-run the analysis")
	}

	doc := a.service.loadResult(sess)
	if doc.GapAnalysis == nil || doc.GapAnalysis.ID != analysisSessionID {
		return nil, apperr.Newf(apperr.KindNotFound, "analysis session not found: %s", analysisSessionID)
	}

	current, err := sess.Plan().MustPlan()
	if err != nil {
		return nil, err
	}
	snapshot := current.Clone()
	snapshotDoc := doc.clone()

	updated := current.Clone()
	var insertedIDs []string
	var insertedEdgeIDs []uint

	rollback := func() {
		_ = a.tasks.HardDelete(context.Background(), insertedIDs)
		if len(insertedEdgeIDs) > 0 {
			a.db.Where("id IN ?", insertedEdgeIDs).Delete(&TaskRelationship{})
		}
		_ = a.sessions.UpdatePlan(context.Background(), agentSessionID, snapshot)
		_ = a.sessions.UpdateResult(context.Background(), agentSessionID, snapshotDoc)
	}

	for _, acc := range accepted {
		if err := validateAcceptance(acc, updated); err != nil {
			rollback()
			return nil, err
		}

		created, err := a.tasks.Create(ctx, task.CreateInput{
			UserID:    sess.UserID,
			TaskText:  acc.Task.TaskText,
			CreatedBy: "bridging",
		})
		if err != nil {
			rollback()
			return nil, err
		}
		insertedIDs = append(insertedIDs, created.TaskID)

		newEdges := []plan.Dependency{
			{Source: acc.PredecessorID, Target: created.TaskID, Relationship: plan.RelPrerequisite, Confidence: acc.Task.Confidence, DetectionMethod: "bridging"},
			{Source: created.TaskID, Target: acc.SuccessorID, Relationship: plan.RelPrerequisite, Confidence: acc.Task.Confidence, DetectionMethod: "bridging"},
		}
		candidateIDs := append(append([]string(nil), updated.OrderedTaskIDs...), created.TaskID)
		candidateDeps := append(append([]plan.Dependency(nil), updated.Dependencies...), newEdges...)
		if cyclic, path := plan.HasCycle(candidateIDs, candidateDeps); cyclic {
			rollback()
			return nil, apperr.WithCode(apperr.KindConflict, "CYCLE_DETECTED",
				fmt.Sprintf("insertion would create cycle: %s", strings.Join(path, " -> ")))
		}

		for _, e := range newEdges {
			row := TaskRelationship{
				SourceTaskID:     e.Source,
				TargetTaskID:     e.Target,
				RelationshipType: string(e.Relationship),
				Confidence:       e.Confidence,
			}
			if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
				rollback()
				return nil, err
			}
			insertedEdgeIDs = append(insertedEdgeIDs, row.ID)
		}

		insertBetween(updated, created.TaskID, acc.PredecessorID, acc.SuccessorID)
		updated.Dependencies = append(updated.Dependencies, newEdges...)
		updated.ConfidenceScores[created.TaskID] = acc.Task.Confidence
		doc.GapAnalysis.UserAcceptances = append(doc.GapAnalysis.UserAcceptances, acc)
	}

	doc.GapAnalysis.InsertionResult = &InsertionResult{InsertedTaskIDs: insertedIDs, UpdatedPlan: updated}
	if err := a.sessions.UpdatePlan(ctx, agentSessionID, updated); err != nil {
		rollback()
		return nil, err
	}
	if err := a.sessions.UpdateResult(ctx, agentSessionID, doc); err != nil {
		rollback()
		return nil, err
	}

	return &AcceptResult{InsertedTaskIDs: insertedIDs, UpdatedPlan: updated}, nil
}

func validateAcceptance(acc Acceptance, p *plan.Plan) error {
	fields := map[string]string{}
	if _, err := task.ValidateText(acc.Task.TaskText); err != nil {
		fields["task_text"] = "must be 10-500 characters"
	}
	if acc.Task.EstimatedHours < minBridgeHours || acc.Task.EstimatedHours > maxBridgeHours {
		fields["estimated_hours"] = fmt.Sprintf("must be within [%d,%d]", minBridgeHours, maxBridgeHours)
	}
	if acc.PredecessorID == acc.SuccessorID {
		fields["successor_id"] = "predecessor and successor must differ"
	}
	if p.Position(acc.PredecessorID) < 0 {
		fields["predecessor_id"] = "not in the plan ordering"
	}
	if p.Position(acc.SuccessorID) < 0 {
		fields["successor_id"] = "not in the plan ordering"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid acceptance", fields)
	}
	return nil
}

// insertBetween places newID after the predecessor; if the successor sits
// earlier than that slot the slot before the successor wins, keeping the new
// task strictly between the two whenever the pair is ordered.
func insertBetween(p *plan.Plan, newID, predID, succID string) {
	pos := p.Position(predID) + 1
	if sp := p.Position(succID); sp >= 0 && sp < pos {
		pos = sp
	}
	ids := make([]string, 0, len(p.OrderedTaskIDs)+1)
	ids = append(ids, p.OrderedTaskIDs[:pos]...)
	ids = append(ids, newID)
	ids = append(ids, p.OrderedTaskIDs[pos:]...)
	p.OrderedTaskIDs = ids

	// Join the predecessor's wave so wave membership stays consistent.
	for i, w := range p.ExecutionWaves {
		for _, id := range w.TaskIDs {
			if id == predID {
				p.ExecutionWaves[i].TaskIDs = append(p.ExecutionWaves[i].TaskIDs, newID)
				return
			}
		}
	}
	if len(p.ExecutionWaves) > 0 {
		p.ExecutionWaves[0].TaskIDs = append(p.ExecutionWaves[0].TaskIDs, newID)
	}
}
