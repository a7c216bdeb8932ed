package gap

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"planwise/internal/apperr"
	"planwise/internal/embedding"
	"planwise/internal/scoring"
)

const (
	minTasks = 2
	maxTasks = 100

	cosineDistanceThreshold = 0.45
	gapEmitThreshold        = 0.3
)

// Indicator weights. Their sum bounds confidence at 1.
var indicatorWeights = map[string]float64{
	IndicatorCosineDistance: 0.4,
	IndicatorActionTypeJump: 0.3,
	IndicatorSkillJump:      0.2,
	IndicatorTimeGap:        0.1,
}

var (
	planningVerbs = []string{"research", "plan", "design", "review", "draft", "investigate", "analyze"}
	buildingVerbs = []string{"build", "launch", "ship", "implement", "deploy", "integrate", "create", "release"}
)

// skillFamilies map keyword groups to a dominant discipline.
var skillFamilies = map[string][]string{
	"engineering": {"build", "code", "implement", "deploy", "api", "refactor", "integrate", "database", "bug"},
	"marketing":   {"marketing", "copy", "campaign", "content", "seo", "social", "brand"},
	"research":    {"research", "interview", "survey", "analyze", "study", "benchmark"},
	"operations":  {"hire", "legal", "finance", "budget", "contract", "invoice", "payroll"},
}

// PointReader fetches embedded task points, vectors included.
type PointReader interface {
	GetTasks(ctx context.Context, taskIDs []string) (map[string]*embedding.TaskPoint, error)
}

// Detector finds discontinuities between adjacent tasks in a plan ordering.
type Detector struct {
	points PointReader
	now    func() time.Time
}

func NewDetector(points PointReader) *Detector {
	return &Detector{points: points, now: time.Now}
}

// Detect analyzes every adjacent pair in order. A list of n tasks yields
// exactly n-1 analyzed pairs. Missing embeddings surface as not-found.
func (d *Detector) Detect(ctx context.Context, orderedTaskIDs []string) ([]Gap, DetectionMetadata, error) {
	started := d.now()
	meta := DetectionMetadata{}

	if len(orderedTaskIDs) < minTasks {
		return nil, meta, apperr.Newf(apperr.KindValidation, "need at least %d tasks, got %d", minTasks, len(orderedTaskIDs))
	}
	if len(orderedTaskIDs) > maxTasks {
		return nil, meta, apperr.Newf(apperr.KindValidation, "at most %d tasks per analysis, got %d", maxTasks, len(orderedTaskIDs))
	}

	points, err := d.points.GetTasks(ctx, orderedTaskIDs)
	if err != nil {
		return nil, meta, err
	}

	var gaps []Gap
	for i := 0; i < len(orderedTaskIDs)-1; i++ {
		pred := points[orderedTaskIDs[i]]
		succ := points[orderedTaskIDs[i+1]]
		meta.TotalPairsAnalyzed++

		indicators := analyzePair(pred, succ)
		confidence := 0.0
		for name := range indicators {
			confidence += indicatorWeights[name]
		}
		if confidence > 1 {
			confidence = 1
		}
		if confidence < gapEmitThreshold {
			continue
		}
		gaps = append(gaps, Gap{
			ID:                uuid.New().String(),
			PredecessorTaskID: pred.TaskID,
			SuccessorTaskID:   succ.TaskID,
			Indicators:        indicators,
			Confidence:        confidence,
		})
	}

	meta.GapsDetected = len(gaps)
	meta.AnalysisDurationMS = d.now().Sub(started).Milliseconds()
	return gaps, meta, nil
}

// analyzePair returns the fired indicators with their measured values.
func analyzePair(pred, succ *embedding.TaskPoint) map[string]float64 {
	indicators := map[string]float64{}

	if len(pred.Embedding) > 0 && len(succ.Embedding) > 0 {
		dist := embedding.CosineDistance(pred.Embedding, succ.Embedding)
		if dist > cosineDistanceThreshold {
			indicators[IndicatorCosineDistance] = dist
		}
	}

	predPlanning, predBuilding := verbClass(pred.TaskText)
	succPlanning, succBuilding := verbClass(succ.TaskText)
	if (predPlanning && succBuilding) || (predBuilding && succPlanning) {
		indicators[IndicatorActionTypeJump] = 1
	}

	predSkill := dominantSkill(pred.TaskText)
	succSkill := dominantSkill(succ.TaskText)
	if predSkill != "" && succSkill != "" && predSkill != succSkill {
		indicators[IndicatorSkillJump] = 1
	}

	predHours, predOK := scoring.HeuristicEffort(pred.TaskText)
	succHours, succOK := scoring.HeuristicEffort(succ.TaskText)
	if predOK && succOK && predHours > 0 && succHours >= 4*predHours {
		indicators[IndicatorTimeGap] = succHours / predHours
	}

	return indicators
}

func verbClass(text string) (planning, building bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, v := range planningVerbs {
		if strings.HasPrefix(lower, v) {
			planning = true
			break
		}
	}
	for _, v := range buildingVerbs {
		if strings.HasPrefix(lower, v) {
			building = true
			break
		}
	}
	return planning, building
}

// dominantSkill picks the family with the most keyword hits, empty on a tie
// at zero.
func dominantSkill(text string) string {
	lower := strings.ToLower(text)
	best, bestCount := "", 0
	for family, words := range skillFamilies {
		count := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = family, count
		}
	}
	return best
}
