package gap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"planwise/internal/llm"
	"planwise/internal/logging"
)

// CoverageReport is the coverage attachment stored on the session result.
type CoverageReport struct {
	CoveragePct        float64       `json:"coverage_pct"`
	MissingAreas       []string      `json:"missing_areas,omitempty"`
	DraftTasks         []DraftTask   `json:"draft_tasks,omitempty"`
	HypotheticalPct    float64       `json:"hypothetical_pct"`
	BridgingTriggered  bool          `json:"bridging_triggered"`
	AnalysisDurationMS int64         `json:"analysis_duration_ms"`
	CreatedAt          time.Time     `json:"created_at"`
}

// DraftTask is one generated draft for an uncovered area.
type DraftTask struct {
	TaskText       string  `json:"task_text"`
	Area           string  `json:"area"`
	EstimatedHours float64 `json:"estimated_hours"`
	Hash           string  `json:"hash"`
}

// CoveragePipeline generates draft tasks for uncovered areas of the outcome.
// Drafts from multiple passes are deduplicated by hash of normalized text.
type CoveragePipeline struct {
	chat              llm.ChatService
	threshold         float64 // draft generation trigger
	fallbackThreshold float64 // second-pass bridging trigger
	now               func() time.Time
}

func NewCoveragePipeline(chat llm.ChatService, threshold, fallbackThreshold float64) *CoveragePipeline {
	return &CoveragePipeline{
		chat:              chat,
		threshold:         threshold,
		fallbackThreshold: fallbackThreshold,
		now:               time.Now,
	}
}

type coverageResponse struct {
	CoveragePct  float64  `json:"coverage_pct"`
	MissingAreas []string `json:"missing_areas"`
}

type draftResponse struct {
	Tasks []struct {
		TaskText       string  `json:"task_text"`
		EstimatedHours float64 `json:"estimated_hours"`
	} `json:"tasks"`
}

// Analyze measures how much of the outcome the current tasks cover, drafts
// tasks for missing areas below the threshold, and reports whether the
// post-insertion estimate still warrants a bridging pass.
func (c *CoveragePipeline) Analyze(ctx context.Context, outcomeText string, taskTexts []string) (*CoverageReport, error) {
	started := c.now()

	var list strings.Builder
	for _, t := range taskTexts {
		fmt.Fprintf(&list, "- %s\n", t)
	}
	prompt := fmt.Sprintf(`Estimate what fraction of the work needed for this outcome the task list already covers.

OUTCOME: %s

TASKS:
%s
Respond ONLY with valid JSON: {"coverage_pct": 0.65, "missing_areas": ["..."]}`, outcomeText, list.String())

	var cov coverageResponse
	if err := c.chat.CompleteJSON(ctx, prompt, &cov); err != nil {
		return nil, err
	}
	report := &CoverageReport{
		CoveragePct:     clamp01(cov.CoveragePct),
		MissingAreas:    cov.MissingAreas,
		HypotheticalPct: clamp01(cov.CoveragePct),
		CreatedAt:       started,
	}

	if report.CoveragePct >= c.threshold {
		report.AnalysisDurationMS = c.now().Sub(started).Milliseconds()
		c.log(report)
		return report, nil
	}

	seen := map[string]bool{}
	for _, t := range taskTexts {
		seen[NormalizedHash(t)] = true
	}
	for _, area := range cov.MissingAreas {
		drafts, err := c.draftForArea(ctx, outcomeText, area)
		if err != nil {
			continue
		}
		for _, d := range drafts {
			h := NormalizedHash(d.TaskText)
			if seen[h] {
				continue
			}
			seen[h] = true
			d.Hash = h
			d.Area = area
			report.DraftTasks = append(report.DraftTasks, d)
		}
	}

	// Rough post-insertion estimate: each drafted area counts as covered.
	if len(cov.MissingAreas) > 0 {
		gain := (1 - report.CoveragePct) * float64(len(report.DraftTasks)) / float64(len(cov.MissingAreas)*2)
		report.HypotheticalPct = clamp01(report.CoveragePct + gain)
	}
	report.BridgingTriggered = report.HypotheticalPct < c.fallbackThreshold
	report.AnalysisDurationMS = c.now().Sub(started).Milliseconds()
	c.log(report)
	return report, nil
}

func (c *CoveragePipeline) draftForArea(ctx context.Context, outcomeText, area string) ([]DraftTask, error) {
	prompt := fmt.Sprintf(`Draft 1-3 concrete tasks covering this missing area of the outcome.

OUTCOME: %s
MISSING AREA: %s

Respond ONLY with valid JSON: {"tasks": [{"task_text": "...", "estimated_hours": 16}]}`, outcomeText, area)

	var parsed draftResponse
	if err := c.chat.CompleteJSON(ctx, prompt, &parsed); err != nil {
		return nil, err
	}
	var out []DraftTask
	for _, t := range parsed.Tasks {
		if strings.TrimSpace(t.TaskText) == "" {
			continue
		}
		out = append(out, DraftTask{TaskText: t.TaskText, EstimatedHours: t.EstimatedHours})
	}
	return out, nil
}

func (c *CoveragePipeline) log(r *CoverageReport) {
	logging.Event("coverage_analysis_completed", map[string]interface{}{
		"coverage_pct":         r.CoveragePct,
		"hypothetical_pct":     r.HypotheticalPct,
		"draft_tasks":          len(r.DraftTasks),
		"bridging_triggered":   r.BridgingTriggered,
		"analysis_duration_ms": r.AnalysisDurationMS,
	})
}

// NormalizedHash fingerprints a task text for cross-pass deduplication:
// lowercase, collapsed whitespace, SHA-256.
func NormalizedHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
