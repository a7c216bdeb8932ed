package reflection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"planwise/internal/llm"
)

const interpreterTimeout = 5 * time.Second

// Rule patterns for the fast path. The LLM only runs when no rule fires or
// when the classifier is unsure; both paths emit the same intent shape.
var intentRules = []struct {
	intentType string
	strength   float64
	triggers   []string
}{
	{IntentAvoid, 0.8, []string{"ignore", "avoid", "skip", "stop doing", "don't", "do not", "deprioritize", "no more"}},
	{IntentUrgency, 0.9, []string{"urgent", "asap", "immediately", "deadline", "overdue", "right away", "this week"}},
	{IntentConstraint, 0.7, []string{"waiting on", "blocked", "blocked by", "can't until", "cannot until", "on hold", "need approval"}},
	{IntentFocus, 0.8, []string{"focus on", "prioritize", "concentrate on", "double down", "all in on", "most important"}},
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "on": true, "for": true, "to": true,
	"of": true, "and": true, "in": true, "is": true, "it": true, "this": true,
	"that": true, "now": true, "i": true, "we": true, "my": true, "our": true,
	"with": true, "at": true, "be": true, "do": true, "not": true, "don't": true,
}

// Interpreter classifies reflection text into an intent.
type Interpreter struct {
	chat llm.ChatService
}

func NewInterpreter(chat llm.ChatService) *Interpreter {
	return &Interpreter{chat: chat}
}

// Interpret classifies one reflection. Rules answer first; reflections no
// rule matches go to the model with the rule result as fallback on timeout
// or failure.
func (ip *Interpreter) Interpret(ctx context.Context, reflectionID, text string) *ReflectionIntent {
	ruleIntent := classifyByRules(reflectionID, text)
	if ruleIntent.Type != IntentContext {
		return ruleIntent
	}
	if ip.chat == nil {
		return ruleIntent
	}

	callCtx, cancel := context.WithTimeout(ctx, interpreterTimeout)
	defer cancel()

	llmIntent, err := ip.classifyByLLM(callCtx, reflectionID, text)
	if err != nil {
		return ruleIntent
	}
	return llmIntent
}

func classifyByRules(reflectionID, text string) *ReflectionIntent {
	lower := strings.ToLower(text)
	intent := &ReflectionIntent{
		ID:           uuid.New().String(),
		ReflectionID: reflectionID,
		Type:         IntentContext,
		Strength:     0.5,
		Summary:      text,
		Method:       "rules",
	}
	for _, rule := range intentRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(lower, trigger) {
				intent.Type = rule.intentType
				intent.Strength = rule.strength
				intent.Subtype = trigger
				intent.SetKeywords(extractKeywords(lower, trigger))
				return intent
			}
		}
	}
	intent.SetKeywords(extractKeywords(lower, ""))
	return intent
}

// extractKeywords keeps the content words after stripping the trigger phrase.
func extractKeywords(lower, trigger string) []string {
	if trigger != "" {
		lower = strings.Replace(lower, trigger, " ", 1)
	}
	var words []string
	for _, w := range strings.Fields(lower) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		words = append(words, w)
	}
	return words
}

type intentResponse struct {
	Type     string   `json:"type"`
	Subtype  string   `json:"subtype"`
	Keywords []string `json:"keywords"`
	Strength float64  `json:"strength"`
	Duration string   `json:"duration"`
	Summary  string   `json:"summary"`
}

func (ip *Interpreter) classifyByLLM(ctx context.Context, reflectionID, text string) (*ReflectionIntent, error) {
	prompt := fmt.Sprintf(`Classify this user reflection about their work priorities.

REFLECTION: %s

type is one of: focus, avoid, urgency, constraint, context.
keywords are the topical words the reflection is about.
strength in [0,1] measures how strongly the user means it.

Respond ONLY with valid JSON:
{"type": "avoid", "subtype": "", "keywords": ["marketing"], "strength": 0.8, "duration": "", "summary": "..."}`, text)

	var parsed intentResponse
	if err := ip.chat.CompleteJSON(ctx, prompt, &parsed); err != nil {
		return nil, err
	}
	switch parsed.Type {
	case IntentFocus, IntentAvoid, IntentUrgency, IntentConstraint, IntentContext:
	default:
		return nil, fmt.Errorf("unknown intent type %q", parsed.Type)
	}

	intent := &ReflectionIntent{
		ID:           uuid.New().String(),
		ReflectionID: reflectionID,
		Type:         parsed.Type,
		Subtype:      parsed.Subtype,
		Strength:     clamp01(parsed.Strength),
		Duration:     parsed.Duration,
		Summary:      parsed.Summary,
		Method:       "llm",
	}
	intent.SetKeywords(parsed.Keywords)
	return intent, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
