package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/google/uuid"

	"planwise/internal/apperr"
	"planwise/internal/llm"
)

// Extractor turns a knowledge document into embedded candidate tasks.
// PDF/DOCX conversion happens upstream; this accepts markdown or HTML text.
type Extractor struct {
	tasks *Service
	chat  llm.ChatService
}

func NewExtractor(tasks *Service, chat llm.ChatService) *Extractor {
	return &Extractor{tasks: tasks, chat: chat}
}

// ExtractInput is one document to mine for tasks.
type ExtractInput struct {
	UserID      string `json:"user_id"`
	DocumentID  string `json:"document_id"`
	ContentType string `json:"content_type"` // "markdown" or "html"
	Content     string `json:"content"`
}

// ExtractResult reports what was embedded.
type ExtractResult struct {
	DocumentID string          `json:"document_id"`
	Candidates []string        `json:"candidates"`
	Created    []TaskEmbedding `json:"created"`
	Skipped    []string        `json:"skipped"` // candidate texts that failed validation
}

type extractionResponse struct {
	Tasks []struct {
		TaskText string `json:"task_text"`
	} `json:"tasks"`
}

// Extract cleans the document, asks the model for discrete candidate tasks,
// and embeds each valid candidate.
func (e *Extractor) Extract(ctx context.Context, in ExtractInput) (*ExtractResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperr.Validation("empty document", map[string]string{"content": "required"})
	}
	if in.DocumentID == "" {
		in.DocumentID = uuid.New().String()
	}

	text := in.Content
	if in.ContentType == "html" {
		cleaned, err := htmlToText(in.Content)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "could not parse HTML document", err)
		}
		text = cleaned
	}

	prompt := fmt.Sprintf(`Extract discrete, actionable tasks from this document.

Document:
%s

RULES:
1. Each task is one concrete action someone could start working on
2. 10-500 characters each, imperative form ("Ship iOS beta", not "iOS beta shipped")
3. Skip vague aspirations, headings, and duplicate phrasings
4. At most 50 tasks

Respond ONLY with valid JSON:
{"tasks": [{"task_text": "..."}]}`, truncateRunes(text, 8000))

	var parsed extractionResponse
	if err := e.chat.CompleteJSON(ctx, prompt, &parsed); err != nil {
		return nil, fmt.Errorf("task extraction failed: %w", err)
	}

	result := &ExtractResult{DocumentID: in.DocumentID}
	for _, cand := range parsed.Tasks {
		result.Candidates = append(result.Candidates, cand.TaskText)
		created, err := e.tasks.Create(ctx, CreateInput{
			UserID:     in.UserID,
			TaskText:   cand.TaskText,
			DocumentID: in.DocumentID,
			CreatedBy:  "extractor",
		})
		if err != nil {
			if apperr.KindOf(err) == apperr.KindValidation {
				result.Skipped = append(result.Skipped, cand.TaskText)
				continue
			}
			return nil, err
		}
		result.Created = append(result.Created, *created)
	}
	return result, nil
}

// htmlToText strips markup. Readability first for article-shaped documents,
// goquery as the fallback for fragments it rejects.
func htmlToText(htmlContent string) (string, error) {
	article, err := readability.FromReader(strings.NewReader(htmlContent), nil)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.TextContent, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, footer").Remove()
	var b strings.Builder
	doc.Find("h1, h2, h3, h4, p, li, td").Each(func(_ int, sel *goquery.Selection) {
		line := strings.TrimSpace(sel.Text())
		if line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	})
	return b.String(), nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
