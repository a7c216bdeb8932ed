package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"planwise/internal/apperr"
)

// TaskPoint is one embedded task in the vector store.
type TaskPoint struct {
	TaskID     string
	TaskText   string
	DocumentID string
	UserID     string
	Status     string
	IsManual   bool
	CreatedAt  time.Time
	Embedding  []float32
}

// SearchResult is one semantic-search hit.
type SearchResult struct {
	TaskID     string  `json:"task_id"`
	TaskText   string  `json:"task_text"`
	DocumentID string  `json:"document_id"`
	Similarity float64 `json:"similarity"`
}

// Store handles all vector database operations for task embeddings
type Store struct {
	Client         *qdrant.Client
	CollectionName string
}

// NewStore creates a new vector store instance
func NewStore(qdrantURL string, collectionName string, apiKey string) (*Store, error) {
	// Strip http:// or https:// prefix and any port
	qdrantURL = strings.TrimPrefix(qdrantURL, "http://")
	qdrantURL = strings.TrimPrefix(qdrantURL, "https://")

	host := qdrantURL
	if idx := strings.Index(qdrantURL, ":"); idx != -1 {
		host = qdrantURL[:idx]
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   6334, // gRPC port
		APIKey: apiKey,
		UseTLS: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	s := &Store{
		Client:         client,
		CollectionName: collectionName,
	}

	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return s, nil
}

// ensureCollection creates the collection if it doesn't exist
func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.Client.CollectionExists(ctx, s.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.Client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     Dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Payload indexes for efficient filtering
	indexes := []struct {
		field string
		typ   qdrant.PayloadSchemaType
	}{
		{"task_id", qdrant.PayloadSchemaType_Keyword},
		{"user_id", qdrant.PayloadSchemaType_Keyword},
		{"document_id", qdrant.PayloadSchemaType_Keyword},
		{"status", qdrant.PayloadSchemaType_Keyword},
		{"is_manual", qdrant.PayloadSchemaType_Bool},
		{"created_at", qdrant.PayloadSchemaType_Integer},
	}

	for _, idx := range indexes {
		fieldType := qdrant.FieldType(idx.typ)
		_, err = s.Client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.CollectionName,
			FieldName:      idx.field,
			FieldType:      &fieldType,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for %s: %w", idx.field, err)
		}
	}

	return nil
}

// UpsertTask writes one task embedding and its payload.
func (s *Store) UpsertTask(ctx context.Context, tp *TaskPoint) error {
	if tp.TaskID == "" {
		return apperr.New(apperr.KindValidation, "task_id is required")
	}
	if len(tp.Embedding) != Dimensions {
		return apperr.Newf(apperr.KindValidation, "embedding has %d dims, expected %d", len(tp.Embedding), Dimensions)
	}

	payload := map[string]*qdrant.Value{
		"task_id":     qdrant.NewValueString(tp.TaskID),
		"task_text":   qdrant.NewValueString(tp.TaskText),
		"document_id": qdrant.NewValueString(tp.DocumentID),
		"user_id":     qdrant.NewValueString(tp.UserID),
		"status":      qdrant.NewValueString(tp.Status),
		"is_manual":   qdrant.NewValueBool(tp.IsManual),
		"created_at":  qdrant.NewValueInt(tp.CreatedAt.Unix()),
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(tp.TaskID),
		Vectors: qdrant.NewVectors(tp.Embedding...),
		Payload: payload,
	}

	_, err := s.Client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.CollectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "vector upsert failed", err)
	}
	return nil
}

// GetTask fetches one task point by id, embedding included.
func (s *Store) GetTask(ctx context.Context, taskID string) (*TaskPoint, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("task_id", taskID),
		},
	}

	scrollResult, err := s.Client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.CollectionName,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(1)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors: &qdrant.WithVectorsSelector{
			SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "vector lookup failed", err)
	}
	if len(scrollResult) == 0 {
		return nil, apperr.Newf(apperr.KindNotFound, "task embedding not found: %s", taskID)
	}

	tp := pointToTask(scrollResult[0])
	return &tp, nil
}

// GetTasks fetches several task points, erroring on the first missing id.
func (s *Store) GetTasks(ctx context.Context, taskIDs []string) (map[string]*TaskPoint, error) {
	out := make(map[string]*TaskPoint, len(taskIDs))
	for _, id := range taskIDs {
		tp, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = tp
	}
	return out, nil
}

// ListUserTasks scrolls all task points for a user. Archived tasks are
// excluded unless includeArchived is set.
func (s *Store) ListUserTasks(ctx context.Context, userID string, includeArchived bool) ([]*TaskPoint, error) {
	must := []*qdrant.Condition{
		qdrant.NewMatch("user_id", userID),
	}
	filter := &qdrant.Filter{Must: must}
	if !includeArchived {
		filter.MustNot = []*qdrant.Condition{
			qdrant.NewMatch("status", "archived"),
		}
	}

	var offset *qdrant.PointId
	var tasks []*TaskPoint
	for {
		scrollResult, err := s.Client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.CollectionName,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(256)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors: &qdrant.WithVectorsSelector{
				SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "vector scroll failed", err)
		}
		if len(scrollResult) == 0 {
			break
		}
		for _, point := range scrollResult {
			tp := pointToTask(point)
			tasks = append(tasks, &tp)
		}
		if len(scrollResult) < 256 {
			break
		}
		offset = scrollResult[len(scrollResult)-1].Id
	}
	return tasks, nil
}

// SemanticSearch finds the closest task points to a query vector.
func (s *Store) SemanticSearch(ctx context.Context, queryVec []float32, limit int, threshold float64, userID string) ([]SearchResult, error) {
	var filter *qdrant.Filter
	if userID != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("user_id", userID),
			},
		}
	}

	searchResult, err := s.Client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.CollectionName,
		Query:          qdrant.NewQuery(queryVec...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "semantic search failed", err)
	}

	results := make([]SearchResult, 0, len(searchResult))
	for _, point := range searchResult {
		if float64(point.Score) < threshold {
			continue
		}
		results = append(results, SearchResult{
			TaskID:     getString(point.Payload, "task_id"),
			TaskText:   getString(point.Payload, "task_text"),
			DocumentID: getString(point.Payload, "document_id"),
			Similarity: float64(point.Score),
		})
	}
	return results, nil
}

// SetStatus updates the status payload field without rewriting the vector.
func (s *Store) SetStatus(ctx context.Context, taskID, status string) error {
	_, err := s.Client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.CollectionName,
		Payload: map[string]*qdrant.Value{
			"status": qdrant.NewValueString(status),
		},
		PointsSelector: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatch("task_id", taskID)},
				},
			},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "status update failed", err)
	}
	return nil
}

// DeleteTasks removes task points; used by bridging rollback.
func (s *Store) DeleteTasks(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	should := make([]*qdrant.Condition, 0, len(taskIDs))
	for _, id := range taskIDs {
		should = append(should, qdrant.NewMatch("task_id", id))
	}
	_, err := s.Client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.CollectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Should: should},
			},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "vector delete failed", err)
	}
	return nil
}

func pointToTask(point *qdrant.RetrievedPoint) TaskPoint {
	payload := point.Payload
	tp := TaskPoint{
		TaskID:     getString(payload, "task_id"),
		TaskText:   getString(payload, "task_text"),
		DocumentID: getString(payload, "document_id"),
		UserID:     getString(payload, "user_id"),
		Status:     getString(payload, "status"),
		IsManual:   getBool(payload, "is_manual"),
		CreatedAt:  time.Unix(getInt(payload, "created_at"), 0),
	}
	if vectors := point.Vectors.GetVector(); vectors != nil {
		tp.Embedding = vectors.Data
	}
	return tp
}

func getString(payload map[string]*qdrant.Value, key string) string {
	if val, ok := payload[key]; ok {
		return val.GetStringValue()
	}
	return ""
}

func getBool(payload map[string]*qdrant.Value, key string) bool {
	if val, ok := payload[key]; ok {
		return val.GetBoolValue()
	}
	return false
}

func getInt(payload map[string]*qdrant.Value, key string) int64 {
	if val, ok := payload[key]; ok {
		return val.GetIntegerValue()
	}
	return 0
}
