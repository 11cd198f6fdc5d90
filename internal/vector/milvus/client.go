// Package milvus implements the vector.Index contract on a Milvus
// collection. One collection holds every condition; queries partition it
// with scalar filter expressions.
package milvus

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/vector"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

const (
	fieldID            = "qa_id"
	fieldEmbedding     = "embedding"
	fieldText          = "text"
	fieldConditionID   = "condition_id"
	fieldConditionName = "condition_name"
	fieldTopic         = "topic"
	fieldQuestion      = "question"
	fieldAnswer        = "answer"
	fieldFollowUp      = "follow_up"
	fieldRelatedTopics = "related_topics"

	// upsertChunkSize bounds a single gRPC request; callers never see the
	// chunking (a failing chunk aborts the whole logical call).
	upsertChunkSize = 1000
)

var outputFields = []string{
	fieldID, fieldText, fieldConditionID, fieldConditionName,
	fieldTopic, fieldQuestion, fieldAnswer, fieldFollowUp, fieldRelatedTopics,
}

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	metricType     entity.MetricType
}

func NewClient(endpoint, collectionName string, vectorDim int, distanceMetric string) (*Client, error) {
	metricType, err := parseMetric(distanceMetric)
	if err != nil {
		return nil, err
	}

	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrIndexUnavailable, err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
		zap.String("metric", string(metricType)),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		metricType:     metricType,
	}, nil
}

func parseMetric(name string) (entity.MetricType, error) {
	switch strings.ToUpper(name) {
	case "COSINE", "":
		return entity.COSINE, nil
	case "L2":
		return entity.L2, nil
	case "IP":
		return entity.IP, nil
	default:
		return "", fmt.Errorf("unsupported distance metric %q", name)
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Ready verifies the collection exists and is loaded. Called once at
// startup; a failure here means the index build has not run.
func (c *Client) Ready(ctx context.Context) error {
	has, err := c.client.HasCollection(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("%w: %v", vector.ErrIndexUnavailable, err)
	}
	if !has {
		return fmt.Errorf("%w: collection %q does not exist", vector.ErrIndexUnavailable, c.collectionName)
	}
	return nil
}

// EnsureCollection creates and loads the collection if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context) error {
	has, err := c.client.HasCollection(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", c.collectionName))
		return nil
	}

	return c.createCollection(ctx)
}

// RecreateCollection drops any existing collection and builds a fresh one.
// Rebuilds run offline; queries against a half-built collection are not
// supported.
func (c *Client) RecreateCollection(ctx context.Context) error {
	has, err := c.client.HasCollection(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		if err := c.client.DropCollection(ctx, c.collectionName); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
		logger.Info("Existing collection dropped", zap.String("collection", c.collectionName))
	}

	return c.createCollection(ctx)
}

func (c *Client) createCollection(ctx context.Context) error {
	schema := &entity.Schema{
		CollectionName: c.collectionName,
		Description:    "Condition-scoped medical Q&A embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", c.vectorDim),
				},
			},
			{
				Name:       fieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "4096"},
			},
			{
				Name:       fieldConditionID,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       fieldConditionName,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:       fieldTopic,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:       fieldQuestion,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2048"},
			},
			{
				Name:       fieldAnswer,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:       fieldFollowUp,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2048"},
			},
			{
				Name:       fieldRelatedTopics,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "1024"},
			},
		},
	}

	if err := c.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(c.metricType, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index definition: %w", err)
	}
	if err := c.client.CreateIndex(ctx, c.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := c.client.LoadCollection(ctx, c.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", c.collectionName))

	return nil
}

// Upsert writes items in chunks of upsertChunkSize. A failing chunk aborts
// the call with a vector.UpsertError listing the ids already written.
func (c *Client) Upsert(ctx context.Context, items []vector.QAItem) error {
	if len(items) == 0 {
		return nil
	}

	for start := 0; start < len(items); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(items) {
			end = len(items)
		}

		if err := c.upsertChunk(ctx, items[start:end]); err != nil {
			succeeded := make([]string, 0, start)
			for _, item := range items[:start] {
				succeeded = append(succeeded, item.ID)
			}
			return &vector.UpsertError{SucceededIDs: succeeded, Err: err}
		}
	}

	if err := c.client.Flush(ctx, c.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Items upserted into vector index",
		zap.Int("count", len(items)),
		zap.String("collection", c.collectionName),
	)

	return nil
}

func (c *Client) upsertChunk(ctx context.Context, items []vector.QAItem) error {
	ids := make([]string, len(items))
	embeddings := make([][]float32, len(items))
	texts := make([]string, len(items))
	conditionIDs := make([]string, len(items))
	conditionNames := make([]string, len(items))
	topics := make([]string, len(items))
	questions := make([]string, len(items))
	answers := make([]string, len(items))
	followUps := make([]string, len(items))
	relatedTopics := make([]string, len(items))

	for i, item := range items {
		ids[i] = item.ID
		embeddings[i] = item.Vector
		texts[i] = item.Text
		conditionIDs[i] = item.Metadata.ConditionID
		conditionNames[i] = item.Metadata.ConditionName
		topics[i] = item.Metadata.Topic
		questions[i] = item.Metadata.Question
		answers[i] = item.Metadata.Answer
		followUps[i] = item.Metadata.FollowUp
		relatedTopics[i] = item.Metadata.RelatedTopics
	}

	_, err := c.client.Upsert(
		ctx,
		c.collectionName,
		"",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, c.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldConditionID, conditionIDs),
		entity.NewColumnVarChar(fieldConditionName, conditionNames),
		entity.NewColumnVarChar(fieldTopic, topics),
		entity.NewColumnVarChar(fieldQuestion, questions),
		entity.NewColumnVarChar(fieldAnswer, answers),
		entity.NewColumnVarChar(fieldFollowUp, followUps),
		entity.NewColumnVarChar(fieldRelatedTopics, relatedTopics),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	return nil
}

func (c *Client) Search(ctx context.Context, queryVector []float32, topK int, filters map[string]string) ([]vector.Match, error) {
	expr := BuildFilterExpr(filters)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := c.client.Search(
		ctx,
		c.collectionName,
		[]string{},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(queryVector)},
		fieldEmbedding,
		c.metricType,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]vector.Match, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			matches = append(matches, vector.Match{
				ID:   columnString(sr.Fields.GetColumn(fieldID), i),
				Text: columnString(sr.Fields.GetColumn(fieldText), i),
				Metadata: vector.Metadata{
					ConditionID:   columnString(sr.Fields.GetColumn(fieldConditionID), i),
					ConditionName: columnString(sr.Fields.GetColumn(fieldConditionName), i),
					Topic:         columnString(sr.Fields.GetColumn(fieldTopic), i),
					Question:      columnString(sr.Fields.GetColumn(fieldQuestion), i),
					Answer:        columnString(sr.Fields.GetColumn(fieldAnswer), i),
					FollowUp:      columnString(sr.Fields.GetColumn(fieldFollowUp), i),
					RelatedTopics: columnString(sr.Fields.GetColumn(fieldRelatedTopics), i),
				},
				Distance: c.scoreToDistance(float64(sr.Scores[i])),
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
		zap.String("filter", expr),
	)

	return matches, nil
}

// scoreToDistance normalizes Milvus scores to the cosine-distance scale the
// retriever's similarity formula is calibrated to. For COSINE and IP Milvus
// returns a similarity (higher is better), so distance = 1 - score in
// [0, 2]. For L2 the score already is a distance.
func (c *Client) scoreToDistance(score float64) float64 {
	switch c.metricType {
	case entity.L2:
		return score
	default:
		return 1 - score
	}
}

func (c *Client) Count(ctx context.Context) (int64, error) {
	stats, err := c.client.GetCollectionStatistics(ctx, c.collectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection statistics: %w", err)
	}

	rowCount, ok := stats["row_count"]
	if !ok {
		return 0, fmt.Errorf("collection statistics missing row_count")
	}

	count, err := strconv.ParseInt(rowCount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse row_count %q: %w", rowCount, err)
	}

	return count, nil
}

func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	expr := fmt.Sprintf(`%s == "%s"`, fieldID, escapeFilterValue(id))

	result, err := c.client.Query(ctx, c.collectionName, nil, expr, []string{fieldID})
	if err != nil {
		return false, fmt.Errorf("failed to query by id: %w", err)
	}

	for _, col := range result {
		if col.Name() == fieldID {
			return col.Len() > 0, nil
		}
	}

	return false, nil
}

// BuildFilterExpr renders an exact-match conjunction over the allowed
// metadata fields as a Milvus boolean expression. Unknown fields are
// ignored; an empty map yields the empty expression (whole collection).
func BuildFilterExpr(filters map[string]string) string {
	var clauses []string
	for _, field := range vector.FilterFields {
		if value, ok := filters[field]; ok && value != "" {
			clauses = append(clauses, fmt.Sprintf(`%s == "%s"`, field, escapeFilterValue(value)))
		}
	}
	return strings.Join(clauses, " && ")
}

func escapeFilterValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"`, `\"`)
}

func columnString(col entity.Column, i int) string {
	if col == nil {
		return ""
	}
	value, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := value.(string)
	return s
}
