// Package memory implements vector.Index in process memory. It backs unit
// tests, the indexer's dev mode, and smoke runs without a Milvus deployment.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ehr-chatbot/backend/internal/vector"
)

// Store keeps items in a map guarded by a RWMutex: concurrent searches share
// the read lock, upserts take the write lock.
type Store struct {
	mu    sync.RWMutex
	items map[string]vector.QAItem
}

func NewStore() *Store {
	return &Store{
		items: make(map[string]vector.QAItem),
	}
}

// Upsert overwrites existing ids instead of duplicating them, matching the
// Milvus backend's semantics.
func (s *Store) Upsert(ctx context.Context, items []vector.QAItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.items[item.ID] = item
	}
	return nil
}

// Search scans every item, scoring with cosine distance (1 - cos) so that
// distances land in [0, 2] like the Milvus COSINE backend.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int, filters map[string]string) ([]vector.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]vector.Match, 0)
	for _, item := range s.items {
		if !matchesFilters(item.Metadata, filters) {
			continue
		}

		matches = append(matches, vector.Match{
			ID:       item.ID,
			Text:     item.Text,
			Metadata: item.Metadata,
			Distance: cosineDistance(queryVector, item.Vector),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Distance < matches[j].Distance
	})

	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.items)), nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[id]
	return ok, nil
}

// Clear removes everything; rebuild support.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]vector.QAItem)
	return nil
}

func matchesFilters(md vector.Metadata, filters map[string]string) bool {
	for field, value := range filters {
		if value == "" {
			continue
		}
		switch field {
		case "condition_id":
			if md.ConditionID != value {
				return false
			}
		case "topic":
			if md.Topic != value {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2
	}

	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
