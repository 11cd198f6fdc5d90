// Package vector defines the knowledge-base item model and the index
// contract shared by the Milvus and in-memory backends.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// ErrIndexUnavailable means the index backend is unreachable or the
// collection has not been built yet. Fatal at startup; the remediation is
// running the index build.
var ErrIndexUnavailable = errors.New("vector index unavailable: run `indexer build` first")

// Metadata carries the scalar fields stored alongside each vector. The index
// metadata layer accepts scalars only, so RelatedTopics is kept as a
// comma-joined string; ingestion flattens lists on the way in.
type Metadata struct {
	ConditionID   string `json:"condition_id"`
	ConditionName string `json:"condition_name"`
	Topic         string `json:"topic"`
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	FollowUp      string `json:"follow_up,omitempty"`
	RelatedTopics string `json:"related_topics,omitempty"`
}

// QAItem is one knowledge-base entry. Items are created during index build
// and immutable afterwards; a rebuild replaces the whole collection.
type QAItem struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata Metadata
}

// Match is one nearest-neighbor hit. Distance is a cosine distance in
// [0, 2]; lower is closer.
type Match struct {
	ID       string
	Text     string
	Metadata Metadata
	Distance float64
}

// Index is the nearest-neighbor store contract. Implementations hold one
// global collection partitioned at query time by metadata filters, so adding
// a condition never re-indexes the others. All methods are safe for
// concurrent readers; Upsert is expected to run offline (build/rebuild), not
// under query traffic.
type Index interface {
	// Upsert inserts or overwrites items by id. Large batches are chunked
	// internally; a failing chunk aborts the call and the returned error
	// reports how many items had already been written.
	Upsert(ctx context.Context, items []QAItem) error

	// Search returns up to topK matches ordered ascending by distance.
	// filters is an exact-match conjunction over metadata fields; an empty
	// map searches the whole collection.
	Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]Match, error)

	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// FilterFields are the metadata fields Search accepts in its filter
// conjunction.
var FilterFields = []string{"condition_id", "topic"}

// UpsertError reports a partially applied batch upsert: SucceededIDs lists
// the ids written before the failing chunk aborted the call.
type UpsertError struct {
	SucceededIDs []string
	Err          error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert aborted after %d items: %v", len(e.SucceededIDs), e.Err)
}

func (e *UpsertError) Unwrap() error {
	return e.Err
}
