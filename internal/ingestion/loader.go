// Package ingestion loads Q&A source documents and builds the vector index
// from them. Source documents are JSON files, one or more records each, in
// any of three shapes: a list of records, a single record, or records
// wrapped under a "conditions" key.
package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ehr-chatbot/backend/internal/vector"
	"github.com/ehr-chatbot/backend/pkg/logger"
)

// Item is one normalized source record, still un-embedded.
type Item struct {
	ID       string
	Text     string
	Metadata vector.Metadata
}

type rawItem struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

type Loader struct {
	dataDir string
}

func NewLoader(dataDir string) (*Loader, error) {
	info, err := os.Stat(dataDir)
	if err != nil {
		return nil, fmt.Errorf("data directory not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data path %q is not a directory", dataDir)
	}

	return &Loader{dataDir: dataDir}, nil
}

// LoadFile reads and normalizes one JSON source file.
func (l *Loader) LoadFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	raws, err := normalizeFormat(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	items := make([]Item, 0, len(raws))
	for i, raw := range raws {
		item, err := toItem(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, i, err)
		}
		items = append(items, item)
	}

	logger.Info("Source file loaded",
		zap.String("file", filepath.Base(path)),
		zap.Int("items", len(items)),
	)

	return items, nil
}

// LoadDirectory loads every file in the data directory matching pattern
// (e.g. "*.json"), in sorted file order.
func (l *Loader) LoadDirectory(pattern string) ([]Item, error) {
	if pattern == "" {
		pattern = "*.json"
	}

	paths, err := filepath.Glob(filepath.Join(l.dataDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no source files found matching %q in %s", pattern, l.dataDir)
	}
	sort.Strings(paths)

	var all []Item
	for _, path := range paths {
		items, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}

	logger.Info("Source directory loaded",
		zap.String("dir", l.dataDir),
		zap.Int("files", len(paths)),
		zap.Int("items", len(all)),
	)

	return all, nil
}

// LoadConditions loads the whole directory and keeps only the given
// condition ids.
func (l *Loader) LoadConditions(conditionIDs []string) ([]Item, error) {
	all, err := l.LoadDirectory("*.json")
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(conditionIDs))
	for _, id := range conditionIDs {
		wanted[id] = true
	}

	var filtered []Item
	for _, item := range all {
		if wanted[item.Metadata.ConditionID] {
			filtered = append(filtered, item)
		}
	}

	return filtered, nil
}

// normalizeFormat accepts the three supported JSON shapes and returns a flat
// record list.
func normalizeFormat(data []byte) ([]rawItem, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty document")
	}

	if trimmed[0] == '[' {
		var list []rawItem
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var wrapped struct {
		Conditions []rawItem `json:"conditions"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Conditions != nil {
		return wrapped.Conditions, nil
	}

	var single rawItem
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	if single.ID == "" && single.Text == "" && single.Metadata == nil {
		return nil, fmt.Errorf("unrecognized document shape")
	}
	return []rawItem{single}, nil
}

func toItem(raw rawItem) (Item, error) {
	if raw.ID == "" {
		return Item{}, fmt.Errorf("missing id")
	}
	if raw.Text == "" {
		return Item{}, fmt.Errorf("missing text")
	}

	md := flattenMetadata(raw.Metadata)

	for _, required := range []struct{ key, value string }{
		{"condition_id", md.ConditionID},
		{"condition_name", md.ConditionName},
		{"topic", md.Topic},
		{"question", md.Question},
		{"answer", md.Answer},
	} {
		if required.value == "" {
			return Item{}, fmt.Errorf("missing metadata field %q", required.key)
		}
	}

	return Item{ID: raw.ID, Text: raw.Text, Metadata: md}, nil
}

// flattenMetadata converts the loose JSON metadata mapping into the typed
// scalar metadata the index accepts. List values are comma-joined because
// the index metadata layer is scalar-only.
func flattenMetadata(md map[string]interface{}) vector.Metadata {
	return vector.Metadata{
		ConditionID:   scalarString(md["condition_id"]),
		ConditionName: scalarString(md["condition_name"]),
		Topic:         scalarString(md["topic"]),
		Question:      scalarString(md["question"]),
		Answer:        scalarString(md["answer"]),
		FollowUp:      scalarString(md["follow_up"]),
		RelatedTopics: scalarString(md["related_topics"]),
	}
}

func scalarString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, elem := range v {
			parts = append(parts, scalarString(elem))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// DatasetStats summarizes a loaded item set for the indexer's output.
type DatasetStats struct {
	TotalItems    int
	NumConditions int
	NumTopics     int
	Conditions    []string
	Topics        []string
}

func Stats(items []Item) DatasetStats {
	conditions := make(map[string]bool)
	topics := make(map[string]bool)

	for _, item := range items {
		conditions[item.Metadata.ConditionID] = true
		topics[item.Metadata.Topic] = true
	}

	stats := DatasetStats{
		TotalItems:    len(items),
		NumConditions: len(conditions),
		NumTopics:     len(topics),
	}
	for c := range conditions {
		stats.Conditions = append(stats.Conditions, c)
	}
	for t := range topics {
		stats.Topics = append(stats.Topics, t)
	}
	sort.Strings(stats.Conditions)
	sort.Strings(stats.Topics)

	return stats
}
