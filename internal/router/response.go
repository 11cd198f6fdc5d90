package router

import (
	"strings"

	"github.com/ehr-chatbot/backend/internal/retriever"
)

// ResponseType tags the closed set of response variants. Every routed query
// produces exactly one of these five.
type ResponseType string

const (
	TypeDirectAnswer      ResponseType = "direct_answer"
	TypeClarification     ResponseType = "clarification"
	TypeConditionMismatch ResponseType = "condition_mismatch"
	TypeLLMFallback       ResponseType = "llm_fallback"
	TypeNoResults         ResponseType = "no_results"
)

// Response is the tagged union consumed by the presentation layer. Only the
// fields of the tagged variant are populated; everything else stays zero.
// Use the new* constructors, never a raw literal, so each variant carries
// exactly its contract.
type Response struct {
	Type    ResponseType `json:"response_type"`
	Message string       `json:"message,omitempty"`

	// direct_answer
	Answer        string   `json:"answer,omitempty"`
	FollowUp      string   `json:"follow_up,omitempty"`
	RelatedTopics []string `json:"related_topics,omitempty"`
	Source        string   `json:"source,omitempty"`

	// direct_answer and clarification
	Confidence float64 `json:"confidence,omitempty"`

	// clarification: the matched answer is held back from the user and only
	// surfaced once the confirmation prompt is accepted.
	MatchedQuestion string   `json:"matched_question,omitempty"`
	MatchedAnswer   string   `json:"matched_answer,omitempty"`
	Alternatives    []string `json:"alternatives,omitempty"`

	// condition_mismatch
	DetectedConditionID   string `json:"detected_condition_id,omitempty"`
	DetectedConditionName string `json:"detected_condition_name,omitempty"`
	CurrentConditionID    string `json:"current_condition_id,omitempty"`
	Suggestion            string `json:"suggestion,omitempty"`

	// llm_fallback: this engine does not generate; it hands the query and
	// the best weak match to an external generative fallback.
	Query       string                  `json:"query,omitempty"`
	ConditionID string                  `json:"condition_id,omitempty"`
	BestMatch   *retriever.SearchResult `json:"best_match,omitempty"`
	UseLLM      bool                    `json:"use_llm,omitempty"`
}

func newNoResults() *Response {
	return &Response{
		Type:    TypeNoResults,
		Message: msgNoResults,
	}
}

func newDirectAnswer(best retriever.SearchResult) *Response {
	return &Response{
		Type:          TypeDirectAnswer,
		Answer:        best.Metadata.Answer,
		FollowUp:      best.Metadata.FollowUp,
		RelatedTopics: splitTopics(best.Metadata.RelatedTopics),
		Confidence:    best.Similarity,
		Source:        "knowledge_base",
	}
}

func newClarification(best retriever.SearchResult, alternatives []retriever.SearchResult) *Response {
	altQuestions := make([]string, 0, len(alternatives))
	for _, alt := range alternatives {
		altQuestions = append(altQuestions, alt.Metadata.Question)
	}

	return &Response{
		Type:            TypeClarification,
		Message:         msgClarification(best.Metadata.Question),
		MatchedQuestion: best.Metadata.Question,
		MatchedAnswer:   best.Metadata.Answer,
		Confidence:      best.Similarity,
		Alternatives:    altQuestions,
	}
}

func newConditionMismatch(verdict retriever.MismatchVerdict, currentConditionName string) *Response {
	return &Response{
		Type:                  TypeConditionMismatch,
		Message:               msgConditionMismatch(verdict.DetectedConditionName, currentConditionName),
		DetectedConditionID:   verdict.DetectedConditionID,
		DetectedConditionName: verdict.DetectedConditionName,
		CurrentConditionID:    verdict.CurrentConditionID,
		Suggestion:            msgMismatchSuggestion,
	}
}

func newLLMFallback(query, conditionID string, best *retriever.SearchResult) *Response {
	return &Response{
		Type:        TypeLLMFallback,
		Message:     msgLLMFallback,
		Query:       query,
		ConditionID: conditionID,
		BestMatch:   best,
		UseLLM:      true,
	}
}

// splitTopics undoes the comma-join the ingestion applied for the
// scalar-only index metadata layer.
func splitTopics(joined string) []string {
	if joined == "" {
		return nil
	}

	parts := strings.Split(joined, ",")
	topics := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			topics = append(topics, trimmed)
		}
	}
	return topics
}
